// Package store persists the list of groups the bot belongs to, either in a
// single JSON file or in a MongoDB collection.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/config"
	"tg_group_relay_bot/internal/domain"
	"tg_group_relay_bot/internal/logging"
)

// GroupStore is the persistence contract shared by every backend.
type GroupStore interface {
	// List returns all groups in insertion order.
	List(ctx context.Context) ([]domain.Group, error)
	// Add stores the group unless an equivalent record already exists.
	Add(ctx context.Context, group domain.Group) error
	// Remove deletes every group with the given id. Absent ids are a no-op.
	Remove(ctx context.Context, id int64) error
	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Backend is a GroupStore that owns resources released on shutdown.
type Backend interface {
	GroupStore
	Close(ctx context.Context) error
}

// Open builds the backend selected by cfg.StoreBackend. For MongoDB it
// connects, pings and ensures indexes before returning.
func Open(ctx context.Context, cfg config.Config, logger *logrus.Entry) (Backend, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	mode, err := domain.ParseDedupMode(cfg.DedupBy)
	if err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case config.BackendFile, "":
		fs := NewFileStore(cfg.DataFile, mode, logger)
		logger.WithFields(logging.Fields{
			"event":    "store_open",
			"backend":  config.BackendFile,
			"path":     fs.Path(),
			"dedup_by": mode,
		}).Info("using json file group store")
		return fs, nil
	case config.BackendMongo:
		manager, err := NewManager(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := manager.EnsureIndexes(ctx, mode); err != nil {
			_ = manager.Close(ctx)
			return nil, err
		}
		logger.WithFields(logging.Fields{
			"event":    "store_open",
			"backend":  config.BackendMongo,
			"database": cfg.MongoDB,
			"dedup_by": mode,
		}).Info("using mongo group store")
		return manager.GroupStore(mode, logger), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
