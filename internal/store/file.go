package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"tg_group_relay_bot/internal/domain"
	"tg_group_relay_bot/internal/logging"
)

const dataFileMode = 0o644

// FileStore keeps every group in one JSON array file. Each mutation reads the
// whole file, applies the change and overwrites it. The mutex only serializes
// callers inside this process.
type FileStore struct {
	path   string
	dedup  domain.DedupMode
	logger *logrus.Entry
	mu     sync.Mutex
}

// NewFileStore constructs a FileStore backed by path.
func NewFileStore(path string, dedup domain.DedupMode, logger *logrus.Entry) *FileStore {
	if logger == nil {
		logger = logging.Logger()
	}
	if dedup == "" {
		dedup = domain.DedupByRecord
	}

	return &FileStore{
		path:   path,
		dedup:  dedup,
		logger: logger,
	}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// List returns the stored groups. A missing, unreadable or malformed file
// yields an empty list and no error.
func (s *FileStore) List(ctx context.Context) ([]domain.Group, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(), nil
}

// Add appends group and rewrites the file with duplicates removed.
func (s *FileStore) Add(ctx context.Context, group domain.Group) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	groups := s.dedup.Dedup(append(s.read(), group))
	if err := s.write(groups); err != nil {
		return err
	}

	s.logger.WithFields(logging.Fields{
		"event":   "store_group_added",
		"chat_id": group.ID,
		"title":   group.Title,
		"groups":  len(groups),
	}).Debug("group stored")

	return nil
}

// Remove rewrites the file without any group matching id.
func (s *FileStore) Remove(ctx context.Context, id int64) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	before := s.read()
	groups := domain.WithoutID(before, id)
	if err := s.write(groups); err != nil {
		return err
	}

	s.logger.WithFields(logging.Fields{
		"event":   "store_group_removed",
		"chat_id": id,
		"removed": len(before) - len(groups),
	}).Debug("group removed")

	return nil
}

// Ping checks that the directory holding the data file exists.
func (s *FileStore) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat data dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("data dir %s is not a directory", dir)
	}

	return nil
}

// Close is a no-op; the file is not held open between calls.
func (s *FileStore) Close(context.Context) error {
	return nil
}

func (s *FileStore) read() []domain.Group {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		entry := s.logger.WithFields(logging.Fields{
			"event": "store_read_failed",
			"path":  s.path,
		}).WithError(err)
		if errors.Is(err, os.ErrNotExist) {
			entry.Debug("groups file missing, treating as empty")
		} else {
			entry.Warn("groups file unreadable, treating as empty")
		}
		return []domain.Group{}
	}

	var groups []domain.Group
	if err := json.Unmarshal(raw, &groups); err != nil {
		s.logger.WithFields(logging.Fields{
			"event": "store_parse_failed",
			"path":  s.path,
		}).WithError(err).Warn("groups file malformed, treating as empty")
		return []domain.Group{}
	}
	if groups == nil {
		return []domain.Group{}
	}

	return groups
}

func (s *FileStore) write(groups []domain.Group) error {
	if groups == nil {
		groups = []domain.Group{}
	}

	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("encode groups: %w", err)
	}

	if err := os.WriteFile(s.path, raw, dataFileMode); err != nil {
		return fmt.Errorf("write groups file: %w", err)
	}

	return nil
}
