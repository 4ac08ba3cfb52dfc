package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_group_relay_bot/internal/config"
	"tg_group_relay_bot/internal/domain"
	"tg_group_relay_bot/internal/logging"
)

// CollectionGroups holds one document per stored group.
const CollectionGroups = "groups"

// mongoClient captures the subset of mongo.Client behavior we rely on to allow
// lightweight stubbing in tests without a live Mongo deployment.
type mongoClient interface {
	Ping(context.Context, *readpref.ReadPref) error
	Database(string, ...*options.DatabaseOptions) *mongo.Database
	Disconnect(context.Context) error
}

// connectMongo is overridable for tests.
var connectMongo = func(ctx context.Context, opts *options.ClientOptions) (mongoClient, error) {
	return mongo.Connect(ctx, opts)
}

// createIndexes is overridable for tests.
var createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
	return coll.Indexes().CreateMany(ctx, models)
}

// Manager owns a MongoDB client and the configured database handle.
type Manager struct {
	client mongoClient
	db     *mongo.Database
}

// NewManager initializes the Mongo client using the supplied configuration and
// verifies connectivity with a ping.
func NewManager(ctx context.Context, cfg config.Config) (*Manager, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}

	client, err := connectMongo(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	return &Manager{
		client: client,
		db:     client.Database(cfg.MongoDB),
	}, nil
}

// Groups returns the groups collection handle.
func (m *Manager) Groups() *mongo.Collection {
	return m.db.Collection(CollectionGroups)
}

// Ping checks connectivity against the primary.
func (m *Manager) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.client == nil {
		return errors.New("store manager is not initialized")
	}

	if err := m.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("ping mongo: %w", err)
	}

	return nil
}

// EnsureIndexes creates the unique index backing the dedup policy. Under
// DedupByRecord the pair (chat_id, title) is unique; under DedupByID chat_id
// alone is.
func (m *Manager) EnsureIndexes(ctx context.Context, mode domain.DedupMode) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if m == nil || m.db == nil {
		return errors.New("store manager is not initialized")
	}

	model := mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}, {Key: "title", Value: 1}},
		Options: options.Index().SetName("chat_id_title_unique").SetUnique(true),
	}
	if mode == domain.DedupByID {
		model = mongo.IndexModel{
			Keys:    bson.D{{Key: "chat_id", Value: 1}},
			Options: options.Index().SetName("chat_id_unique").SetUnique(true),
		}
	}

	if _, err := createIndexes(ctx, m.Groups(), []mongo.IndexModel{model}); err != nil {
		return fmt.Errorf("create groups indexes: %w", err)
	}

	return nil
}

// GroupStore returns a MongoStore over the groups collection.
func (m *Manager) GroupStore(mode domain.DedupMode, logger *logrus.Entry) *MongoStore {
	return NewMongoStore(m.Groups(), m, mode, logger)
}

// Close disconnects the Mongo client.
func (m *Manager) Close(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return m.client.Disconnect(ctx)
}

type groupCollection interface {
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
	DeleteMany(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

type connection interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// MongoStore implements GroupStore on a MongoDB collection. Documents carry
// an added_at timestamp used to keep insertion order.
type MongoStore struct {
	groups groupCollection
	conn   connection
	dedup  domain.DedupMode
	logger *logrus.Entry
}

// NewMongoStore constructs a MongoStore. conn may be nil when the caller
// manages the connection lifecycle itself.
func NewMongoStore(groups groupCollection, conn connection, dedup domain.DedupMode, logger *logrus.Entry) *MongoStore {
	if logger == nil {
		logger = logging.Logger()
	}
	if dedup == "" {
		dedup = domain.DedupByRecord
	}

	return &MongoStore{
		groups: groups,
		conn:   conn,
		dedup:  dedup,
		logger: logger,
	}
}

// List returns all groups ordered by when they were added.
func (s *MongoStore) List(ctx context.Context) ([]domain.Group, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	cursor, err := s.groups.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "added_at", Value: 1}, {Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("find groups: %w", err)
	}

	groups := make([]domain.Group, 0)
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}

	return groups, nil
}

// Add upserts the group. The filter follows the dedup policy so an existing
// equivalent document is left untouched.
func (s *MongoStore) Add(ctx context.Context, group domain.Group) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	filter := bson.M{"chat_id": group.ID}
	if s.dedup == domain.DedupByRecord {
		filter["title"] = group.Title
	}

	update := bson.M{
		"$setOnInsert": bson.M{
			"chat_id":  group.ID,
			"title":    group.Title,
			"added_at": time.Now().UTC().Truncate(time.Millisecond),
		},
	}

	result, err := s.groups.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}

	s.logger.WithFields(logging.Fields{
		"event":    "store_group_added",
		"chat_id":  group.ID,
		"title":    group.Title,
		"upserted": result != nil && result.UpsertedCount > 0,
	}).Debug("group stored")

	return nil
}

// Remove deletes every document with the given chat id.
func (s *MongoStore) Remove(ctx context.Context, id int64) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	result, err := s.groups.DeleteMany(ctx, bson.M{"chat_id": id})
	if err != nil {
		return fmt.Errorf("delete group: %w", err)
	}

	var removed int64
	if result != nil {
		removed = result.DeletedCount
	}

	s.logger.WithFields(logging.Fields{
		"event":   "store_group_removed",
		"chat_id": id,
		"removed": removed,
	}).Debug("group removed")

	return nil
}

// Ping checks the underlying connection.
func (s *MongoStore) Ping(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if s == nil || s.conn == nil {
		return errors.New("mongo store has no connection")
	}

	return s.conn.Ping(ctx)
}

// Close releases the underlying connection.
func (s *MongoStore) Close(ctx context.Context) error {
	if s == nil || s.conn == nil {
		return nil
	}

	return s.conn.Close(ctx)
}

func (s *MongoStore) check(ctx context.Context) error {
	if s == nil || s.groups == nil {
		return errors.New("mongo store is not initialized")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	return nil
}
