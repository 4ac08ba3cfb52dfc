package store

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"tg_group_relay_bot/internal/config"
	"tg_group_relay_bot/internal/domain"
)

func TestNewManagerConnectsAndExposesCollections(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	cfg := config.Config{
		MongoURI: "mongodb://stub-host:27017",
		MongoDB:  "relay_test",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	manager, err := NewManager(ctx, cfg)
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if manager.db.Name() != cfg.MongoDB {
		t.Fatalf("expected database %s, got %s", cfg.MongoDB, manager.db.Name())
	}

	if len(fake.databaseRequests) != 1 || fake.databaseRequests[0] != cfg.MongoDB {
		t.Fatalf("expected database request for %s, got %v", cfg.MongoDB, fake.databaseRequests)
	}

	if manager.Groups().Name() != CollectionGroups {
		t.Fatalf("expected groups collection name %s, got %s", CollectionGroups, manager.Groups().Name())
	}

	if err := manager.Close(ctx); err != nil {
		t.Fatalf("expected clean disconnect, got %v", err)
	}

	if !fake.disconnectCalled {
		t.Fatalf("expected disconnect to be called")
	}
}

func TestNewManagerFailsOnPingAndCleansUp(t *testing.T) {
	fake := newFakeMongoClient(t)
	fake.pingErr = errors.New("ping failed")

	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewManager(ctx, config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err == nil {
		t.Fatalf("expected ping error")
	}

	if !fake.disconnectCalled {
		t.Fatalf("expected disconnect after ping failure")
	}
}

func TestNewManagerPropagatesConnectError(t *testing.T) {
	restore := stubConnect(nil, errors.New("connect failed"))
	t.Cleanup(restore)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewManager(ctx, config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestNewManagerValidatesContext(t *testing.T) {
	_, err := NewManager(nil, config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestManagerCloseRequiresContext(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if err := manager.Close(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestManagerPingChecksConnectivity(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := manager.Ping(ctx); err != nil {
		t.Fatalf("expected ping to succeed, got error: %v", err)
	}

	if fake.pingCalls < 2 {
		t.Fatalf("expected ping to be invoked at least twice (init + explicit), got %d", fake.pingCalls)
	}
	if fake.lastReadPref != "primary" {
		t.Fatalf("expected ping to use primary read preference, got %q", fake.lastReadPref)
	}
}

func TestManagerPingPropagatesErrors(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	errPing := errors.New("ping failed")
	fake.pingErr = errPing

	if err := manager.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping to fail")
	} else if !errors.Is(err, errPing) {
		t.Fatalf("expected ping error to wrap ping failed, got %v", err)
	}
}

func TestManagerPingValidatesContext(t *testing.T) {
	fake := newFakeMongoClient(t)
	restore := stubConnect(fake, nil)
	t.Cleanup(restore)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if err := manager.Ping(nil); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestEnsureIndexesFollowsDedupMode(t *testing.T) {
	tests := []struct {
		mode domain.DedupMode
		name string
		keys []string
	}{
		{mode: domain.DedupByRecord, name: "chat_id_title_unique", keys: []string{"chat_id", "title"}},
		{mode: domain.DedupByID, name: "chat_id_unique", keys: []string{"chat_id"}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.mode), func(t *testing.T) {
			fake := newFakeMongoClient(t)
			restoreConnect := stubConnect(fake, nil)
			t.Cleanup(restoreConnect)

			manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
			if err != nil {
				t.Fatalf("expected manager to initialize, got error: %v", err)
			}

			recorder := newIndexRecorder(t, "")
			restoreIndexes := recorder.stub()
			t.Cleanup(restoreIndexes)

			if err := manager.EnsureIndexes(context.Background(), tt.mode); err != nil {
				t.Fatalf("expected indexes to be created, got error: %v", err)
			}

			if len(recorder.calls) != 1 {
				t.Fatalf("expected 1 index creation call, got %d", len(recorder.calls))
			}
			if recorder.calls[0].collection != CollectionGroups {
				t.Fatalf("expected collection %s, got %s", CollectionGroups, recorder.calls[0].collection)
			}
			assertUniqueIndex(t, recorder.calls[0].models, tt.name, tt.keys...)
		})
	}
}

func TestEnsureIndexesPropagatesErrors(t *testing.T) {
	fake := newFakeMongoClient(t)
	restoreConnect := stubConnect(fake, nil)
	t.Cleanup(restoreConnect)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	recorder := newIndexRecorder(t, CollectionGroups)
	restoreIndexes := recorder.stub()
	t.Cleanup(restoreIndexes)

	err = manager.EnsureIndexes(context.Background(), domain.DedupByRecord)
	if err == nil {
		t.Fatalf("expected error from index creation")
	}
	if !errors.Is(err, errIndexFailure) {
		t.Fatalf("expected error to wrap index failure, got %v", err)
	}
}

func TestEnsureIndexesValidatesContext(t *testing.T) {
	fake := newFakeMongoClient(t)
	restoreConnect := stubConnect(fake, nil)
	t.Cleanup(restoreConnect)

	manager, err := NewManager(context.Background(), config.Config{MongoURI: "mongodb://stub", MongoDB: "relay_test"})
	if err != nil {
		t.Fatalf("expected manager to initialize, got error: %v", err)
	}

	if err := manager.EnsureIndexes(nil, domain.DedupByRecord); err == nil {
		t.Fatalf("expected error for nil context")
	}
}

func TestMongoStoreAddListRemove(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	coll := newFakeGroupCollection(t)
	s := NewMongoStore(coll, nil, domain.DedupByRecord, logrus.NewEntry(hookLogger))
	ctx := context.Background()

	for _, g := range []domain.Group{
		{ID: -1, Title: "One"},
		{ID: -2, Title: "Two"},
		{ID: -1, Title: "One"},
		{ID: -1, Title: "Renamed"},
	} {
		if err := s.Add(ctx, g); err != nil {
			t.Fatalf("Add(%v) returned error: %v", g, err)
		}
	}

	groups, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []domain.Group{{ID: -1, Title: "One"}, {ID: -2, Title: "Two"}, {ID: -1, Title: "Renamed"}}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("List() = %v, want %v", groups, want)
	}

	if err := s.Remove(ctx, -1); err != nil {
		t.Fatalf("Remove returned error: %v", err)
	}

	groups, err = s.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want = []domain.Group{{ID: -2, Title: "Two"}}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("List() after remove = %v, want %v", groups, want)
	}

	if len(coll.upsertFilters) != 4 {
		t.Fatalf("expected 4 upserts, got %d", len(coll.upsertFilters))
	}
	if _, ok := coll.upsertFilters[0]["title"]; !ok {
		t.Fatalf("expected record dedup to filter on title, got %v", coll.upsertFilters[0])
	}
}

func TestMongoStoreDedupByIDFiltersOnChatIDOnly(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	coll := newFakeGroupCollection(t)
	s := NewMongoStore(coll, nil, domain.DedupByID, logrus.NewEntry(hookLogger))
	ctx := context.Background()

	if err := s.Add(ctx, domain.Group{ID: -1, Title: "One"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}
	if err := s.Add(ctx, domain.Group{ID: -1, Title: "Renamed"}); err != nil {
		t.Fatalf("Add returned error: %v", err)
	}

	groups, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	want := []domain.Group{{ID: -1, Title: "One"}}
	if !reflect.DeepEqual(groups, want) {
		t.Fatalf("List() = %v, want %v", groups, want)
	}

	if _, ok := coll.upsertFilters[0]["title"]; ok {
		t.Fatalf("expected id dedup not to filter on title, got %v", coll.upsertFilters[0])
	}
}

func TestMongoStorePropagatesErrors(t *testing.T) {
	hookLogger, _ := logtest.NewNullLogger()
	coll := newFakeGroupCollection(t)
	coll.err = errors.New("mongo down")
	s := NewMongoStore(coll, nil, domain.DedupByRecord, logrus.NewEntry(hookLogger))
	ctx := context.Background()

	if _, err := s.List(ctx); !errors.Is(err, coll.err) {
		t.Fatalf("expected List to wrap %v, got %v", coll.err, err)
	}
	if err := s.Add(ctx, domain.Group{ID: -1, Title: "One"}); !errors.Is(err, coll.err) {
		t.Fatalf("expected Add to wrap %v, got %v", coll.err, err)
	}
	if err := s.Remove(ctx, -1); !errors.Is(err, coll.err) {
		t.Fatalf("expected Remove to wrap %v, got %v", coll.err, err)
	}
	if err := s.Ping(ctx); err == nil {
		t.Fatalf("expected Ping without connection to fail")
	}
}

type fakeGroupCollection struct {
	t             *testing.T
	docs          []bson.M
	upsertFilters []bson.M
	err           error
}

func newFakeGroupCollection(t *testing.T) *fakeGroupCollection {
	t.Helper()
	return &fakeGroupCollection{t: t}
}

func (f *fakeGroupCollection) Find(_ context.Context, _ interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	if f.err != nil {
		return nil, f.err
	}

	docs := make([]interface{}, 0, len(f.docs))
	for _, doc := range f.docs {
		docs = append(docs, doc)
	}

	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func (f *fakeGroupCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	if f.err != nil {
		return nil, f.err
	}

	filterDoc, ok := filter.(bson.M)
	if !ok {
		f.t.Fatalf("unexpected filter type %T", filter)
	}
	updateDoc, ok := update.(bson.M)
	if !ok {
		f.t.Fatalf("unexpected update type %T", update)
	}
	if len(opts) == 0 || opts[0] == nil || opts[0].Upsert == nil || !*opts[0].Upsert {
		f.t.Fatalf("expected upsert option")
	}

	f.upsertFilters = append(f.upsertFilters, filterDoc)

	for _, doc := range f.docs {
		if matches(doc, filterDoc) {
			return &mongo.UpdateResult{MatchedCount: 1}, nil
		}
	}

	insert, _ := updateDoc["$setOnInsert"].(bson.M)
	doc := bson.M{}
	for k, v := range insert {
		doc[k] = v
	}
	f.docs = append(f.docs, doc)

	return &mongo.UpdateResult{UpsertedCount: 1}, nil
}

func (f *fakeGroupCollection) DeleteMany(_ context.Context, filter interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	if f.err != nil {
		return nil, f.err
	}

	filterDoc, ok := filter.(bson.M)
	if !ok {
		f.t.Fatalf("unexpected filter type %T", filter)
	}

	kept := f.docs[:0]
	var deleted int64
	for _, doc := range f.docs {
		if matches(doc, filterDoc) {
			deleted++
			continue
		}
		kept = append(kept, doc)
	}
	f.docs = kept

	return &mongo.DeleteResult{DeletedCount: deleted}, nil
}

func matches(doc, filter bson.M) bool {
	for k, v := range filter {
		if doc[k] != v {
			return false
		}
	}
	return true
}

type fakeMongoClient struct {
	client           *mongo.Client
	pingErr          error
	disconnectErr    error
	disconnectCalled bool
	databaseRequests []string
	pingCalls        int
	lastReadPref     string
}

func newFakeMongoClient(t *testing.T) *fakeMongoClient {
	t.Helper()

	client, err := mongo.NewClient(options.Client().ApplyURI("mongodb://example.com:27017"))
	if err != nil {
		t.Fatalf("failed to build fake client: %v", err)
	}

	return &fakeMongoClient{client: client}
}

func (f *fakeMongoClient) Ping(_ context.Context, rp *readpref.ReadPref) error {
	f.pingCalls++
	if rp != nil {
		f.lastReadPref = rp.String()
	}
	return f.pingErr
}

func (f *fakeMongoClient) Database(name string, opts ...*options.DatabaseOptions) *mongo.Database {
	f.databaseRequests = append(f.databaseRequests, name)
	return f.client.Database(name, opts...)
}

func (f *fakeMongoClient) Disconnect(context.Context) error {
	f.disconnectCalled = true
	return f.disconnectErr
}

func stubConnect(fake mongoClient, err error) func() {
	prev := connectMongo
	connectMongo = func(context.Context, *options.ClientOptions) (mongoClient, error) {
		return fake, err
	}

	return func() {
		connectMongo = prev
	}
}

var errIndexFailure = errors.New("index failure")

type indexCall struct {
	collection string
	models     []mongo.IndexModel
}

type indexRecorder struct {
	t               *testing.T
	calls           []indexCall
	errorCollection string
}

func newIndexRecorder(t *testing.T, errorCollection string) *indexRecorder {
	t.Helper()
	return &indexRecorder{t: t, errorCollection: errorCollection}
}

func (r *indexRecorder) stub() func() {
	prev := createIndexes
	createIndexes = func(ctx context.Context, coll *mongo.Collection, models []mongo.IndexModel) ([]string, error) {
		r.calls = append(r.calls, indexCall{collection: coll.Name(), models: models})
		if r.errorCollection == coll.Name() {
			return nil, errIndexFailure
		}
		return []string{coll.Name() + "_idx"}, nil
	}

	return func() {
		createIndexes = prev
	}
}

func assertUniqueIndex(t *testing.T, models []mongo.IndexModel, name string, keys ...string) {
	t.Helper()

	if len(models) != 1 {
		t.Fatalf("expected 1 index model, got %d", len(models))
	}

	keysDoc, ok := models[0].Keys.(bson.D)
	if !ok {
		t.Fatalf("expected bson.D keys, got %T", models[0].Keys)
	}

	if len(keysDoc) != len(keys) {
		t.Fatalf("expected index keys %v, got %v", keys, keysDoc)
	}
	for i, key := range keys {
		if keysDoc[i].Key != key {
			t.Fatalf("expected index keys %v, got %v", keys, keysDoc)
		}
	}

	if models[0].Options == nil || models[0].Options.Unique == nil || !*models[0].Options.Unique {
		t.Fatalf("expected unique option for %v", keys)
	}

	if models[0].Options.Name == nil || *models[0].Options.Name != name {
		t.Fatalf("expected index name %s, got %v", name, models[0].Options.Name)
	}
}
