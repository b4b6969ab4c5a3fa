package ingest

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DreamThemeGH/mqtt-history-injector/common/config"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/models"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/repository"
	"github.com/DreamThemeGH/mqtt-history-injector/internal/timestamp"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2023, 4, 20, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

const haSchema = `
CREATE TABLE state_attributes (
	attributes_id INTEGER PRIMARY KEY AUTOINCREMENT,
	shared_attrs TEXT
);
CREATE TABLE states (
	state_id INTEGER PRIMARY KEY AUTOINCREMENT,
	entity_id VARCHAR(255),
	state VARCHAR(255),
	last_changed TEXT,
	last_updated TEXT,
	old_state_id INTEGER,
	attributes_id INTEGER
);
`

// testDB 临时 SQLite 记录器数据库
type testDB struct {
	path  string
	store *repository.Store
	db    *sql.DB
}

func newTestDB(t *testing.T) *testDB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "home-assistant_v2.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(haSchema)
	require.NoError(t, err)

	store, err := repository.NewStore(config.DatabaseConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)

	return &testDB{path: path, store: store, db: db}
}

func (d *testDB) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, d.db.QueryRow(query, args...).Scan(&n))
	return n
}

func (d *testDB) seed(t *testing.T, entityID string) {
	t.Helper()
	sess, err := d.store.Acquire(context.Background())
	require.NoError(t, err)
	defer sess.Close()
	_, err = sess.States.AppendObservation(context.Background(), repository.Observation{
		EntityID: entityID,
		State:    "20",
		Instant:  fixedNow.Add(-48 * time.Hour),
	})
	require.NoError(t, err)
}

// fakeProvisioner 记录调用并返回预设错误
type fakeProvisioner struct {
	mu    sync.Mutex
	err   error
	calls []provisionCall
}

type provisionCall struct {
	entityID   string
	attributes map[string]any
}

func (f *fakeProvisioner) Provision(_ context.Context, entityID string, attributes map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, provisionCall{entityID: entityID, attributes: attributes})
	return f.err
}

// fakeSink 收集发布的事件
type fakeSink struct {
	err    error
	events []models.ObservationEvent
}

func (f *fakeSink) Publish(_ context.Context, event models.ObservationEvent) error {
	f.events = append(f.events, event)
	return f.err
}

type pipelineOption func(*pipelineSetup)

type pipelineSetup struct {
	provisioner   Provisioner
	createMissing bool
	strict        bool
	sink          ObservationSink
	store         SessionSource
}

func withProvisioner(p Provisioner) pipelineOption {
	return func(s *pipelineSetup) { s.provisioner = p }
}

func withoutCreation() pipelineOption {
	return func(s *pipelineSetup) { s.createMissing = false }
}

func withStrict() pipelineOption {
	return func(s *pipelineSetup) { s.strict = true }
}

func withSink(sink ObservationSink) pipelineOption {
	return func(s *pipelineSetup) { s.sink = sink }
}

func withStore(store SessionSource) pipelineOption {
	return func(s *pipelineSetup) { s.store = store }
}

func newTestPipeline(d *testDB, opts ...pipelineOption) *Pipeline {
	setup := pipelineSetup{createMissing: true, store: d.store}
	for _, opt := range opts {
		opt(&setup)
	}

	logger := zap.NewNop()
	resolver := NewEntityResolver(setup.provisioner, setup.createMissing, nil, clock, logger)
	normalizer := timestamp.NewNormalizer(30, timestamp.WithClock(clock))

	return NewPipeline(setup.store, resolver, normalizer, setup.sink, nil, Options{
		DefaultEntityIDPrefix: "sensor.",
		StrictEntities:        setup.strict,
		Now:                   clock,
	}, logger)
}
