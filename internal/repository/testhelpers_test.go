package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DreamThemeGH/mqtt-history-injector/common/config"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// haSchema Home Assistant 记录器的精简表结构
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
CREATE INDEX ix_states_entity_id ON states (entity_id);
`

// newTestStore 创建带 HA 表结构的临时 SQLite 数据库
func newTestStore(t *testing.T, ddl ...string) (*Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "home-assistant_v2.db")
	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	defer db.Close()

	if len(ddl) == 0 {
		ddl = []string{haSchema}
	}
	for _, stmt := range ddl {
		_, err = db.Exec(stmt)
		require.NoError(t, err)
	}

	store, err := NewStore(config.DatabaseConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	return store, path
}

func acquire(t *testing.T, store *Store) *Session {
	t.Helper()
	sess, err := store.Acquire(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sess.Close() })
	return sess
}

func countRows(t *testing.T, sess *Session, table string) int {
	t.Helper()
	var n int
	require.NoError(t, sess.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}
