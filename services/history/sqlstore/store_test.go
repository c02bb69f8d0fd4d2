package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
	"voicechat/services/history"
	"voicechat/services/history/historytest"
)

func openSQLite(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_SQLite(t *testing.T) {
	historytest.Run(t, func(t *testing.T) core.HistoryStore {
		return openSQLite(t)
	})
}

func TestStore_ReopenKeepsTranscript(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()
	turns := []core.Turn{{Role: core.RoleUser, Content: "Hi"}, {Role: core.RoleAssistant, Content: "Hello!"}}

	store, err := Open(ctx, SQLite, path)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, core.HistoryKey, turns))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, SQLite, path)
	require.NoError(t, err)
	defer reopened.Close()

	got, found, err := reopened.Get(ctx, core.HistoryKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, turns, got)
}

func TestStore_ShrinkingPutRemovesTail(t *testing.T) {
	store := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "messages", []core.Turn{
		{Role: core.RoleUser, Content: "1"},
		{Role: core.RoleAssistant, Content: "2"},
		{Role: core.RoleUser, Content: "3"},
	}))
	require.NoError(t, store.Put(ctx, "messages", []core.Turn{{Role: core.RoleUser, Content: "only"}}))

	var count int
	require.NoError(t, store.db.QueryRow(`SELECT COUNT(*) FROM chat_turn`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestStore_ClosedDatabaseIsSaveError(t *testing.T) {
	store := openSQLite(t)
	require.NoError(t, store.Close())

	err := store.Put(context.Background(), "messages", nil)
	assert.ErrorIs(t, err, history.ErrSaveFailed)
	assert.ErrorIs(t, err, history.ErrStoreClosed)

	_, _, err = store.Get(context.Background(), "messages")
	assert.ErrorIs(t, err, history.ErrLoadFailed)
	assert.ErrorIs(t, err, history.ErrStoreClosed)

	assert.NoError(t, store.Close())
}

func TestStore_DriverErrorStaysMatchable(t *testing.T) {
	store := openSQLite(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Put(ctx, "messages", []core.Turn{{Role: core.RoleUser, Content: "Hi"}})

	assert.ErrorIs(t, err, history.ErrSaveFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_WrapsExistingHandle(t *testing.T) {
	db, err := sql.Open(SQLite.DriverName, filepath.Join(t.TempDir(), "shared.db"))
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	store, err := New(context.Background(), db, SQLite)
	require.NoError(t, err)
	require.NoError(t, store.Put(context.Background(), "k", []core.Turn{{Role: core.RoleUser, Content: "v"}}))
}

func TestDialect(t *testing.T) {
	d, err := DialectFor("postgresql")
	require.NoError(t, err)
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y = $2", d.bind("SELECT a FROM t WHERE x = ? AND y = ?"))

	d, err = DialectFor("mysql")
	require.NoError(t, err)
	assert.Equal(t, "x = ?", d.bind("x = ?"))

	d, err = DialectFor("")
	require.NoError(t, err)
	assert.Equal(t, SQLite.Name, d.Name)

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}
