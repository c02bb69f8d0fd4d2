package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"voicechat/core"
	"voicechat/services/history"
)

// Store keeps transcripts in a relational database, one row per turn.
// A chat_history row marks the key as present even when it has no turns.
type Store struct {
	db      *sql.DB
	dialect Dialect
	closed  atomic.Bool
}

// Open connects to dsn with the dialect's driver and creates the tables.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(dialect.DriverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", dialect.Name)
	}
	if dialect.Name == SQLite.Name {
		// One writer at a time; avoids SQLITE_BUSY under concurrent Put.
		db.SetMaxOpenConns(1)
	}
	store := &Store{db: db, dialect: dialect}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing handle. The caller owns db.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Store, error) {
	store := &Store{db: db, dialect: dialect}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate(ctx context.Context) error {
	if s.dialect.Name == SQLite.Name {
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return errors.Wrap(err, "enable foreign keys")
		}
	}
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "migrate %s", s.dialect.Name)
		}
	}
	return nil
}

// Close releases the database. Later calls to Get and Put fail with
// history.ErrStoreClosed.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]core.Turn, bool, error) {
	if err := history.ValidateKey(key); err != nil {
		return nil, false, err
	}
	if s.closed.Load() {
		return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, history.ErrStoreClosed)
	}

	var updated int64
	err := s.db.QueryRowContext(ctx,
		s.dialect.bind(`SELECT updated_ts FROM chat_history WHERE history_key = ?`), key).Scan(&updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.dialect.bind(`SELECT role, content FROM chat_turn WHERE history_key = ? ORDER BY seq`), key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, err)
	}
	defer rows.Close()

	turns := []core.Turn{}
	for rows.Next() {
		var turn core.Turn
		if err := rows.Scan(&turn.Role, &turn.Content); err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, err)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, err)
	}
	return turns, true, nil
}

// Put replaces the stored list for key in one transaction.
func (s *Store) Put(ctx context.Context, key string, turns []core.Turn) error {
	if err := history.ValidateKey(key); err != nil {
		return err
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, history.ErrStoreClosed)
	}
	if err := s.put(ctx, key, turns); err != nil {
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}
	return nil
}

func (s *Store) put(ctx context.Context, key string, turns []core.Turn) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, s.dialect.upsert, key, time.Now().Unix()); err != nil {
		return errors.Wrap(err, "upsert history")
	}
	if _, err = tx.ExecContext(ctx, s.dialect.bind(`DELETE FROM chat_turn WHERE history_key = ?`), key); err != nil {
		return errors.Wrap(err, "delete turns")
	}

	if len(turns) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			s.dialect.bind(`INSERT INTO chat_turn (history_key, seq, role, content) VALUES (?, ?, ?, ?)`))
		if err != nil {
			return errors.Wrap(err, "prepare insert")
		}
		defer stmt.Close()
		for i, turn := range turns {
			if _, err := stmt.ExecContext(ctx, key, i, turn.Role, turn.Content); err != nil {
				return errors.Wrapf(err, "insert turn %d", i)
			}
		}
	}

	return errors.Wrap(tx.Commit(), "commit")
}
