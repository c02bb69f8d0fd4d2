package sqlstore

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between the supported databases.
type Dialect struct {
	Name       string
	DriverName string
	schema     []string
	upsert     string
	numbered   bool // $1 style placeholders instead of ?
}

var (
	SQLite = Dialect{
		Name:       "sqlite",
		DriverName: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS chat_history (
				history_key TEXT    NOT NULL PRIMARY KEY,
				updated_ts  INTEGER NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_turn (
				history_key TEXT    NOT NULL REFERENCES chat_history(history_key) ON DELETE CASCADE,
				seq         INTEGER NOT NULL,
				role        TEXT    NOT NULL,
				content     TEXT    NOT NULL,
				PRIMARY KEY (history_key, seq)
			)`,
		},
		upsert: `INSERT INTO chat_history (history_key, updated_ts) VALUES (?, ?)
		         ON CONFLICT(history_key) DO UPDATE SET updated_ts = excluded.updated_ts`,
	}

	MySQL = Dialect{
		Name:       "mysql",
		DriverName: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS chat_history (
				history_key VARCHAR(191) NOT NULL PRIMARY KEY,
				updated_ts  BIGINT       NOT NULL
			) CHARACTER SET utf8mb4`,
			`CREATE TABLE IF NOT EXISTS chat_turn (
				history_key VARCHAR(191) NOT NULL,
				seq         INT          NOT NULL,
				role        VARCHAR(32)  NOT NULL,
				content     MEDIUMTEXT   NOT NULL,
				PRIMARY KEY (history_key, seq),
				FOREIGN KEY (history_key) REFERENCES chat_history(history_key) ON DELETE CASCADE
			) CHARACTER SET utf8mb4`,
		},
		upsert: `INSERT INTO chat_history (history_key, updated_ts) VALUES (?, ?)
		         ON DUPLICATE KEY UPDATE updated_ts = VALUES(updated_ts)`,
	}

	Postgres = Dialect{
		Name:       "postgres",
		DriverName: "postgres",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS chat_history (
				history_key TEXT   NOT NULL PRIMARY KEY,
				updated_ts  BIGINT NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS chat_turn (
				history_key TEXT    NOT NULL REFERENCES chat_history(history_key) ON DELETE CASCADE,
				seq         INTEGER NOT NULL,
				role        TEXT    NOT NULL,
				content     TEXT    NOT NULL,
				PRIMARY KEY (history_key, seq)
			)`,
		},
		upsert: `INSERT INTO chat_history (history_key, updated_ts) VALUES ($1, $2)
		         ON CONFLICT (history_key) DO UPDATE SET updated_ts = EXCLUDED.updated_ts`,
		numbered: true,
	}
)

// DialectFor maps a settings driver name to its dialect.
func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported history driver %q", driver)
	}
}

// placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) placeholder(n int) string {
	if d.numbered {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// bind rewrites ? placeholders in query for this dialect.
func (d Dialect) bind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(d.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
