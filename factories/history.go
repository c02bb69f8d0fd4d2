package factories

import (
	"context"
	"errors"
	"fmt"

	"voicechat/core"
	"voicechat/services/history/filestore"
	"voicechat/services/history/memory"
	"voicechat/services/history/sqlstore"
)

// FileHistoryConfig stores each key as a JSON file under Dir.
type FileHistoryConfig struct {
	Dir string `json:"dir"`
}

// SQLHistoryConfig stores turns in a database. Driver is one of sqlite,
// mysql or postgres. The DSN may also come from HISTORY_DSN.
type SQLHistoryConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// MemoryHistoryConfig keeps history for the life of the process only.
type MemoryHistoryConfig struct{}

// HistoryFactoryConfig selects the transcript store.
// Set exactly one provider config; the rest should be left nil.
type HistoryFactoryConfig struct {
	MemoryConfig *MemoryHistoryConfig `json:"memory,omitempty"`
	FileConfig   *FileHistoryConfig   `json:"file,omitempty"`
	SQLConfig    *SQLHistoryConfig    `json:"sql,omitempty"`
}

const defaultHistoryDir = "./data/history"

// DefaultHistoryFactoryConfig keeps history in JSON files under ./data/history.
func DefaultHistoryFactoryConfig() HistoryFactoryConfig {
	return HistoryFactoryConfig{FileConfig: &FileHistoryConfig{Dir: defaultHistoryDir}}
}

// BuildHistoryStore opens the configured store. The returned close function
// is never nil.
func BuildHistoryStore(ctx context.Context, config HistoryFactoryConfig, logger *core.Logger) (core.HistoryStore, func() error, error) {
	logger = logger.OrDefault().With(map[string]any{"component": "history"})
	noop := func() error { return nil }

	n := 0
	for _, set := range []bool{config.MemoryConfig != nil, config.FileConfig != nil, config.SQLConfig != nil} {
		if set {
			n++
		}
	}
	if n > 1 {
		return nil, noop, errors.New("HistoryFactoryConfig: more than one provider config specified")
	}

	switch {
	case config.MemoryConfig != nil:
		logger.Warn("history is kept in memory and will not survive a restart")
		return memory.NewStore(), noop, nil
	case config.FileConfig != nil:
		dir := config.FileConfig.Dir
		if dir == "" {
			dir = defaultHistoryDir
		}
		logger.Info("using file history store", "dir", dir)
		return filestore.NewStore(dir), noop, nil
	case config.SQLConfig != nil:
		dialect, err := sqlstore.DialectFor(config.SQLConfig.Driver)
		if err != nil {
			return nil, noop, err
		}
		if config.SQLConfig.DSN == "" {
			return nil, noop, fmt.Errorf("history: %s store needs a dsn", dialect.Name)
		}
		store, err := sqlstore.Open(ctx, dialect, config.SQLConfig.DSN)
		if err != nil {
			return nil, noop, err
		}
		logger.Info("using sql history store", "driver", dialect.Name)
		return store, store.Close, nil
	default:
		return nil, noop, errors.New("HistoryFactoryConfig: no provider config specified")
	}
}
