package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"voicechat/core"
	"voicechat/services/history"
)

// document is the on-disk shape of one key.
type document struct {
	Key       string      `json:"key"`
	Turns     []core.Turn `json:"turns"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Store keeps each key as <root>/<key>.json. Writes go through a temp file
// and a rename, so readers never observe a partial transcript.
type Store struct {
	root string
	mu   sync.Mutex // serializes writers within the process
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.root, key+".json")
}

func (s *Store) Get(_ context.Context, key string) ([]core.Turn, bool, error) {
	if err := history.ValidateKey(key); err != nil {
		return nil, false, err
	}

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, err)
	}

	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %w", history.ErrLoadFailed, key, errors.Wrap(err, "decode transcript"))
	}
	if doc.Turns == nil {
		doc.Turns = []core.Turn{}
	}
	return doc.Turns, true, nil
}

func (s *Store) Put(_ context.Context, key string, turns []core.Turn) error {
	if err := history.ValidateKey(key); err != nil {
		return err
	}
	if turns == nil {
		turns = []core.Turn{}
	}

	data, err := sonic.Marshal(document{Key: key, Turns: turns, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, errors.Wrap(err, "encode transcript"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}

	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}

	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: %s: %w", history.ErrSaveFailed, key, err)
	}
	return nil
}
