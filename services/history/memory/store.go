package memory

import (
	"context"
	"sync"

	"voicechat/core"
	"voicechat/services/history"
)

// Store keeps transcripts in process memory. Nothing survives a restart.
type Store struct {
	mu   sync.RWMutex
	data map[string][]core.Turn
}

func NewStore() *Store {
	return &Store{data: make(map[string][]core.Turn)}
}

func (s *Store) Get(_ context.Context, key string) ([]core.Turn, bool, error) {
	if err := history.ValidateKey(key); err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return append([]core.Turn{}, turns...), true, nil
}

func (s *Store) Put(_ context.Context, key string, turns []core.Turn) error {
	if err := history.ValidateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]core.Turn{}, turns...)
	return nil
}
