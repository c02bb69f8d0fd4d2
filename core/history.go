package core

import "context"

// HistoryStore persists an ordered list of turns under a key.
// Get reports found=false, and no error, when nothing is stored under key.
type HistoryStore interface {
	Get(ctx context.Context, key string) (turns []Turn, found bool, err error)
	Put(ctx context.Context, key string, turns []Turn) error
}

// DocumentExtractor turns uploaded file bytes into plain text. The result may be
// empty when the file carries no extractable text.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}
