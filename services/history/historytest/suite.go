// Package historytest checks that a core.HistoryStore behaves like every
// other backend.
package historytest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
	"voicechat/services/history"
)

// Run exercises newStore's store with the behavior the session engine relies on.
func Run(t *testing.T, newStore func(t *testing.T) core.HistoryStore) {
	t.Run("MissingKey", func(t *testing.T) {
		store := newStore(t)
		turns, found, err := store.Get(context.Background(), "messages")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Empty(t, turns)
	})

	t.Run("RoundTripPreservesOrder", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		want := []core.Turn{
			{Role: core.RoleUser, Content: "Hi"},
			{Role: core.RoleAssistant, Content: "Hello!"},
			{Role: core.RoleUser, Content: "नमस्ते, कैसे हो?"},
			{Role: core.RoleAssistant, Content: "line one\nline two \"quoted\""},
		}
		require.NoError(t, store.Put(ctx, "messages", want))

		got, found, err := store.Get(ctx, "messages")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, want, got)
	})

	t.Run("PutReplaces", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "messages", []core.Turn{
			{Role: core.RoleUser, Content: "a"},
			{Role: core.RoleAssistant, Content: "b"},
		}))
		require.NoError(t, store.Put(ctx, "messages", []core.Turn{{Role: core.RoleUser, Content: "c"}}))

		got, _, err := store.Get(ctx, "messages")
		require.NoError(t, err)
		assert.Equal(t, []core.Turn{{Role: core.RoleUser, Content: "c"}}, got)
	})

	t.Run("EmptyListIsFound", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "messages", []core.Turn{{Role: core.RoleUser, Content: "x"}}))
		require.NoError(t, store.Put(ctx, "messages", []core.Turn{}))

		got, found, err := store.Get(ctx, "messages")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Empty(t, got)
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Put(ctx, "a", []core.Turn{{Role: core.RoleUser, Content: "for a"}}))
		require.NoError(t, store.Put(ctx, "b", []core.Turn{{Role: core.RoleUser, Content: "for b"}}))

		got, _, err := store.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "for a", got[0].Content)
	})

	t.Run("InvalidKey", func(t *testing.T) {
		store := newStore(t)
		err := store.Put(context.Background(), "../escape", nil)
		assert.ErrorIs(t, err, history.ErrInvalidKey)
	})

	t.Run("ReturnedSliceIsDetached", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		turns := []core.Turn{{Role: core.RoleUser, Content: "original"}}
		require.NoError(t, store.Put(ctx, "messages", turns))
		turns[0].Content = "mutated after put"

		got, _, err := store.Get(ctx, "messages")
		require.NoError(t, err)
		got[0].Content = "mutated after get"

		again, _, err := store.Get(ctx, "messages")
		require.NoError(t, err)
		assert.Equal(t, "original", again[0].Content)
	})

	t.Run("ConcurrentWriters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		var wg sync.WaitGroup
		for i := 1; i <= 8; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				turns := make([]core.Turn, n)
				for j := range turns {
					turns[j] = core.Turn{Role: core.RoleUser, Content: "x"}
				}
				assert.NoError(t, store.Put(ctx, "messages", turns))
			}(i)
		}
		wg.Wait()

		// Whatever write won, it must be whole.
		got, found, err := store.Get(ctx, "messages")
		require.NoError(t, err)
		assert.True(t, found)
		assert.NotEmpty(t, got)
	})
}
