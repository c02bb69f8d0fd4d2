package memory

import (
	"testing"

	"voicechat/core"
	"voicechat/services/history/historytest"
)

func TestStore(t *testing.T) {
	historytest.Run(t, func(t *testing.T) core.HistoryStore {
		return NewStore()
	})
}
