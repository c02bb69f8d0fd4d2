package cartesia

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
	"voicechat/utils/audio"
)

// fakeCartesia answers each request with two audio chunks and a done frame,
// interleaving contexts when several are in flight.
func fakeCartesia(t *testing.T, dials *atomic.Int32, languages chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{}
	frame := base64.StdEncoding.EncodeToString(make([]byte, 480))
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("api_key"))
		dials.Add(1)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var writeMu sync.Mutex
		write := func(s string) {
			writeMu.Lock()
			defer writeMu.Unlock()
			conn.WriteMessage(websocket.TextMessage, []byte(s))
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req cartesiaTTSRequest
			if err := sonic.Unmarshal(data, &req); err != nil || req.Transcript == "" {
				continue
			}
			if languages != nil {
				languages <- req.Language
			}
			go func(id, transcript string) {
				if transcript == "fail" {
					write(fmt.Sprintf(`{"type":"error","context_id":%q,"status_code":400,"error":"bad input","done":true}`, id))
					return
				}
				for i := 0; i < 2; i++ {
					write(fmt.Sprintf(`{"type":"chunk","context_id":%q,"data":%q}`, id, frame))
				}
				write(fmt.Sprintf(`{"type":"done","context_id":%q,"done":true}`, id))
			}(req.ContextID, req.Transcript)
		}
	}))
}

func newService(t *testing.T, server *httptest.Server) *CartesiaTTS {
	t.Helper()
	svc, err := NewCartesiaTTS(CartesiaTTSConfig{
		APIKey:  "key",
		BaseURL: "ws" + strings.TrimPrefix(server.URL, "http"),
	}, audio.NewArtifactWriter(t.TempDir()), core.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Cleanup() })
	return svc
}

func TestSynthesize_SendsLanguageAndCollectsChunks(t *testing.T) {
	var dials atomic.Int32
	languages := make(chan string, 1)
	server := fakeCartesia(t, &dials, languages)
	defer server.Close()

	handle, err := newService(t, server).Synthesize(context.Background(), "नमस्ते", "hi")
	require.NoError(t, err)

	assert.Equal(t, "hi", <-languages)
	assert.Equal(t, "cartesia", handle.Provider)
	assert.Equal(t, 44+960, handle.SizeBytes)
}

func TestSynthesize_ConcurrentCallsShareConnection(t *testing.T) {
	var dials atomic.Int32
	server := fakeCartesia(t, &dials, nil)
	defer server.Close()
	svc := newService(t, server)

	// Warm the connection so the concurrent calls below reuse it.
	_, err := svc.Synthesize(context.Background(), "warm up", "hi")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			handle, err := svc.Synthesize(context.Background(), fmt.Sprintf("utterance %d", i), "hi")
			assert.NoError(t, err)
			assert.Equal(t, 44+960, handle.SizeBytes)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), dials.Load())
}

func TestSynthesize_ErrorFrame(t *testing.T) {
	var dials atomic.Int32
	server := fakeCartesia(t, &dials, nil)
	defer server.Close()

	_, err := newService(t, server).Synthesize(context.Background(), "fail", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad input")
}

func TestSynthesize_ReconnectsAfterConnectionLoss(t *testing.T) {
	var dials atomic.Int32
	server := fakeCartesia(t, &dials, nil)
	defer server.Close()
	svc := newService(t, server)

	_, err := svc.Synthesize(context.Background(), "one", "hi")
	require.NoError(t, err)
	require.NoError(t, svc.Cleanup())

	require.Eventually(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.conn == nil
	}, time.Second, 10*time.Millisecond)

	_, err = svc.Synthesize(context.Background(), "two", "hi")
	require.NoError(t, err)
	assert.Equal(t, int32(2), dials.Load())
}

func TestCartesiaEncodingString(t *testing.T) {
	assert.Equal(t, "pcm_s16le", cartesiaEncodingString(core.PCM))
	assert.Equal(t, "pcm_mulaw", cartesiaEncodingString(core.ULAW))
}
