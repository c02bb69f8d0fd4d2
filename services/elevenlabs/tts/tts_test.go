package elevenlabs

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
	"voicechat/utils/audio"
)

func fakeStreamInput(t *testing.T, reply func(conn *websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/voice-1/stream-input", r.URL.Path)
		assert.Equal(t, "hi", r.URL.Query().Get("language_code"))
		assert.Equal(t, "pcm_16000", r.URL.Query().Get("output_format"))
		assert.Equal(t, "key", r.Header.Get("xi-api-key"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// BOS, text, EOS
		for i := 0; i < 3; i++ {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		reply(conn)
	}))
}

func newService(t *testing.T, server *httptest.Server) *ElevenLabsTTS {
	t.Helper()
	svc, err := NewElevenLabsTTS(ElevenLabsTTSConfig{
		APIKey:     "key",
		BaseURL:    "ws" + strings.TrimPrefix(server.URL, "http"),
		VoiceID:    "voice-1",
		SampleRate: 16000,
	}, audio.NewArtifactWriter(t.TempDir()), core.NewNopLogger())
	require.NoError(t, err)
	return svc
}

func TestSynthesize_CollectsUntilFinal(t *testing.T) {
	frame := base64.StdEncoding.EncodeToString(make([]byte, 1600))
	server := fakeStreamInput(t, func(conn *websocket.Conn) {
		for i := 0; i < 2; i++ {
			conn.WriteMessage(websocket.TextMessage, []byte(fmt.Sprintf(`{"audio":%q,"isFinal":false}`, frame)))
		}
		conn.WriteMessage(websocket.TextMessage, []byte(`{"audio":null,"isFinal":true}`))
	})
	defer server.Close()

	handle, err := newService(t, server).Synthesize(context.Background(), "नमस्ते", "hi")
	require.NoError(t, err)

	assert.Equal(t, "elevenlabs", handle.Provider)
	assert.Equal(t, 44+3200, handle.SizeBytes)
	assert.Equal(t, "100ms", handle.Duration.String())
}

func TestSynthesize_ErrorMessage(t *testing.T) {
	server := fakeStreamInput(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"quota_exceeded","message":"out of credits","code":1008}`))
	})
	defer server.Close()

	_, err := newService(t, server).Synthesize(context.Background(), "hello", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of credits")
}

func TestSynthesize_NoAudioBeforeFinal(t *testing.T) {
	server := fakeStreamInput(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"isFinal":true}`))
	})
	defer server.Close()

	_, err := newService(t, server).Synthesize(context.Background(), "hello", "hi")
	assert.Error(t, err)
}

func TestOutputFormatString(t *testing.T) {
	assert.Equal(t, "ulaw_8000", outputFormatString(core.ULAW, 16000))
	assert.Equal(t, "pcm_44100", outputFormatString(core.PCM, 44100))
	assert.Equal(t, "pcm_24000", outputFormatString(core.PCM, 12345))
	assert.Equal(t, 22050, sampleRateFor("pcm_22050"))
}
