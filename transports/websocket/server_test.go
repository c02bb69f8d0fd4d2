package websocket

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicechat/core"
	"voicechat/handlers/session"
	"voicechat/protocol"
	"voicechat/services/history/memory"
)

type echoModel struct {
	fail bool
}

func (m *echoModel) StreamCompletion(_ context.Context, _ string, messages []core.Turn) (core.FragmentStream, error) {
	if m.fail {
		return nil, errors.New("model offline")
	}
	last := messages[len(messages)-1].Content
	return core.NewSliceStream("you said: ", last), nil
}

type upperExtractor struct{}

func (upperExtractor) Extract(_ context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty")
	}
	return strings.ToUpper(string(data)), nil
}

type testEnv struct {
	server *httptest.Server
	model  *echoModel
	store  *memory.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{model: &echoModel{}, store: memory.NewStore()}
	hub := NewHub(core.NewNopLogger())
	engine, err := session.NewEngine(session.Options{
		Model:    env.model,
		Store:    env.store,
		Listener: hub.EventListener(),
		Logger:   core.NewNopLogger(),
	})
	require.NoError(t, err)

	srv := NewServer(ServerConfig{Path: "/ws", ForwardEvents: true}, engine, upperExtractor{}, hub, core.NewNopLogger())
	env.server = httptest.NewServer(srv.Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func request(t *testing.T, conn *websocket.Conn, msgType protocol.MessageType, payload interface{}) {
	t.Helper()
	data, err := protocol.Marshal(msgType, payload)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// next reads until a message of one of the wanted types arrives, collecting
// everything seen on the way.
func next(t *testing.T, conn *websocket.Conn, wanted ...protocol.MessageType) (protocol.MessageType, []byte, []protocol.MessageType) {
	t.Helper()
	var seen []protocol.MessageType
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		msgType, payload, err := protocol.Unmarshal(data)
		require.NoError(t, err)
		seen = append(seen, msgType)
		for _, w := range wanted {
			if msgType == w {
				return msgType, payload, seen
			}
		}
	}
}

func TestServer_SubmitStreamsChunksThenResult(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "?events=0")

	request(t, conn, protocol.MsgLoad, nil)
	_, raw, _ := next(t, conn, protocol.MsgSession)
	sess, err := protocol.UnmarshalPayload[protocol.SessionPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, core.DefaultModelID, sess.Model)
	assert.Empty(t, sess.Transcript)

	request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "Hi"})
	_, raw, seen := next(t, conn, protocol.MsgResult)
	assert.Equal(t, []protocol.MessageType{protocol.MsgChunk, protocol.MsgChunk, protocol.MsgResult}, seen)

	result, err := protocol.UnmarshalPayload[protocol.ResultPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "you said: Hi", result.Text)
	assert.Empty(t, result.AudioPath)

	stored, found, err := env.store.Get(context.Background(), core.HistoryKey)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Len(t, stored, 2)
}

func TestServer_ForwardsEvents(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "")

	request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "Hi"})
	_, raw, _ := next(t, conn, protocol.MsgEvent)
	event, err := protocol.UnmarshalPayload[protocol.EventPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "session.turn_started", event.ID)
	assert.JSONEq(t, `{"user_text":"Hi"}`, string(event.Data))

	next(t, conn, protocol.MsgResult)
}

func TestServer_EmptySubmitIsError(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "?events=0")

	request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "   "})
	_, raw, _ := next(t, conn, protocol.MsgError)
	p, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindEmptyInput, p.Kind)
}

func TestServer_ModelFailureKeepsUserTurn(t *testing.T) {
	env := newTestEnv(t)
	env.model.fail = true
	conn := env.dial(t, "?events=0")

	request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "What is X?"})
	_, raw, _ := next(t, conn, protocol.MsgError)
	p, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindModelCall, p.Kind)

	request(t, conn, protocol.MsgTranscript, nil)
	_, raw, _ = next(t, conn, protocol.MsgTranscript)
	tr, err := protocol.UnmarshalPayload[protocol.TranscriptPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, []core.Turn{{Role: core.RoleUser, Content: "What is X?"}}, tr.Turns)
}

func TestServer_UploadDocumentAndClear(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "?events=0")

	request(t, conn, protocol.MsgUploadDocument, protocol.UploadDocumentPayload{Filename: "doc.txt", Data: []byte("x is 42")})
	_, raw, _ := next(t, conn, protocol.MsgSession)
	sess, err := protocol.UnmarshalPayload[protocol.SessionPayload](raw)
	require.NoError(t, err)
	assert.True(t, sess.HasDocument)
	assert.Equal(t, len("X IS 42"), sess.DocumentLength)

	request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "What is X?"})
	_, raw, _ = next(t, conn, protocol.MsgResult)
	result, err := protocol.UnmarshalPayload[protocol.ResultPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "you said: X IS 42\n\nUser question: What is X?", result.Text)

	request(t, conn, protocol.MsgClear, nil)
	_, raw, _ = next(t, conn, protocol.MsgSession)
	sess, err = protocol.UnmarshalPayload[protocol.SessionPayload](raw)
	require.NoError(t, err)
	assert.Empty(t, sess.Transcript)
	assert.True(t, sess.HasDocument, "clearing history keeps the document")
}

func TestServer_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "?events=0")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	_, raw, _ := next(t, conn, protocol.MsgError)
	p, err := protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, protocol.KindBadRequest, p.Kind)

	request(t, conn, protocol.MessageType("dance"), nil)
	_, raw, _ = next(t, conn, protocol.MsgError)
	p, err = protocol.UnmarshalPayload[protocol.ErrorPayload](raw)
	require.NoError(t, err)
	assert.Contains(t, p.Message, "dance")
}

func TestServer_AudioURL(t *testing.T) {
	srv := NewServer(ServerConfig{AudioDir: "/tmp/audio"}, nil, nil, nil, core.NewNopLogger())
	assert.Equal(t, "/audio/a.wav", srv.audioURL("/tmp/audio/a.wav"))
	assert.Empty(t, srv.audioURL("/etc/passwd"))

	bare := NewServer(ServerConfig{}, nil, nil, nil, core.NewNopLogger())
	assert.Empty(t, bare.audioURL("/tmp/audio/a.wav"))
}

func TestHub_LogWriterReachesSubscribedClients(t *testing.T) {
	hub := NewHub(core.NewNopLogger())
	c := &client{id: "c1", wantsLogs: true, broadcastCh: make(chan []byte, 4), done: make(chan struct{})}
	quiet := &client{id: "c2", broadcastCh: make(chan []byte, 4), done: make(chan struct{})}
	hub.add(c)
	hub.add(quiet)

	hub.LogWriter().Write(core.LevelWarn, "disk almost full", map[string]any{"error": errors.New("boom")})

	require.Len(t, c.broadcastCh, 1)
	assert.Len(t, quiet.broadcastCh, 0)
	msgType, raw, err := protocol.Unmarshal(<-c.broadcastCh)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgLog, msgType)
	p, err := protocol.UnmarshalPayload[protocol.LogPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "boom", p.Entry.Attrs["error"])
}

func TestClient_OfferDropsOldestWhenFull(t *testing.T) {
	c := &client{broadcastCh: make(chan []byte, 2), done: make(chan struct{})}
	c.offer([]byte("1"))
	c.offer([]byte("2"))
	c.offer([]byte("3"))

	assert.Equal(t, "2", string(<-c.broadcastCh))
	assert.Equal(t, "3", string(<-c.broadcastCh))
}

func TestClient_BroadcastsNeverEvictReplies(t *testing.T) {
	hub := NewHub(core.NewNopLogger())
	c := &client{
		id:          "c1",
		wantsEvents: true,
		logger:      core.NewNopLogger(),
		replyCh:     make(chan []byte, 2),
		broadcastCh: make(chan []byte, 2),
		done:        make(chan struct{}),
	}
	hub.add(c)

	c.send(protocol.MsgResult, protocol.ResultPayload{Text: "Hello!"})
	for i := 0; i < 5; i++ {
		hub.Broadcast(protocol.MsgEvent, protocol.EventPayload{ID: "llm.response_chunk"})
	}

	require.Len(t, c.replyCh, 1)
	msgType, _, err := protocol.Unmarshal(<-c.replyCh)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgResult, msgType)
	assert.Len(t, c.broadcastCh, 2)
}

func TestServer_ResultSurvivesEventFlood(t *testing.T) {
	hub := NewHub(core.NewNopLogger())
	engine, err := session.NewEngine(session.Options{
		Model:    &echoModel{},
		Store:    memory.NewStore(),
		Listener: hub.EventListener(),
		Logger:   core.NewNopLogger(),
	})
	require.NoError(t, err)
	srv := NewServer(ServerConfig{Path: "/ws", ForwardEvents: true, SendBufferSize: 1}, engine, nil, hub, core.NewNopLogger())
	env := &testEnv{server: httptest.NewServer(srv.Handler())}
	t.Cleanup(env.server.Close)
	conn := env.dial(t, "")

	for i := 0; i < 3; i++ {
		request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "Hi"})
		_, raw, _ := next(t, conn, protocol.MsgResult)
		result, err := protocol.UnmarshalPayload[protocol.ResultPayload](raw)
		require.NoError(t, err)
		assert.Equal(t, "you said: Hi", result.Text)
	}
}

func TestHub_CloseAllEndsConnections(t *testing.T) {
	hub := NewHub(core.NewNopLogger())
	engine, err := session.NewEngine(session.Options{Model: &echoModel{}, Store: memory.NewStore(), Logger: core.NewNopLogger()})
	require.NoError(t, err)
	srv := NewServer(ServerConfig{Path: "/ws"}, engine, nil, hub, core.NewNopLogger())
	env := &testEnv{server: httptest.NewServer(srv.Handler())}
	t.Cleanup(env.server.Close)
	conn := env.dial(t, "")

	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, hub.CloseAll())

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

type failingPutStore struct {
	*memory.Store
}

func (failingPutStore) Put(context.Context, string, []core.Turn) error {
	return errors.New("read-only filesystem")
}

func TestServer_SaveFailureTravelsWithResult(t *testing.T) {
	engine, err := session.NewEngine(session.Options{
		Model:  &echoModel{},
		Store:  failingPutStore{Store: memory.NewStore()},
		Logger: core.NewNopLogger(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(NewServer(ServerConfig{Path: "/ws"}, engine, nil, nil, core.NewNopLogger()).Handler())
	t.Cleanup(srv.Close)
	env := &testEnv{server: srv}
	conn := env.dial(t, "")

	request(t, conn, protocol.MsgSubmit, protocol.SubmitPayload{Text: "Hi"})
	_, raw, _ := next(t, conn, protocol.MsgResult)
	result, err := protocol.UnmarshalPayload[protocol.ResultPayload](raw)
	require.NoError(t, err)
	assert.Equal(t, "you said: Hi", result.Text)
	require.NotNil(t, result.SaveError)
	assert.Equal(t, protocol.KindPersistence, result.SaveError.Kind)
	assert.Contains(t, result.SaveError.Message, "read-only filesystem")

	request(t, conn, protocol.MsgTranscript, nil)
	_, raw, seen := next(t, conn, protocol.MsgTranscript)
	assert.Equal(t, []protocol.MessageType{protocol.MsgTranscript}, seen)
	transcript, err := protocol.UnmarshalPayload[protocol.TranscriptPayload](raw)
	require.NoError(t, err)
	assert.Len(t, transcript.Turns, 2)
}
