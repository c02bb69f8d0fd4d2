package websocket

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicechat/core"
	"voicechat/handlers/session"
	"voicechat/protocol"
)

// client is one browser connection. Requests are handled one at a time on
// the read loop; replies and broadcasts leave through the write loop.
// Replies and broadcasts are queued separately so that dropping a broadcast
// never loses a reply.
type client struct {
	id     string
	conn   *websocket.Conn
	server *Server
	logger *core.Logger

	wantsEvents bool
	wantsLogs   bool

	replyCh     chan []byte
	broadcastCh chan []byte
	done        chan struct{}
	once        sync.Once
}

func newClient(id string, conn *websocket.Conn, server *Server, query url.Values) *client {
	return &client{
		id:          id,
		conn:        conn,
		server:      server,
		logger:      server.logger.With(map[string]any{"client_id": id}),
		wantsEvents: server.config.ForwardEvents && query.Get("events") != "0",
		wantsLogs:   query.Get("logs") == "1",
		replyCh:     make(chan []byte, server.config.SendBufferSize),
		broadcastCh: make(chan []byte, server.config.SendBufferSize),
		done:        make(chan struct{}),
	}
}

func (c *client) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)
	c.close()
	<-writerDone
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// send queues a reply, blocking until there is room or the client is gone.
func (c *client) send(msgType protocol.MessageType, payload interface{}) {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		c.logger.Warn("failed to marshal message, dropping", "type", string(msgType), "error", err)
		return
	}
	select {
	case c.replyCh <- data:
	case <-c.done:
	}
}

// offer queues a broadcast. When the buffer is full the oldest queued
// broadcast is dropped. Replies are never touched.
func (c *client) offer(data []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.broadcastCh <- data:
	default:
		select {
		case <-c.broadcastCh:
		default:
		}
		select {
		case c.broadcastCh <- data:
		default:
		}
	}
}

func (c *client) sendError(err error) {
	c.send(protocol.MsgError, protocol.NewErrorPayload(err))
}

func (c *client) sendBadRequest(message string) {
	c.send(protocol.MsgError, protocol.ErrorPayload{Kind: protocol.KindBadRequest, Message: message})
}

func (c *client) readLoop(ctx context.Context) {
	pongWait := 2 * c.server.config.PingInterval
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, websocket.ErrCloseSent) {
				c.logger.Debug("read ended", "error", err)
			}
			return
		}
		// A long turn must not count against the keepalive window.
		c.conn.SetReadDeadline(time.Time{})
		c.handle(ctx, data)
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

func (c *client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(c.server.config.PingInterval)
	defer ticker.Stop()

	for {
		// Queued replies go out before any pending broadcast.
		select {
		case data := <-c.replyCh:
			if !c.write(data) {
				return
			}
			continue
		default:
		}

		select {
		case data := <-c.replyCh:
			if !c.write(data) {
				return
			}
		case data := <-c.broadcastCh:
			if !c.write(data) {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *client) write(data []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Warn("write to client failed", "error", err)
		c.close()
		return false
	}
	return true
}

func (c *client) handle(ctx context.Context, data []byte) {
	msgType, payload, err := protocol.Unmarshal(data)
	if err != nil {
		c.sendBadRequest(err.Error())
		return
	}
	engine := c.server.engine

	switch msgType {
	case protocol.MsgLoad:
		if _, err := engine.LoadSession(ctx); err != nil {
			c.sendError(err)
			return
		}
		c.sendSession()

	case protocol.MsgSubmit:
		p, err := protocol.UnmarshalPayload[protocol.SubmitPayload](payload)
		if err != nil {
			c.sendBadRequest(err.Error())
			return
		}
		result, err := engine.SubmitTurn(ctx, p.Text, func(chunk string) {
			c.send(protocol.MsgChunk, protocol.ChunkPayload{Text: chunk})
		})
		var persistErr *core.PersistenceError
		if err != nil && !errors.As(err, &persistErr) {
			c.sendError(err)
			return
		}
		reply := c.resultPayload(result)
		if err != nil {
			// The reply stands; only saving it failed.
			saveErr := protocol.NewErrorPayload(err)
			reply.SaveError = &saveErr
		}
		c.send(protocol.MsgResult, reply)

	case protocol.MsgClear:
		if err := engine.ClearHistory(ctx); err != nil {
			c.sendError(err)
		}
		c.sendSession()

	case protocol.MsgSetDocument:
		p, err := protocol.UnmarshalPayload[protocol.SetDocumentPayload](payload)
		if err != nil {
			c.sendBadRequest(err.Error())
			return
		}
		engine.SetDocumentContext(p.Text)
		c.sendSession()

	case protocol.MsgUploadDocument:
		p, err := protocol.UnmarshalPayload[protocol.UploadDocumentPayload](payload)
		if err != nil {
			c.sendBadRequest(err.Error())
			return
		}
		if c.server.extractor == nil {
			c.send(protocol.MsgError, protocol.ErrorPayload{Kind: protocol.KindDocument, Message: "document upload is disabled"})
			return
		}
		text, err := c.server.extractor.Extract(ctx, p.Data)
		if err != nil {
			c.send(protocol.MsgError, protocol.ErrorPayload{Kind: protocol.KindDocument, Message: err.Error()})
			return
		}
		c.logger.Info("document uploaded", "filename", p.Filename, "bytes", len(p.Data), "chars", len(text))
		engine.SetDocumentContext(text)
		c.sendSession()

	case protocol.MsgTranscript:
		c.send(protocol.MsgTranscript, protocol.TranscriptPayload{Turns: engine.Transcript().Turns()})

	default:
		c.sendBadRequest("unknown message type " + string(msgType))
	}
}

func (c *client) sendSession() {
	state := c.server.engine.State()
	c.send(protocol.MsgSession, protocol.SessionPayload{
		Model:          state.ModelID,
		Transcript:     state.Transcript.Turns(),
		HasDocument:    state.HasDocument(),
		DocumentLength: len(state.DocumentContext),
	})
}

func (c *client) resultPayload(result session.AssistantResult) protocol.ResultPayload {
	payload := protocol.ResultPayload{Text: result.Text}
	if result.Audio != nil {
		payload.AudioPath = result.Audio.Path
		payload.AudioURL = c.server.audioURL(result.Audio.Path)
		payload.DurationMs = result.Audio.Duration.Milliseconds()
	}
	return payload
}
