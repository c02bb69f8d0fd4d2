// Package remote drives a session engine served by transports/websocket from
// another process, using the same envelope protocol a browser speaks.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voicechat/core"
	"voicechat/protocol"
)

const (
	defaultSendBufferSize = 16
	writeTimeout          = 10 * time.Second
	maxDialAttempts       = 3
)

// ErrClosed is returned by requests made after the connection dropped.
var ErrClosed = errors.New("remote: connection closed")

// ClientConfig configures the websocket client.
type ClientConfig struct {
	URL    string // e.g. ws://127.0.0.1:8080/ws
	Events bool   // ask the server to forward engine events
	Logs   bool   // ask the server to forward log lines
	Logger *core.Logger
}

// Client is one connection to a voicechat server. Requests are serialized:
// the server answers them in order on a single connection, so each call waits
// for its own reply before the next is sent. Chunks, events and logs are
// delivered to the callbacks from the read loop.
type Client struct {
	config ClientConfig
	conn   *websocket.Conn
	logger *core.Logger

	// Callbacks, set before Dial.
	OnEvent func(protocol.EventPayload)
	OnLog   func(core.LogEntry)

	reqMu   sync.Mutex
	chunkMu sync.Mutex
	onChunk func(string)

	replies chan reply
	sendCh  chan []byte
	done    chan struct{}
	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
}

type reply struct {
	msgType protocol.MessageType
	payload []byte
}

// NewClient creates a client. Call Dial to connect.
func NewClient(cfg ClientConfig) *Client {
	return &Client{
		config:  cfg,
		logger:  cfg.Logger.OrDefault().With(map[string]any{"component": "remote"}),
		replies: make(chan reply, defaultSendBufferSize),
		sendCh:  make(chan []byte, defaultSendBufferSize),
		done:    make(chan struct{}),
	}
}

// Dial connects to the server, retrying briefly, and starts the read and
// write loops. ctx bounds the connection's lifetime.
func (c *Client) Dial(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	var lastErr error
	for attempt := 1; attempt <= maxDialAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, target, nil)
		if err == nil {
			c.conn = conn
			break
		}
		lastErr = err
		c.logger.Warn("dial failed", "attempt", attempt, "url", c.config.URL, "error", err)
		if attempt == maxDialAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		case <-c.ctx.Done():
			c.cancel()
			return c.ctx.Err()
		}
	}
	if c.conn == nil {
		c.cancel()
		return fmt.Errorf("remote: dial %q: %w", c.config.URL, lastErr)
	}

	c.logger.Info("connected", "url", c.config.URL)
	go c.readLoop()
	go c.writeLoop()
	return nil
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.config.URL)
	if err != nil {
		return "", fmt.Errorf("remote: bad url %q: %w", c.config.URL, err)
	}
	q := u.Query()
	if !c.config.Events {
		q.Set("events", "0")
	}
	if c.config.Logs {
		q.Set("logs", "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Done is closed when the connection drops.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close shuts down the connection.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.cancel != nil {
			c.cancel()
		}
		if c.conn != nil {
			c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.conn.Close()
		}
	})
}

// Load asks the server to reload the stored transcript.
func (c *Client) Load(ctx context.Context) (protocol.SessionPayload, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.enqueue(protocol.MsgLoad, nil); err != nil {
		return protocol.SessionPayload{}, err
	}
	r, err := c.await(ctx, protocol.MsgSession)
	if err != nil {
		return protocol.SessionPayload{}, err
	}
	return protocol.UnmarshalPayload[protocol.SessionPayload](r.payload)
}

// Submit runs one turn. onChunk receives fragments as they stream in. A
// *core.PersistenceError comes back together with a valid result.
func (c *Client) Submit(ctx context.Context, text string, onChunk func(string)) (protocol.ResultPayload, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	c.setChunkHandler(onChunk)
	defer c.setChunkHandler(nil)

	if err := c.enqueue(protocol.MsgSubmit, protocol.SubmitPayload{Text: text}); err != nil {
		return protocol.ResultPayload{}, err
	}
	r, err := c.await(ctx, protocol.MsgResult)
	if err != nil {
		return protocol.ResultPayload{}, err
	}
	result, err := protocol.UnmarshalPayload[protocol.ResultPayload](r.payload)
	if err != nil {
		return result, err
	}
	if result.SaveError != nil {
		return result, result.SaveError.Err()
	}
	return result, nil
}

// Clear empties the transcript. The session is returned even when storing the
// empty transcript failed.
func (c *Client) Clear(ctx context.Context) (protocol.SessionPayload, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.enqueue(protocol.MsgClear, nil); err != nil {
		return protocol.SessionPayload{}, err
	}
	var clearErr error
	for {
		r, err := c.next(ctx)
		if err != nil {
			return protocol.SessionPayload{}, err
		}
		switch r.msgType {
		case protocol.MsgError:
			p, _ := protocol.UnmarshalPayload[protocol.ErrorPayload](r.payload)
			clearErr = p.Err()
		case protocol.MsgSession:
			session, err := protocol.UnmarshalPayload[protocol.SessionPayload](r.payload)
			if err != nil {
				return session, err
			}
			return session, clearErr
		}
	}
}

// SetDocument replaces the document context with text; "" drops it.
func (c *Client) SetDocument(ctx context.Context, text string) (protocol.SessionPayload, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.enqueue(protocol.MsgSetDocument, protocol.SetDocumentPayload{Text: text}); err != nil {
		return protocol.SessionPayload{}, err
	}
	r, err := c.await(ctx, protocol.MsgSession)
	if err != nil {
		return protocol.SessionPayload{}, err
	}
	return protocol.UnmarshalPayload[protocol.SessionPayload](r.payload)
}

// UploadDocument sends a file for the server to extract and use as context.
func (c *Client) UploadDocument(ctx context.Context, filename string, data []byte) (protocol.SessionPayload, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.enqueue(protocol.MsgUploadDocument, protocol.UploadDocumentPayload{Filename: filename, Data: data}); err != nil {
		return protocol.SessionPayload{}, err
	}
	r, err := c.await(ctx, protocol.MsgSession)
	if err != nil {
		return protocol.SessionPayload{}, err
	}
	return protocol.UnmarshalPayload[protocol.SessionPayload](r.payload)
}

// Transcript fetches the current transcript.
func (c *Client) Transcript(ctx context.Context) ([]core.Turn, error) {
	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	if err := c.enqueue(protocol.MsgTranscript, nil); err != nil {
		return nil, err
	}
	r, err := c.await(ctx, protocol.MsgTranscript)
	if err != nil {
		return nil, err
	}
	p, err := protocol.UnmarshalPayload[protocol.TranscriptPayload](r.payload)
	return p.Turns, err
}

// await returns the next reply of type want. An error reply ends the request.
func (c *Client) await(ctx context.Context, want protocol.MessageType) (reply, error) {
	for {
		r, err := c.next(ctx)
		if err != nil {
			return reply{}, err
		}
		switch r.msgType {
		case want:
			return r, nil
		case protocol.MsgError:
			p, err := protocol.UnmarshalPayload[protocol.ErrorPayload](r.payload)
			if err != nil {
				return reply{}, err
			}
			return reply{}, p.Err()
		default:
			c.logger.Debug("unexpected reply, skipping", "type", string(r.msgType), "want", string(want))
		}
	}
}

func (c *Client) next(ctx context.Context) (reply, error) {
	select {
	case r := <-c.replies:
		return r, nil
	case <-c.done:
		return reply{}, ErrClosed
	case <-ctx.Done():
		// The late reply would be taken for the next request's.
		c.Close()
		return reply{}, ctx.Err()
	}
}

func (c *Client) enqueue(msgType protocol.MessageType, payload interface{}) error {
	data, err := protocol.Marshal(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- data:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Client) setChunkHandler(fn func(string)) {
	c.chunkMu.Lock()
	defer c.chunkMu.Unlock()
	c.onChunk = fn
}

func (c *Client) chunk(text string) {
	c.chunkMu.Lock()
	fn := c.onChunk
	c.chunkMu.Unlock()
	if fn != nil {
		fn(text)
	}
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				select {
				case <-c.done:
				default:
					c.logger.Warn("connection lost", "error", err)
				}
			}
			return
		}

		msgType, payload, err := protocol.Unmarshal(data)
		if err != nil {
			c.logger.Warn("invalid message from server", "error", err)
			continue
		}

		switch msgType {
		case protocol.MsgChunk:
			p, err := protocol.UnmarshalPayload[protocol.ChunkPayload](payload)
			if err == nil {
				c.chunk(p.Text)
			}
		case protocol.MsgEvent:
			if c.OnEvent != nil {
				if p, err := protocol.UnmarshalPayload[protocol.EventPayload](payload); err == nil {
					c.OnEvent(p)
				}
			}
		case protocol.MsgLog:
			if c.OnLog != nil {
				if p, err := protocol.UnmarshalPayload[protocol.LogPayload](payload); err == nil {
					c.OnLog(p.Entry)
				}
			}
		default:
			select {
			case c.replies <- reply{msgType: msgType, payload: payload}:
			case <-c.done:
				return
			}
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case data := <-c.sendCh:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Warn("write to server failed", "error", err)
				c.Close()
				return
			}
		case <-c.done:
			return
		case <-c.ctx.Done():
			c.Close()
			return
		}
	}
}
