package cartesia

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voicechat/core"
	"voicechat/utils/audio"
)

const (
	defaultCartesiaURL        = "wss://api.cartesia.ai/tts/websocket"
	defaultCartesiaModelID    = "sonic-2"
	defaultCartesiaVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091" // Helpful Woman
	defaultCartesiaAPIVersion = "2024-11-13"
	defaultCartesiaSampleRate = 24000
)

var errConnectionLost = errors.New("cartesia: connection lost")

// CartesiaTTSConfig holds configuration for the Cartesia TTS service.
type CartesiaTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	ModelID    string `json:"model_id"`
	VoiceID    string `json:"voice_id"`
	APIVersion string `json:"api_version"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaTTS implements core.Synthesizer over Cartesia's WebSocket API.
// One connection is shared by all calls; each utterance runs under its own
// context_id and the read loop routes responses back to the caller.
type CartesiaTTS struct {
	config   CartesiaTTSConfig
	encoding core.AudioEncodingFormat
	writer   *audio.ArtifactWriter
	logger   *core.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	pending map[string]*pendingContext

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

type pendingContext struct {
	conn      *websocket.Conn
	responses chan cartesiaResponse
	done      chan struct{}
}

// ── WebSocket protocol messages ───────────────────────────────────────────────

type cartesiaTTSRequest struct {
	ModelID    string            `json:"model_id"`
	Transcript string            `json:"transcript"`
	Voice      cartesiaVoice     `json:"voice"`
	OutputFmt  cartesiaOutputFmt `json:"output_format"`
	ContextID  string            `json:"context_id"`
	Continue   bool              `json:"continue"`
	Language   string            `json:"language,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFmt struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// cartesiaCancelRequest cancels an in-progress context.
type cartesiaCancelRequest struct {
	ContextID string `json:"context_id"`
	Cancel    bool   `json:"cancel"`
}

// cartesiaResponse is a text (JSON) frame from Cartesia. Audio arrives
// base64-encoded in Data on "chunk" frames.
type cartesiaResponse struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
	Data       string `json:"data,omitempty"`
}

// ── Constructor ───────────────────────────────────────────────────────────────

func NewCartesiaTTS(config CartesiaTTSConfig, writer *audio.ArtifactWriter, logger *core.Logger) (*CartesiaTTS, error) {
	if config.BaseURL == "" {
		config.BaseURL = defaultCartesiaURL
	}
	if config.ModelID == "" {
		config.ModelID = defaultCartesiaModelID
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultCartesiaVoiceID
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultCartesiaAPIVersion
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultCartesiaSampleRate
	}
	if config.APIKey == "" {
		return nil, errors.New("Cartesia API key is required")
	}
	encoding, err := core.ParseAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}
	if writer == nil {
		writer = audio.NewArtifactWriter("")
	}
	return &CartesiaTTS{
		config:   config,
		encoding: encoding,
		writer:   writer,
		logger:   logger.OrDefault().With(map[string]any{"component": "cartesia_tts"}),
		pending:  make(map[string]*pendingContext),
	}, nil
}

// cartesiaEncodingString maps a core encoding to Cartesia's encoding string.
func cartesiaEncodingString(enc core.AudioEncodingFormat) string {
	switch enc {
	case core.ULAW:
		return "pcm_mulaw"
	case core.ALAW:
		return "pcm_alaw"
	default:
		return "pcm_s16le"
	}
}

// newContextID generates a random UUID to use as a Cartesia context_id.
func newContextID() string {
	return uuid.New().String()
}

// ── Synthesis ─────────────────────────────────────────────────────────────────

// Synthesize speaks text in languageCode and stores the result as a WAV artifact.
func (c *CartesiaTTS) Synthesize(ctx context.Context, text, languageCode string) (core.AudioHandle, error) {
	if strings.TrimSpace(text) == "" {
		return core.AudioHandle{}, errors.New("text cannot be empty")
	}

	conn, err := c.connection(ctx)
	if err != nil {
		return core.AudioHandle{}, err
	}

	contextID := newContextID()
	pc := c.register(conn, contextID)
	defer c.unregister(contextID, pc)

	req := cartesiaTTSRequest{
		ModelID:    c.config.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: c.config.VoiceID},
		OutputFmt: cartesiaOutputFmt{
			Container:  "raw",
			Encoding:   cartesiaEncodingString(c.encoding),
			SampleRate: c.config.SampleRate,
		},
		ContextID: contextID,
		Continue:  false,
		Language:  languageCode,
	}
	if err := c.sendJSON(conn, req); err != nil {
		// The read loop notices the closed socket and forgets the connection.
		conn.Close()
		return core.AudioHandle{}, fmt.Errorf("failed to send request: %w", err)
	}

	buf := audio.NewBuffer(c.encoding, c.config.SampleRate, 1)
	for {
		select {
		case <-ctx.Done():
			// Non-fatal: late audio for this context is dropped by the read loop.
			if err := c.sendJSON(conn, cartesiaCancelRequest{ContextID: contextID, Cancel: true}); err != nil {
				c.logger.Debug("cancel request failed", "context_id", contextID, "error", err)
			}
			return core.AudioHandle{}, ctx.Err()

		case resp, ok := <-pc.responses:
			if !ok {
				return core.AudioHandle{}, errConnectionLost
			}
			switch resp.Type {
			case "chunk":
				if resp.Data != "" {
					audioData, err := base64.StdEncoding.DecodeString(resp.Data)
					if err != nil {
						return core.AudioHandle{}, fmt.Errorf("failed to decode audio chunk: %w", err)
					}
					buf.Write(audioData)
				}
			case "error":
				return core.AudioHandle{}, fmt.Errorf("cartesia error (status %d): %s", resp.StatusCode, resp.Error)
			}
			// "timestamps" and friends are informational.
			if resp.Done || resp.Type == "done" {
				chunk, err := buf.Chunk()
				if err != nil {
					return core.AudioHandle{}, err
				}
				handle, err := c.writer.Write(chunk, languageCode, "cartesia")
				if err != nil {
					return core.AudioHandle{}, err
				}
				c.logger.Debug("speech stored", "path", handle.Path, "context_id", contextID)
				return handle, nil
			}
		}
	}
}

func (c *CartesiaTTS) register(conn *websocket.Conn, contextID string) *pendingContext {
	pc := &pendingContext{
		conn:      conn,
		responses: make(chan cartesiaResponse, 64),
		done:      make(chan struct{}),
	}
	c.mu.Lock()
	c.pending[contextID] = pc
	c.mu.Unlock()
	return pc
}

func (c *CartesiaTTS) unregister(contextID string, pc *pendingContext) {
	close(pc.done)
	c.mu.Lock()
	if c.pending[contextID] == pc {
		delete(c.pending, contextID)
	}
	c.mu.Unlock()
}

// ── WebSocket connection management ──────────────────────────────────────────

// connection returns the shared connection, dialing it on first use or after
// it was lost.
func (c *CartesiaTTS) connection(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := c.establishConnection(ctx)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

func (c *CartesiaTTS) establishConnection(ctx context.Context) (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			c.logger.Infof("Cartesia TTS: retrying connection (attempt %d/%d) in %v after: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, err := c.dialConnection(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("cartesia: failed to connect after %d attempts: %w", maxRetries, lastErr)
}

func (c *CartesiaTTS) dialConnection(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?api_key=%s&cartesia_version=%s",
		c.config.BaseURL,
		c.config.APIKey,
		c.config.APIVersion,
	)

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// readLoop routes frames to the pending context they belong to until the
// connection fails.
func (c *CartesiaTTS) readLoop(conn *websocket.Conn) {
	for {
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			c.dropConnection(conn, err)
			return
		}
		if messageType != websocket.TextMessage {
			c.logger.Debug("ignoring binary frame", "bytes", len(msg))
			continue
		}

		var resp cartesiaResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			c.logger.Warn("failed to parse text message", "error", err)
			continue
		}

		c.mu.Lock()
		pc := c.pending[resp.ContextID]
		c.mu.Unlock()
		if pc == nil {
			continue
		}
		select {
		case pc.responses <- resp:
		case <-pc.done:
		}
	}
}

// dropConnection forgets conn and fails every context still waiting on it.
// Only the read loop of conn calls it, as it is the only sender on the
// response channels.
func (c *CartesiaTTS) dropConnection(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	var orphans []*pendingContext
	for id, pc := range c.pending {
		if pc.conn == conn {
			orphans = append(orphans, pc)
			delete(c.pending, id)
		}
	}
	c.mu.Unlock()

	conn.Close()
	for _, pc := range orphans {
		close(pc.responses)
	}
	if len(orphans) > 0 {
		c.logger.Warn("connection lost with utterances in flight", "pending", len(orphans), "error", cause)
	}
}

func (c *CartesiaTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Cleanup closes the shared connection. In-flight calls fail with a
// connection-lost error.
func (c *CartesiaTTS) Cleanup() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	c.writeMu.Lock()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	conn.Close()
	return nil
}
