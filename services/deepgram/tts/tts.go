package deepgram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voicechat/core"
	"voicechat/utils/audio"
)

// maxCharsBeforeFlush is the character limit before an automatic flush is triggered.
// Deepgram returns DATA-0001 (1008) if too many characters are buffered between flushes.
const maxCharsBeforeFlush = 2000

// DepgramTTSConfig holds configuration for the Deepgram TTS service
type DepgramTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	Model      string `json:"model"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// DefaultConfig returns a DepgramTTSConfig with sensible defaults
func DefaultConfig() DepgramTTSConfig {
	return DepgramTTSConfig{
		BaseURL:    "wss://api.deepgram.com/v1/speak",
		Model:      "aura-2-arcas-en",
		Encoding:   "linear16",
		SampleRate: 24000,
	}
}

// DepgramTTS implements core.Synthesizer over Deepgram's speak WebSocket API.
// Every call opens its own connection, so calls may run concurrently.
type DepgramTTS struct {
	config   DepgramTTSConfig
	encoding core.AudioEncodingFormat
	writer   *audio.ArtifactWriter
	logger   *core.Logger

	mu     sync.Mutex
	active map[*websocket.Conn]struct{}
}

// Message types for Deepgram TTS WebSocket protocol
type (
	speakV1Text struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	// Flush, Clear and Close share this shape.
	speakV1Control struct {
		Type string `json:"type"`
	}

	speakV1Message struct {
		Type        string  `json:"type"`
		ModelName   string  `json:"model_name,omitempty"`
		SequenceID  float64 `json:"sequence_id,omitempty"`
		Description string  `json:"description,omitempty"`
		Code        string  `json:"code,omitempty"`
	}
)

// NewDepgramTTS creates a new Deepgram TTS service with the provided config.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDepgramTTS(config DepgramTTSConfig, writer *audio.ArtifactWriter, logger *core.Logger) (*DepgramTTS, error) {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Encoding == "" {
		config.Encoding = defaults.Encoding
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaults.SampleRate
	}
	if config.APIKey == "" {
		return nil, errors.New("Deepgram API key is required")
	}
	encoding, err := core.ParseAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}
	if writer == nil {
		writer = audio.NewArtifactWriter("")
	}
	return &DepgramTTS{
		config:   config,
		encoding: encoding,
		writer:   writer,
		logger:   logger.OrDefault().With(map[string]any{"component": "deepgram_tts"}),
		active:   make(map[*websocket.Conn]struct{}),
	}, nil
}

// encodingToString converts core.AudioEncodingFormat to Deepgram API string
func encodingToString(encoding core.AudioEncodingFormat) string {
	switch encoding {
	case core.ULAW:
		return "mulaw"
	case core.ALAW:
		return "alaw"
	default:
		return "linear16"
	}
}

// Synthesize speaks text and stores the result as a WAV artifact. Deepgram
// voices are tied to the model, so languageCode is only recorded on the handle.
func (d *DepgramTTS) Synthesize(ctx context.Context, text, languageCode string) (core.AudioHandle, error) {
	if strings.TrimSpace(text) == "" {
		return core.AudioHandle{}, errors.New("text cannot be empty")
	}

	conn, err := d.establishConnection(ctx)
	if err != nil {
		return core.AudioHandle{}, fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	d.track(conn)
	defer d.closeConnection(conn)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	flushes, err := d.sendText(conn, text)
	if err != nil {
		return core.AudioHandle{}, d.contextErr(ctx, err)
	}

	buf := audio.NewBuffer(d.encoding, d.config.SampleRate, 1)
	if err := d.receive(conn, buf, flushes); err != nil {
		return core.AudioHandle{}, d.contextErr(ctx, err)
	}

	chunk, err := buf.Chunk()
	if err != nil {
		return core.AudioHandle{}, err
	}
	handle, err := d.writer.Write(chunk, languageCode, "deepgram")
	if err != nil {
		return core.AudioHandle{}, err
	}
	d.logger.Debug("speech stored", "path", handle.Path, "bytes", handle.SizeBytes, "flushes", flushes)
	return handle, nil
}

// sendText sends text in chunks below the buffer limit, each followed by a
// Flush. It returns the number of flushes sent.
func (d *DepgramTTS) sendText(conn *websocket.Conn, text string) (int, error) {
	const chunkSize = maxCharsBeforeFlush - 100 // leave headroom
	flushes := 0
	for _, chunk := range splitText(text, chunkSize) {
		if err := d.sendJSON(conn, speakV1Text{Type: "Speak", Text: chunk}); err != nil {
			return flushes, err
		}
		if err := d.sendJSON(conn, speakV1Control{Type: "Flush"}); err != nil {
			return flushes, err
		}
		flushes++
	}
	return flushes, nil
}

// receive collects audio until every flush has been acknowledged.
func (d *DepgramTTS) receive(conn *websocket.Conn, buf *audio.Buffer, flushes int) error {
	for flushes > 0 {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed after %d bytes: %w", buf.Len(), err)
		}

		switch messageType {
		case websocket.BinaryMessage:
			buf.Write(message)

		case websocket.TextMessage:
			var msg speakV1Message
			if err := sonic.Unmarshal(message, &msg); err != nil {
				return fmt.Errorf("failed to parse message: %w", err)
			}
			switch msg.Type {
			case "Metadata":
				d.logger.Debug("tts metadata received", "model", msg.ModelName)
			case "Flushed":
				flushes--
			case "Warning":
				d.logger.Warn("deepgram warning", "description", msg.Description, "code", msg.Code)
			case "Error":
				return fmt.Errorf("Deepgram error: %s (code: %s)", msg.Description, msg.Code)
			}
		}
	}
	d.sendJSON(conn, speakV1Control{Type: "Close"})
	return nil
}

// establishConnection creates a new WebSocket connection to Deepgram with retry logic
func (d *DepgramTTS) establishConnection(ctx context.Context) (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			d.logger.Infof("Deepgram TTS: retrying connection (attempt %d/%d) in %v after error: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		conn, err := d.dialConnection(ctx)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}

	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

func (d *DepgramTTS) dialConnection(ctx context.Context) (*websocket.Conn, error) {
	url := fmt.Sprintf("%s?model=%s&encoding=%s&sample_rate=%d",
		d.config.BaseURL,
		d.config.Model,
		encodingToString(d.encoding),
		d.config.SampleRate)

	// Deepgram requires the "Token " prefix.
	headers := map[string][]string{
		"Authorization": {fmt.Sprintf("Token %s", d.config.APIKey)},
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *DepgramTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (d *DepgramTTS) contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (d *DepgramTTS) track(conn *websocket.Conn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active[conn] = struct{}{}
}

func (d *DepgramTTS) closeConnection(conn *websocket.Conn) {
	d.mu.Lock()
	delete(d.active, conn)
	d.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

// Cleanup closes every connection still in flight.
func (d *DepgramTTS) Cleanup() error {
	d.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(d.active))
	for conn := range d.active {
		conns = append(conns, conn)
	}
	d.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	d.logger.Info("Deepgram TTS service cleaned up")
	return nil
}

// splitText cuts text into pieces of at most size bytes, preferring
// whitespace boundaries and never splitting a UTF-8 sequence.
func splitText(text string, size int) []string {
	var parts []string
	for len(text) > size {
		cut := strings.LastIndexAny(text[:size], " \n\t")
		if cut <= 0 {
			cut = size
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
		}
		parts = append(parts, text[:cut])
		text = strings.TrimLeft(text[cut:], " \n\t")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
