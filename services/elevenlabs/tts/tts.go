package elevenlabs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voicechat/core"
	"voicechat/utils/audio"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service
type ElevenLabsTTSConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`

	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// ElevenLabsTTS implements core.Synthesizer over the ElevenLabs stream-input
// WebSocket API. Each call runs on its own connection.
type ElevenLabsTTS struct {
	config   ElevenLabsTTSConfig
	encoding core.AudioEncodingFormat
	writer   *audio.ArtifactWriter
	logger   *core.Logger

	mu     sync.Mutex
	active map[*websocket.Conn]struct{}
}

// Client messages
type (
	// BOS (Beginning of Stream) - sent once on connect
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	elTextMessage struct {
		Text  string `json:"text"`
		Flush bool   `json:"flush,omitempty"`
	}
)

// Server message. Audio frames, the final marker and errors all arrive as JSON.
type elServerMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// NewElevenLabsTTS creates a new ElevenLabs TTS service with the provided config
func NewElevenLabsTTS(config ElevenLabsTTSConfig, writer *audio.ArtifactWriter, logger *core.Logger) (*ElevenLabsTTS, error) {
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	}
	if config.VoiceID == "" {
		config.VoiceID = "21m00Tcm4TlvDq8ikWAM" // Default: Rachel
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_turbo_v2_5"
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	if config.APIKey == "" {
		return nil, errors.New("ElevenLabs API key is required")
	}
	encoding, err := core.ParseAudioEncoding(config.Encoding)
	if err != nil {
		return nil, err
	}
	if encoding == core.ALAW {
		return nil, errors.New("ElevenLabs does not stream A-law audio")
	}
	if encoding == core.ULAW {
		config.SampleRate = 8000
	}
	if writer == nil {
		writer = audio.NewArtifactWriter("")
	}
	return &ElevenLabsTTS{
		config:   config,
		encoding: encoding,
		writer:   writer,
		logger:   logger.OrDefault().With(map[string]any{"component": "elevenlabs_tts"}),
		active:   make(map[*websocket.Conn]struct{}),
	}, nil
}

// outputFormatString converts config encoding + sample rate to ElevenLabs output_format param
func outputFormatString(encoding core.AudioEncodingFormat, sampleRate int) string {
	switch encoding {
	case core.ULAW:
		return "ulaw_8000"
	case core.PCM:
		switch sampleRate {
		case 16000:
			return "pcm_16000"
		case 22050:
			return "pcm_22050"
		case 44100:
			return "pcm_44100"
		default:
			return "pcm_24000"
		}
	default:
		return "pcm_24000"
	}
}

// sampleRateFor returns the rate the provider will actually stream at.
func sampleRateFor(format string) int {
	switch format {
	case "ulaw_8000":
		return 8000
	case "pcm_16000":
		return 16000
	case "pcm_22050":
		return 22050
	case "pcm_44100":
		return 44100
	default:
		return 24000
	}
}

// Synthesize speaks text in languageCode and stores the result as a WAV artifact.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text, languageCode string) (core.AudioHandle, error) {
	if strings.TrimSpace(text) == "" {
		return core.AudioHandle{}, errors.New("text cannot be empty")
	}

	format := outputFormatString(e.encoding, e.config.SampleRate)
	conn, err := e.establishConnection(ctx, format, languageCode)
	if err != nil {
		return core.AudioHandle{}, fmt.Errorf("failed to establish WebSocket connection: %w", err)
	}
	e.mu.Lock()
	e.active[conn] = struct{}{}
	e.mu.Unlock()
	defer e.closeConnection(conn)
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := e.sendUtterance(conn, text); err != nil {
		return core.AudioHandle{}, e.contextErr(ctx, err)
	}

	buf := audio.NewBuffer(e.encoding, sampleRateFor(format), 1)
	if err := e.receive(conn, buf); err != nil {
		return core.AudioHandle{}, e.contextErr(ctx, err)
	}

	chunk, err := buf.Chunk()
	if err != nil {
		return core.AudioHandle{}, err
	}
	handle, err := e.writer.Write(chunk, languageCode, "elevenlabs")
	if err != nil {
		return core.AudioHandle{}, err
	}
	e.logger.Debug("speech stored", "path", handle.Path, "bytes", handle.SizeBytes)
	return handle, nil
}

// sendUtterance sends BOS, the text with a flush, then EOS.
func (e *ElevenLabsTTS) sendUtterance(conn *websocket.Conn, text string) error {
	bos := elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	if err := e.sendJSON(conn, bos); err != nil {
		return err
	}
	// The API expects text to end with a space.
	if err := e.sendJSON(conn, elTextMessage{Text: text + " ", Flush: true}); err != nil {
		return err
	}
	return e.sendJSON(conn, elTextMessage{Text: ""})
}

// receive collects audio until the provider reports isFinal.
func (e *ElevenLabsTTS) receive(conn *websocket.Conn, buf *audio.Buffer) error {
	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read failed after %d bytes: %w", buf.Len(), err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg elServerMessage
		if err := sonic.Unmarshal(message, &msg); err != nil {
			e.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if msg.Error != "" {
			return fmt.Errorf("ElevenLabs error: %s: %s (code: %d)", msg.Error, msg.Message, msg.Code)
		}
		if msg.Audio != "" {
			audioData, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				return fmt.Errorf("failed to decode audio: %w", err)
			}
			buf.Write(audioData)
		}
		if msg.IsFinal {
			return nil
		}
	}
}

func (e *ElevenLabsTTS) establishConnection(ctx context.Context, format, languageCode string) (*websocket.Conn, error) {
	const maxRetries = 3
	const baseDelay = 500 * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(attempt)
			e.logger.Infof("ElevenLabs TTS: retrying connection (attempt %d/%d) in %v after error: %v",
				attempt+1, maxRetries, delay, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		conn, err := e.dialConnection(ctx, format, languageCode)
		if err != nil {
			lastErr = err
			continue
		}
		return conn, nil
	}
	return nil, fmt.Errorf("failed to connect after %d attempts: %w", maxRetries, lastErr)
}

// dialConnection performs a single WebSocket dial to ElevenLabs
func (e *ElevenLabsTTS) dialConnection(ctx context.Context, format, languageCode string) (*websocket.Conn, error) {
	query := url.Values{}
	query.Set("model_id", e.config.ModelID)
	query.Set("output_format", format)
	if languageCode != "" {
		query.Set("language_code", languageCode)
	}
	endpoint := fmt.Sprintf("%s/%s/stream-input?%s", e.config.BaseURL, e.config.VoiceID, query.Encode())

	headers := map[string][]string{
		"xi-api-key": {e.config.APIKey},
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, endpoint, headers)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (e *ElevenLabsTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (e *ElevenLabsTTS) contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (e *ElevenLabsTTS) closeConnection(conn *websocket.Conn) {
	e.mu.Lock()
	delete(e.active, conn)
	e.mu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
}

// Cleanup aborts every utterance still streaming.
func (e *ElevenLabsTTS) Cleanup() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for conn := range e.active {
		conn.Close()
	}
	return nil
}
