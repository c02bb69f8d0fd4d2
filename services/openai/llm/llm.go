package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"

	"voicechat/core"
)

// OpenAILLMService implements core.ModelService against the OpenAI chat
// completions API or any server that speaks the same protocol.
type OpenAILLMService struct {
	client      *openai.Client
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float32
	streaming   bool
	verify      bool
	logger      *core.Logger

	// Streaming management
	activeStreams map[string]*openai.ChatCompletionStream
	streamsMutex  sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc

	isInitialized bool
	mu            sync.RWMutex
}

// Config holds the configuration for OpenAI service
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	// Streaming selects the streaming endpoint. When false the full reply is
	// delivered as a single fragment.
	Streaming bool `json:"streaming"`
	// VerifyOnInit lists models once during Init to fail fast on a bad key.
	VerifyOnInit bool `json:"verify_on_init"`
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config, logger *core.Logger) *OpenAILLMService {
	return &OpenAILLMService{
		apiKey:        config.APIKey,
		baseURL:       config.BaseURL,
		maxTokens:     config.MaxTokens,
		temperature:   config.Temperature,
		streaming:     config.Streaming,
		verify:        config.VerifyOnInit,
		logger:        logger.OrDefault().With(map[string]any{"component": "openai"}),
		activeStreams: make(map[string]*openai.ChatCompletionStream),
	}
}

// Init builds the API client.
func (s *OpenAILLMService) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" && s.baseURL == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.client = s.newClient()

	if s.verify {
		if _, err := s.client.ListModels(ctx); err != nil {
			s.cancel()
			return fmt.Errorf("failed to connect to OpenAI: %w", err)
		}
	}

	s.isInitialized = true
	return nil
}

func (s *OpenAILLMService) newClient() *openai.Client {
	cfg := openai.DefaultConfig(s.apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// Cleanup performs cleanup operations
func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopAllStreams()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.client = nil
	s.isInitialized = false
	return nil
}

// ActiveStreams reports how many streams are currently open.
func (s *OpenAILLMService) ActiveStreams() int {
	s.streamsMutex.Lock()
	defer s.streamsMutex.Unlock()
	return len(s.activeStreams)
}

func (s *OpenAILLMService) stopAllStreams() {
	s.streamsMutex.Lock()
	defer s.streamsMutex.Unlock()

	for id, stream := range s.activeStreams {
		if stream != nil {
			stream.Close()
		}
		delete(s.activeStreams, id)
	}
}

func (s *OpenAILLMService) registerStream(id string, stream *openai.ChatCompletionStream) {
	s.streamsMutex.Lock()
	defer s.streamsMutex.Unlock()
	s.activeStreams[id] = stream
}

func (s *OpenAILLMService) unregisterStream(id string) {
	s.streamsMutex.Lock()
	defer s.streamsMutex.Unlock()
	delete(s.activeStreams, id)
}

// StreamCompletion sends messages to modelID and returns the reply as a
// fragment stream. The caller must Close the stream.
func (s *OpenAILLMService) StreamCompletion(ctx context.Context, modelID string, messages []core.Turn) (core.FragmentStream, error) {
	s.mu.RLock()
	if !s.isInitialized {
		s.mu.RUnlock()
		return nil, fmt.Errorf("OpenAI service not initialized")
	}
	client, serviceCtx := s.client, s.ctx
	s.mu.RUnlock()

	if len(messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}

	// The request dies with either the caller's context or Cleanup.
	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(serviceCtx, cancel)

	req := openai.ChatCompletionRequest{
		Model:       modelID,
		Messages:    convertMessages(messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
	}

	if !s.streaming {
		defer stop()
		defer cancel()
		resp, err := client.CreateChatCompletion(reqCtx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to create completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return core.NewSliceStream(), nil
		}
		return core.NewSliceStream(resp.Choices[0].Message.Content), nil
	}

	req.Stream = true
	stream, err := client.CreateChatCompletionStream(reqCtx, req)
	if err != nil {
		stop()
		cancel()
		return nil, fmt.Errorf("failed to create completion stream: %w", err)
	}

	id := uuid.NewString()
	s.registerStream(id, stream)
	s.logger.Debug("completion stream opened", "stream_id", id, "model", modelID, "messages", len(messages))

	return &completionStream{
		stream: stream,
		release: func() {
			s.unregisterStream(id)
			stop()
			cancel()
		},
	}, nil
}

// completionStream adapts an openai.ChatCompletionStream to core.FragmentStream.
type completionStream struct {
	stream  *openai.ChatCompletionStream
	release func()
	once    sync.Once
}

func (c *completionStream) Recv() (string, error) {
	for {
		response, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if len(response.Choices) == 0 {
			continue
		}
		// Role-only and finish deltas carry no text; skip them.
		if content := response.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (c *completionStream) Close() error {
	c.once.Do(func() {
		c.stream.Close()
		c.release()
	})
	return nil
}

func convertMessages(turns []core.Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		out = append(out, openai.ChatCompletionMessage{
			Role:    convertRole(turn.Role),
			Content: turn.Content,
		})
	}
	return out
}

func convertRole(role core.Role) string {
	switch role {
	case core.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
