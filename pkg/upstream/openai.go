package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/logger"
)

const (
	// DefaultBaseURL is the Hugging Face inference router.
	DefaultBaseURL = "https://router.huggingface.co/v1"

	// DefaultModel is the model the relay asks for when none is configured.
	DefaultModel = "meta-llama/Llama-3.1-8B-Instruct:novita"

	doneSentinel = "[DONE]"
)

// OpenAIConfig configures an OpenAI-compatible client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Options llm.Options

	// HTTPClient defaults to a client without a global timeout; deadlines
	// come from the request context so long generations are not cut off.
	HTTPClient *http.Client
}

// Settings are the generation defaults that can change while running.
type Settings struct {
	Model   string
	Options llm.Options
}

// OpenAI implements Client for the chat completions API.
type OpenAI struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	settings   atomic.Pointer[Settings]
	logger     *zap.Logger
}

// NewOpenAI creates an OpenAI-compatible client.
func NewOpenAI(config OpenAIConfig, logger *zap.Logger) *OpenAI {
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{}
	}

	c := &OpenAI{
		baseURL:    strings.TrimRight(config.BaseURL, "/"),
		apiKey:     config.APIKey,
		httpClient: config.HTTPClient,
		logger:     logger,
	}
	c.settings.Store(&Settings{Model: config.Model, Options: config.Options.Clone()})
	return c
}

// Settings returns the current generation defaults.
func (c *OpenAI) Settings() Settings {
	return *c.settings.Load()
}

// UpdateSettings swaps the generation defaults used by later requests.
// An empty model keeps the current one.
func (c *OpenAI) UpdateSettings(s Settings) {
	if s.Model == "" {
		s.Model = c.Settings().Model
	}
	s.Options = s.Options.Clone()
	c.settings.Store(&s)
	c.logger.Info("upstream settings updated", zap.String("model", s.Model))
}

// Stream sends a streaming chat completion request.
func (c *OpenAI) Stream(ctx context.Context, req Request) (Stream, error) {
	wireReq := c.buildRequest(req)

	body, err := json.Marshal(wireReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("forwarding streaming request to upstream",
		zap.String("url", endpoint),
		zap.String("model", wireReq.Model),
		zap.Int("message_count", len(wireReq.Messages)),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		defer httpResp.Body.Close()
		return nil, readProviderError(httpResp)
	}

	return &openaiStream{
		body:   httpResp.Body,
		events: newEventReader(httpResp.Body),
		logger: c.logger,
	}, nil
}

func (c *OpenAI) buildRequest(req Request) openaiRequest {
	settings := c.Settings()

	model := req.Model
	if model == "" {
		model = settings.Model
	}

	opts := settings.Options
	if req.Options.Temperature != nil {
		opts.Temperature = req.Options.Temperature
	}
	if req.Options.TopP != nil {
		opts.TopP = req.Options.TopP
	}
	if req.Options.MaxTokens != nil {
		opts.MaxTokens = req.Options.MaxTokens
	}
	if len(req.Options.Stop) > 0 {
		opts.Stop = req.Options.Stop
	}

	messages := make([]openaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openaiMessage{Role: string(m.Role), Content: m.Content}
	}

	return openaiRequest{
		Model:       model,
		Messages:    messages,
		Stream:      true,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
	}
}

type openaiStream struct {
	body   io.ReadCloser
	events *eventReader
	logger *zap.Logger
	done   bool
}

func (s *openaiStream) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}

	for {
		payload, err := s.events.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.done = true
				return Chunk{}, io.EOF
			}
			return Chunk{}, fmt.Errorf("read stream: %w", err)
		}

		if strings.TrimSpace(payload) == doneSentinel {
			s.done = true
			return Chunk{}, io.EOF
		}

		var chunk openaiStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			s.logger.Warn("skipping malformed chunk",
				zap.Error(err),
				zap.String("payload", logger.Preview(payload, 200)),
			)
			continue
		}

		if perr := inBandError(chunk.Error); perr != nil {
			return Chunk{}, perr
		}

		return chunk.Chunk, nil
	}
}

func (s *openaiStream) Close() error {
	return s.body.Close()
}

// readProviderError parses {"error":{"type":"...","message":"..."}} bodies,
// falling back to the raw body text.
func readProviderError(httpResp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))

	var wire struct {
		Error *openaiError `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err == nil && wire.Error != nil && wire.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResp.StatusCode,
			Type:       wire.Error.Type,
			Message:    wire.Error.Message,
		}
	}

	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(httpResp.StatusCode)
	}
	return &ProviderError{StatusCode: httpResp.StatusCode, Message: msg}
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Stream      bool            `json:"stream"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// openaiStreamChunk embeds Chunk so in-band error events decode alongside
// normal completion chunks. Providers send the error either as an object or
// as a bare string.
type openaiStreamChunk struct {
	Chunk
	Error json.RawMessage `json:"error,omitempty"`
}

func inBandError(raw json.RawMessage) *ProviderError {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var obj openaiError
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message == "" && obj.Type == "" {
			return nil
		}
		msg := obj.Message
		if msg == "" {
			msg = obj.Type
		}
		return &ProviderError{Type: obj.Type, Message: msg}
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil && text != "" {
		return &ProviderError{Message: text}
	}
	return nil
}
