// Package upstream talks to hosted chat-completion APIs that speak the OpenAI
// streaming wire format (OpenAI, the Hugging Face router, OpenRouter, vLLM...).
package upstream

import (
	"context"
	"fmt"

	"github.com/Venkie07/kyla-api/pkg/llm"
)

// Request is one streaming completion call.
type Request struct {
	// Model overrides the client's configured model when set.
	Model    string
	Messages []llm.Message
	Options  llm.Options
}

// Client starts streaming completions.
type Client interface {
	// Stream sends req and returns a Stream of chunks. The caller must
	// Close the stream, even when iteration ends early.
	Stream(ctx context.Context, req Request) (Stream, error)
}

// Stream yields completion chunks in the order the upstream sent them.
type Stream interface {
	// Next returns the next chunk, or io.EOF once the upstream finished.
	Next() (Chunk, error)
	Close() error
}

// ProviderError is returned when the upstream API reports a failure, either
// as a non-200 response or as an error event inside the stream.
type ProviderError struct {
	// StatusCode is the HTTP status code, zero for in-stream errors.
	StatusCode int

	// Type is the provider-specific error type string.
	Type string

	Message string
}

func (err *ProviderError) Error() string {
	switch {
	case err.StatusCode == 0 && err.Type != "":
		return fmt.Sprintf("upstream: stream error: %s: %s", err.Type, err.Message)
	case err.StatusCode == 0:
		return fmt.Sprintf("upstream: stream error: %s", err.Message)
	case err.Type != "":
		return fmt.Sprintf("upstream: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	default:
		return fmt.Sprintf("upstream: HTTP %d: %s", err.StatusCode, err.Message)
	}
}

// IsRateLimited returns true for HTTP 429 responses.
func (err *ProviderError) IsRateLimited() bool {
	return err.StatusCode == 429
}
