// Package client is a small HTTP client for a running relay server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Venkie07/kyla-api/pkg/llm"
)

// HeaderSessionID matches the relay server's session header.
const HeaderSessionID = "X-Session-ID"

// StreamError is returned by Chat when the server ended the reply with an
// error line.
type StreamError struct {
	Message string
}

func (e *StreamError) Error() string {
	return "relay stream failed: " + e.Message
}

// Client talks to one relay server, optionally pinned to a session.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// SessionID is sent with every request when set.
	SessionID string
}

// New creates a client for the server at baseURL.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Chat sends message and copies reply fragments to w as they arrive. It
// returns the assembled reply. A *StreamError is returned when the server
// reports a failure after the stream began; the partial reply is still
// returned and written.
func (c *Client) Chat(ctx context.Context, message string, w io.Writer) (string, error) {
	body, err := json.Marshal(llm.ChatRequest{Message: &message, SessionID: c.SessionID})
	if err != nil {
		return "", fmt.Errorf("could not marshal request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", readError(resp)
	}
	if id := resp.Header.Get(HeaderSessionID); id != "" && c.SessionID == "" {
		c.SessionID = id
	}

	return copyReply(resp.Body, w)
}

// copyReply streams r to w, holding back anything that may turn out to be the
// server's error marker. The marker only counts as the final line of the
// stream; the same text earlier in a reply is ordinary content.
func copyReply(r io.Reader, w io.Writer) (string, error) {
	var full strings.Builder
	written := 0
	buf := make([]byte, 4096)

	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			full.Write(buf[:n])
			text := full.String()

			limit := len(text) - pendingMarker(text)
			if m := markerStart(text); m >= 0 {
				limit = m
			}
			if limit > written {
				if _, err := io.WriteString(w, text[written:limit]); err != nil {
					return text[:written], fmt.Errorf("could not write reply: %w", err)
				}
				written = limit
			}
		}

		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return full.String()[:written], fmt.Errorf("could not read reply: %w", readErr)
		}
	}

	text := full.String()
	if m := markerStart(text); m >= 0 && strings.HasSuffix(text, "\n") {
		return text[:m], &StreamError{Message: strings.TrimSpace(text[m+len(llm.StreamErrorPrefix):])}
	}
	if written < len(text) {
		if _, err := io.WriteString(w, text[written:]); err != nil {
			return text[:written], fmt.Errorf("could not write reply: %w", err)
		}
	}
	return text, nil
}

// markerStart returns where a possible error marker begins: the last marker
// prefix in text, provided nothing but a final newline follows its line.
// It returns -1 otherwise.
func markerStart(text string) int {
	i := strings.LastIndex(text, llm.StreamErrorPrefix)
	if i < 0 {
		return -1
	}
	rest := text[i+len(llm.StreamErrorPrefix):]
	if j := strings.IndexByte(rest, '\n'); j >= 0 && j != len(rest)-1 {
		return -1
	}
	return i
}

// pendingMarker returns how many trailing bytes of text could begin the
// error marker.
func pendingMarker(text string) int {
	for k := len(llm.StreamErrorPrefix) - 1; k > 0; k-- {
		if strings.HasSuffix(text, llm.StreamErrorPrefix[:k]) {
			return k
		}
	}
	return 0
}

// Reset clears the conversation on the server.
func (c *Client) Reset(ctx context.Context) (string, error) {
	var out llm.StatusResponse
	if err := c.doJSON(ctx, http.MethodPost, "/reset", http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// Status returns the server's liveness message.
func (c *Client) Status(ctx context.Context) (string, error) {
	var out llm.StatusResponse
	if err := c.doJSON(ctx, http.MethodGet, "/", http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

// History returns the server-side conversation for the client's session.
func (c *Client) History(ctx context.Context) (*llm.HistoryResponse, error) {
	var out llm.HistoryResponse
	if err := c.doJSON(ctx, http.MethodGet, "/history", http.StatusOK, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewSession asks the server for a fresh session and pins the client to it.
func (c *Client) NewSession(ctx context.Context) (string, error) {
	var out llm.SessionResponse
	if err := c.doJSON(ctx, http.MethodPost, "/sessions", http.StatusCreated, &out); err != nil {
		return "", err
	}
	c.SessionID = out.SessionID
	return out.SessionID, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, want int, out any) error {
	resp, err := c.do(ctx, method, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		return readError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("could not decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.SessionID != "" {
		req.Header.Set(HeaderSessionID, c.SessionID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	return resp, nil
}

func readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var e llm.ErrorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
	}
	return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
