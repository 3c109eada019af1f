package upstream_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/upstream"
)

type capturedRequest struct {
	Model       string        `json:"model"`
	Messages    []llm.Message `json:"messages"`
	Stream      bool          `json:"stream"`
	Temperature *float64      `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens"`
}

func drain(stream upstream.Stream) ([]upstream.Chunk, error) {
	var chunks []upstream.Chunk
	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return chunks, nil
		}
		if err != nil {
			return chunks, err
		}
		chunks = append(chunks, chunk)
	}
}

func fragments(chunks []upstream.Chunk) []string {
	var out []string
	for _, c := range chunks {
		if text, ok := c.Fragment(); ok {
			out = append(out, text)
		}
	}
	return out
}

var _ = Describe("OpenAI", func() {
	var (
		server   *httptest.Server
		captured capturedRequest
		headers  http.Header
		body     string
		status   int
		client   *upstream.OpenAI
	)

	BeforeEach(func() {
		status = http.StatusOK
		body = ""
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer GinkgoRecover()
			Expect(r.Method).To(Equal(http.MethodPost))
			Expect(r.URL.Path).To(Equal("/v1/chat/completions"))
			headers = r.Header.Clone()
			Expect(json.NewDecoder(r.Body).Decode(&captured)).To(Succeed())

			w.Header().Set("Content-Type", "text/event-stream")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
		}))
		DeferCleanup(server.Close)

		client = upstream.NewOpenAI(upstream.OpenAIConfig{
			BaseURL: server.URL + "/v1/",
			APIKey:  "secret",
			Model:   "test-model",
		}, zap.NewNop())
	})

	sse := func(events ...string) string {
		var b strings.Builder
		for _, e := range events {
			fmt.Fprintf(&b, "data: %s\n\n", e)
		}
		return b.String()
	}

	It("sends the conversation with auth and streaming enabled", func() {
		body = sse(`[DONE]`)

		stream, err := client.Stream(context.Background(), upstream.Request{
			Messages: []llm.Message{llm.SystemMessage("seed"), llm.UserMessage("hello")},
		})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()
		_, err = drain(stream)
		Expect(err).NotTo(HaveOccurred())

		Expect(headers.Get("Authorization")).To(Equal("Bearer secret"))
		Expect(headers.Get("Accept")).To(Equal("text/event-stream"))
		Expect(captured.Model).To(Equal("test-model"))
		Expect(captured.Stream).To(BeTrue())
		Expect(captured.Messages).To(Equal([]llm.Message{
			{Role: llm.RoleSystem, Content: "seed"},
			{Role: llm.RoleUser, Content: "hello"},
		}))
	})

	It("yields chunks in order and stops at [DONE]", func() {
		body = sse(
			`{"choices":[{"delta":{"role":"assistant"}}]}`,
			`{"choices":[{"delta":{"content":"Hi"}}]}`,
			`{"choices":[{"delta":{"content":" there"}}]}`,
			`{"choices":[]}`,
			`[DONE]`,
			`{"choices":[{"delta":{"content":"ignored"}}]}`,
		)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		chunks, err := drain(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(chunks).To(HaveLen(4))
		Expect(fragments(chunks)).To(Equal([]string{"Hi", " there"}))
	})

	It("treats a body that ends without [DONE] as complete", func() {
		body = sse(`{"choices":[{"delta":{"content":"partial"}}]}`)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		chunks, err := drain(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments(chunks)).To(Equal([]string{"partial"}))
	})

	It("skips malformed chunks", func() {
		body = sse(`{not json`, `{"choices":[{"delta":{"content":"ok"}}]}`, `[DONE]`)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		chunks, err := drain(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments(chunks)).To(Equal([]string{"ok"}))
	})

	It("surfaces in-band error events", func() {
		body = sse(
			`{"choices":[{"delta":{"content":"Hi"}}]}`,
			`{"error":{"type":"server_error","message":"boom"}}`,
		)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		chunks, err := drain(stream)
		Expect(fragments(chunks)).To(Equal([]string{"Hi"}))

		var perr *upstream.ProviderError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Type).To(Equal("server_error"))
		Expect(perr.Message).To(Equal("boom"))
	})

	It("surfaces in-band errors that carry only a type", func() {
		body = sse(
			`{"choices":[{"delta":{"content":"Hi"}}]}`,
			`{"error":{"type":"server_error","message":""}}`,
			`{"choices":[{"delta":{"content":"never"}}]}`,
		)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		chunks, err := drain(stream)
		Expect(fragments(chunks)).To(Equal([]string{"Hi"}))

		var perr *upstream.ProviderError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.Type).To(Equal("server_error"))
		Expect(perr.Message).To(Equal("server_error"))
	})

	It("ignores an empty error object", func() {
		body = sse(
			`{"choices":[{"delta":{"content":"ok"}}],"error":{}}`,
		)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		chunks, err := drain(stream)
		Expect(err).NotTo(HaveOccurred())
		Expect(fragments(chunks)).To(Equal([]string{"ok"}))
	})

	It("surfaces string error events", func() {
		body = sse(`{"error":"model overloaded"}`)

		stream, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()

		_, err = drain(stream)
		Expect(err).To(MatchError(ContainSubstring("model overloaded")))
	})

	It("returns a ProviderError for non-200 responses", func() {
		status = http.StatusTooManyRequests
		body = `{"error":{"type":"rate_limit_error","message":"slow down"}}`

		_, err := client.Stream(context.Background(), upstream.Request{})

		var perr *upstream.ProviderError
		Expect(errors.As(err, &perr)).To(BeTrue())
		Expect(perr.StatusCode).To(Equal(http.StatusTooManyRequests))
		Expect(perr.IsRateLimited()).To(BeTrue())
		Expect(perr.Error()).To(Equal("upstream: HTTP 429: rate_limit_error: slow down"))
	})

	It("falls back to the raw body for unstructured errors", func() {
		status = http.StatusBadGateway
		body = "bad gateway"

		_, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).To(MatchError("upstream: HTTP 502: bad gateway"))
	})

	It("applies request overrides over the configured settings", func() {
		body = sse(`[DONE]`)
		temp := 0.2
		maxTokens := 64
		client.UpdateSettings(upstream.Settings{Options: llm.Options{Temperature: &temp}})

		stream, err := client.Stream(context.Background(), upstream.Request{
			Model:   "override",
			Options: llm.Options{MaxTokens: &maxTokens},
		})
		Expect(err).NotTo(HaveOccurred())
		defer stream.Close()
		_, _ = drain(stream)

		Expect(captured.Model).To(Equal("override"))
		Expect(*captured.Temperature).To(Equal(0.2))
		Expect(*captured.MaxTokens).To(Equal(64))
	})

	It("keeps the model when settings are updated without one", func() {
		client.UpdateSettings(upstream.Settings{})
		Expect(client.Settings().Model).To(Equal("test-model"))

		client.UpdateSettings(upstream.Settings{Model: "next"})
		Expect(client.Settings().Model).To(Equal("next"))
	})

	It("fails to start when the upstream is unreachable", func() {
		server.Close()

		_, err := client.Stream(context.Background(), upstream.Request{})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Chunk", func() {
	text := func(s string) *string { return &s }

	DescribeTable("Fragment",
		func(chunk upstream.Chunk, want string, ok bool) {
			got, gotOK := chunk.Fragment()
			Expect(gotOK).To(Equal(ok))
			Expect(got).To(Equal(want))
		},
		Entry("no choices", upstream.Chunk{}, "", false),
		Entry("nil delta", upstream.Chunk{Choices: []upstream.Choice{{}}}, "", false),
		Entry("absent content", upstream.Chunk{Choices: []upstream.Choice{{Delta: &upstream.Delta{Role: "assistant"}}}}, "", false),
		Entry("empty content", upstream.Chunk{Choices: []upstream.Choice{{Delta: &upstream.Delta{Content: text("")}}}}, "", false),
		Entry("text", upstream.TextChunk("Hi"), "Hi", true),
	)
})
