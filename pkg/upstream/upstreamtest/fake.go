// Package upstreamtest provides a scripted upstream.Client for tests.
package upstreamtest

import (
	"context"
	"io"
	"sync"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/upstream"
)

// Step is one scripted stream event: a chunk, an error, or a pause that
// blocks until Gate is closed or the request context ends.
type Step struct {
	Chunk upstream.Chunk
	Err   error
	Gate  <-chan struct{}
}

// Text returns a step delivering a single text fragment.
func Text(s string) Step {
	return Step{Chunk: upstream.TextChunk(s)}
}

// Raw returns a step delivering chunk as-is.
func Raw(chunk upstream.Chunk) Step {
	return Step{Chunk: chunk}
}

// Fail returns a step that ends the stream with err.
func Fail(err error) Step {
	return Step{Err: err}
}

// Wait returns a step that blocks until gate is closed.
func Wait(gate <-chan struct{}) Step {
	return Step{Gate: gate}
}

// Client replays Script for every call and records what it was sent.
type Client struct {
	// Script is replayed by each stream.
	Script []Step

	// StartErr, when set, is returned by Stream instead of a stream.
	StartErr error

	// Reply, when set, builds the script per request instead of Script.
	Reply func(req upstream.Request) []Step

	mu       sync.Mutex
	requests []upstream.Request
	closed   int
}

// Stream records req and returns a stream replaying the script.
func (c *Client) Stream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	c.mu.Lock()
	req.Messages = append([]llm.Message(nil), req.Messages...)
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.StartErr != nil {
		return nil, c.StartErr
	}

	steps := c.Script
	if c.Reply != nil {
		steps = c.Reply(req)
	}
	return &stream{ctx: ctx, steps: steps, client: c}, nil
}

// Requests returns the requests received so far.
func (c *Client) Requests() []upstream.Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]upstream.Request(nil), c.requests...)
}

// Closed returns how many streams have been closed.
func (c *Client) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type stream struct {
	ctx    context.Context
	steps  []Step
	client *Client
	closed bool
}

func (s *stream) Next() (upstream.Chunk, error) {
	for len(s.steps) > 0 {
		step := s.steps[0]
		s.steps = s.steps[1:]

		if step.Gate != nil {
			select {
			case <-step.Gate:
				continue
			case <-s.ctx.Done():
				return upstream.Chunk{}, s.ctx.Err()
			}
		}
		if err := s.ctx.Err(); err != nil {
			return upstream.Chunk{}, err
		}
		if step.Err != nil {
			return upstream.Chunk{}, step.Err
		}
		return step.Chunk, nil
	}
	return upstream.Chunk{}, io.EOF
}

func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.client.mu.Lock()
	s.client.closed++
	s.client.mu.Unlock()
	return nil
}
