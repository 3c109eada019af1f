package relay

import "time"

// DefaultUpstreamTimeout bounds one upstream generation. LLM requests can be
// slow, especially for long replies.
const DefaultUpstreamTimeout = 5 * time.Minute

// Config tunes the relay. Model and sampling options belong to the upstream
// client so that they can be reloaded while running.
type Config struct {
	// UpstreamTimeout bounds each upstream stream. Zero disables the deadline.
	UpstreamTimeout time.Duration
}
