// Package llm provides the internal representations of chat messages and the
// request and response bodies exchanged with relay callers.
package llm

// ErrorResponse is the JSON body returned for failures that happen before a
// response stream has started.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StreamErrorPrefix starts the terminal line written into a plain-text reply
// stream when the turn fails after the response has begun.
const StreamErrorPrefix = "\n[error] "
