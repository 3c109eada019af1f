package llm

// ChatRequest is the body accepted by the relay's chat endpoint.
type ChatRequest struct {
	Message   *string `json:"message"`              // The user's turn; required, but may be the empty string
	SessionID string  `json:"session_id,omitempty"` // Optional conversation key, defaults to the shared session
}
