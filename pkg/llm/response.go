package llm

// StatusResponse is returned by the liveness and reset endpoints.
type StatusResponse struct {
	Status string `json:"status"`
}

// SessionResponse carries a freshly allocated session identifier.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// HistoryResponse contains the conversation buffer for one session.
type HistoryResponse struct {
	SessionID string `json:"session_id"`
	// Messages in chronological order, the seed system message first
	Messages []Message `json:"messages"`
	// Depth is the number of messages in the buffer
	Depth int `json:"depth"`
}
