package upstream

// Chunk is one decoded streaming unit. Delta and Content are pointers so a
// missing field can be told apart from an empty one.
type Chunk struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
}

// Choice is a single completion alternative within a chunk.
type Choice struct {
	Index        int     `json:"index"`
	Delta        *Delta  `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta is the incremental message content carried by a choice.
type Delta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content"`
}

// Fragment returns the text carried by the first choice. It reports false
// when the chunk has no choices, no delta, or empty content.
func (c Chunk) Fragment() (string, bool) {
	if len(c.Choices) == 0 {
		return "", false
	}
	delta := c.Choices[0].Delta
	if delta == nil || delta.Content == nil || *delta.Content == "" {
		return "", false
	}
	return *delta.Content, true
}

// TextChunk builds a chunk carrying a single text fragment.
func TextChunk(text string) Chunk {
	return Chunk{Choices: []Choice{{Delta: &Delta{Content: &text}}}}
}
