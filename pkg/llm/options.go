package llm

// Options contains model inference parameters forwarded upstream.
type Options struct {
	// Sampling parameters
	Temperature *float64 `json:"temperature,omitempty"` // Creativity (0.0-2.0)
	TopP        *float64 `json:"top_p,omitempty"`       // Nucleus sampling threshold

	// Length parameters
	MaxTokens *int `json:"max_tokens,omitempty"` // Max tokens to generate

	// Stop sequences
	Stop []string `json:"stop,omitempty"` // Stop generation at these sequences
}

// Clone returns a deep copy of o so callers can hand it across goroutines.
func (o Options) Clone() Options {
	out := Options{}
	if o.Temperature != nil {
		t := *o.Temperature
		out.Temperature = &t
	}
	if o.TopP != nil {
		p := *o.TopP
		out.TopP = &p
	}
	if o.MaxTokens != nil {
		m := *o.MaxTokens
		out.MaxTokens = &m
	}
	if len(o.Stop) > 0 {
		out.Stop = append([]string(nil), o.Stop...)
	}
	return out
}
