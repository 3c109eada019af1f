package memory

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Venkie07/kyla-api/pkg/llm"
)

const (
	// DefaultSeed is the system instruction every conversation starts from.
	DefaultSeed = "You are a friendly, conversational AI assistant who remembers context."

	// DefaultMaxMessages is the number of recent turns kept behind the seed.
	DefaultMaxMessages = 100
)

// ErrInvalidMessage is returned by Append for messages a buffer cannot hold.
var ErrInvalidMessage = errors.New("invalid message")

// TruncateStats summarizes a truncation pass.
type TruncateStats struct {
	Before  int
	After   int
	Dropped int
}

// Truncated reports whether the pass removed anything.
func (s TruncateStats) Truncated() bool {
	return s.Dropped > 0
}

// Buffer is an ordered conversation seeded with one system message.
// It is safe for concurrent use.
type Buffer struct {
	mu          sync.RWMutex
	seed        string
	maxMessages int
	messages    []llm.Message
	generation  uint64
}

// NewBuffer creates a buffer holding only the seed message. A non-positive
// maxMessages selects DefaultMaxMessages.
func NewBuffer(seed string, maxMessages int) *Buffer {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Buffer{
		seed:        seed,
		maxMessages: maxMessages,
		messages:    []llm.Message{llm.SystemMessage(seed)},
	}
}

// Seed returns the system message at position 0.
func (b *Buffer) Seed() llm.Message {
	return llm.SystemMessage(b.seed)
}

// MaxMessages returns the truncation window size.
func (b *Buffer) MaxMessages() int {
	return b.maxMessages
}

// Append adds msg to the end of the conversation. Only user and assistant
// messages are accepted; content may be empty.
func (b *Buffer) Append(msg llm.Message) error {
	if err := validate(msg); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, msg)
	return nil
}

// AppendIfGeneration appends msg only when the buffer has not been reset
// since generation was observed. It reports whether the message was added.
func (b *Buffer) AppendIfGeneration(generation uint64, msg llm.Message) (bool, error) {
	if err := validate(msg); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.generation != generation {
		return false, nil
	}
	b.messages = append(b.messages, msg)
	return true, nil
}

// TruncateIfNeeded replaces the conversation with the seed plus the last
// MaxMessages entries once it exceeds MaxMessages.
func (b *Buffer) TruncateIfNeeded() TruncateStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	stats := TruncateStats{Before: len(b.messages), After: len(b.messages)}
	if len(b.messages) <= b.maxMessages {
		return stats
	}

	tail := b.messages[len(b.messages)-b.maxMessages:]
	next := make([]llm.Message, 0, b.maxMessages+1)
	next = append(next, b.messages[0])
	next = append(next, tail...)
	b.messages = next

	stats.After = len(next)
	stats.Dropped = stats.Before - stats.After
	return stats
}

// Reset discards the conversation and starts over from a fresh seed.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = []llm.Message{llm.SystemMessage(b.seed)}
	b.generation++
}

// Snapshot returns a copy of the current conversation, oldest first.
func (b *Buffer) Snapshot() []llm.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]llm.Message, len(b.messages))
	copy(out, b.messages)
	return out
}

// SnapshotWithGeneration returns a snapshot together with the generation it
// was taken in.
func (b *Buffer) SnapshotWithGeneration() ([]llm.Message, uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]llm.Message, len(b.messages))
	copy(out, b.messages)
	return out, b.generation
}

// Len returns the number of messages, seed included.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.messages)
}

// Generation increments on every Reset.
func (b *Buffer) Generation() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.generation
}

func validate(msg llm.Message) error {
	switch msg.Role {
	case llm.RoleUser, llm.RoleAssistant:
		return nil
	case llm.RoleSystem:
		return fmt.Errorf("%w: the seed is the only system message", ErrInvalidMessage)
	case "":
		return fmt.Errorf("%w: role is required", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: unknown role %q", ErrInvalidMessage, msg.Role)
	}
}
