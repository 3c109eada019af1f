// Package memory holds the bounded, in-process conversation buffers that give
// the relay its conversational continuity.
//
// A Buffer always starts with a single seed system message and is trimmed by
// message count: once it grows past MaxMessages it is replaced by the seed
// followed by the most recent MaxMessages entries, so a trimmed buffer holds
// MaxMessages+1 messages. Nothing here is persisted; a process restart starts
// every conversation over.
package memory
