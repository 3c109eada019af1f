// Package relay forwards chat turns to an upstream model, streams the reply
// back fragment by fragment, and keeps each session's conversation buffer
// current.
//
// A turn runs: append the user message, truncate, snapshot, stream from the
// upstream, then append the assembled assistant reply once the upstream has
// finished. Turns on one session are serialized. If the upstream fails, or the
// caller stops consuming fragments, the upstream call is cancelled and no
// assistant message is recorded; the user message stays.
package relay

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/logger"
	"github.com/Venkie07/kyla-api/pkg/memory"
	"github.com/Venkie07/kyla-api/pkg/upstream"
)

// Relay owns the session store and the upstream client.
type Relay struct {
	store    *memory.Store
	upstream upstream.Client
	config   Config
	logger   *zap.Logger
}

// New creates a Relay.
func New(store *memory.Store, client upstream.Client, config Config, logger *zap.Logger) *Relay {
	return &Relay{
		store:    store,
		upstream: client,
		config:   config,
		logger:   logger,
	}
}

// HandleTurn returns the lazy fragment sequence for one user turn. Nothing
// happens until the sequence is ranged over. Each fragment is yielded with a
// nil error in upstream order; a failed turn ends with a single ("", err)
// pair where err is an *Error. Breaking out of the loop cancels the upstream.
func (r *Relay) HandleTurn(ctx context.Context, sessionID, userText string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		r.handleTurn(ctx, sessionID, userText, yield)
	}
}

// Complete runs a turn to the end and returns the assembled reply.
func (r *Relay) Complete(ctx context.Context, sessionID, userText string) (string, error) {
	var reply strings.Builder
	for fragment, err := range r.HandleTurn(ctx, sessionID, userText) {
		if err != nil {
			return reply.String(), err
		}
		reply.WriteString(fragment)
	}
	return reply.String(), nil
}

func (r *Relay) handleTurn(ctx context.Context, sessionID, userText string, yield func(string, error) bool) {
	startTime := time.Now()
	sess := r.store.Get(sessionID)
	log := r.logger.With(zap.String("session", sess.ID))

	if err := sess.Lock(ctx); err != nil {
		log.Debug("gave up waiting for session", zap.Error(err))
		yield("", classify(ctx, nil, KindCanceled, err))
		return
	}
	defer sess.Unlock()

	buf := sess.Buffer
	if err := buf.Append(llm.UserMessage(userText)); err != nil {
		// Unreachable: user messages always validate.
		log.Error("failed to append user turn", zap.Error(err))
		yield("", err)
		return
	}
	if stats := buf.TruncateIfNeeded(); stats.Truncated() {
		log.Debug("truncated conversation",
			zap.Int("before", stats.Before),
			zap.Int("after", stats.After),
		)
	}

	history, generation := buf.SnapshotWithGeneration()

	log.Debug("starting turn",
		zap.Int("message_count", len(history)),
		zap.String("content_preview", logger.Preview(userText, 50)),
	)

	upstreamCtx, cancel := r.upstreamContext(ctx)
	defer cancel()

	stream, err := r.upstream.Stream(upstreamCtx, upstream.Request{Messages: history})
	if err != nil {
		rerr := classify(ctx, upstreamCtx, KindUpstreamUnavailable, err)
		log.Error("upstream request failed", zap.String("kind", string(rerr.Kind)), zap.Error(err))
		yield("", rerr)
		return
	}
	defer stream.Close()

	var fullReply strings.Builder
	fragments := 0

	for {
		chunk, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			rerr := classify(ctx, upstreamCtx, KindUpstreamStream, err)
			log.Error("upstream stream failed",
				zap.String("kind", string(rerr.Kind)),
				zap.Int("fragments", fragments),
				zap.Error(err),
			)
			yield("", rerr)
			return
		}

		fragment, ok := chunk.Fragment()
		if !ok {
			continue
		}

		fullReply.WriteString(fragment)
		fragments++

		if !yield(fragment, nil) {
			log.Info("caller stopped reading, cancelling upstream",
				zap.Int("fragments", fragments),
			)
			return
		}
	}

	committed, err := buf.AppendIfGeneration(generation, llm.AssistantMessage(fullReply.String()))
	if err != nil {
		log.Error("failed to append assistant turn", zap.Error(err))
		yield("", err)
		return
	}
	if !committed {
		log.Info("conversation reset during turn, dropping reply")
		return
	}
	buf.TruncateIfNeeded()

	log.Info("turn complete",
		zap.Int("fragments", fragments),
		zap.Int("reply_bytes", fullReply.Len()),
		zap.Duration("duration", time.Since(startTime)),
	)
}

func (r *Relay) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.config.UpstreamTimeout > 0 {
		return context.WithTimeout(ctx, r.config.UpstreamTimeout)
	}
	return context.WithCancel(ctx)
}

// Reset returns a session to its seeded state. Unknown sessions are left
// uncreated since they already are in that state.
func (r *Relay) Reset(sessionID string) {
	id := memory.ResolveID(sessionID)
	existed := r.store.Reset(id)
	r.logger.Info("conversation reset", zap.String("session", id), zap.Bool("existed", existed))
}

// History returns a copy of a session's conversation buffer. Unknown sessions
// report the seed conversation without being created.
func (r *Relay) History(sessionID string) (string, []llm.Message) {
	id := memory.ResolveID(sessionID)
	sess, ok := r.store.Lookup(id)
	if !ok {
		return id, r.store.SeedMessages()
	}
	return id, sess.Buffer.Snapshot()
}

// NewSession allocates a new, empty session and returns its identifier.
func (r *Relay) NewSession() string {
	sess := r.store.Get(memory.NewSessionID())
	r.logger.Debug("session created", zap.String("session", sess.ID))
	return sess.ID
}

// DeleteSession forgets a session. It reports whether the session existed.
func (r *Relay) DeleteSession(sessionID string) bool {
	ok := r.store.Delete(sessionID)
	if ok {
		r.logger.Debug("session deleted", zap.String("session", sessionID))
	}
	return ok
}
