//
// Tencent is pleased to support the open source community by making vortex-chat available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// vortex-chat is licensed under the Apache License Version 2.0.
//

// Package runner orchestrates conversation turns: it drives provider
// streams, executes tool calls, settles conversation state after success,
// cancellation or failure, and schedules background summarization.
package runner

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/vortex-chat/chat"
	"trpc.group/trpc-go/vortex-chat/history"
	"trpc.group/trpc-go/vortex-chat/log"
	"trpc.group/trpc-go/vortex-chat/model"
	"trpc.group/trpc-go/vortex-chat/summary"
	"trpc.group/trpc-go/vortex-chat/tool"
)

const (
	// defaultTurnTimeout bounds one full turn, tool rounds included.
	defaultTurnTimeout = 60 * time.Second

	// maxToolRounds caps provider re-invocations within one turn so a
	// misbehaving model cannot loop on tool calls forever.
	maxToolRounds = 4

	// summaryDelay is how long a finished turn waits before summarization
	// kicks off in the background.
	summaryDelay = 2 * time.Second
	// summaryRetries is the total number of summarization attempts.
	summaryRetries = 2
	// summaryBackoff separates summarization attempts.
	summaryBackoff = 1500 * time.Millisecond

	// defaultPoolSize bounds concurrent background jobs.
	defaultPoolSize = 4
)

// State is the turn lifecycle phase. A runner handles one live turn at a
// time; starting a new turn cancels the previous one first.
type State int

const (
	// StateIdle means no turn is in flight.
	StateIdle State = iota
	// StateDrafting means the user turn is being validated and recorded.
	StateDrafting
	// StateStreaming means provider output is being applied.
	StateStreaming
	// StateToolExecuting means tool calls are running.
	StateToolExecuting
	// StateSettling means the turn outcome is being finalized.
	StateSettling
)

// String returns the phase name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDrafting:
		return "drafting"
	case StateStreaming:
		return "streaming"
	case StateToolExecuting:
		return "tool_executing"
	case StateSettling:
		return "settling"
	default:
		return "unknown"
	}
}

// Persister saves conversation snapshots after settled turns.
type Persister interface {
	Save(snap chat.Snapshot) error
}

// Runner drives conversation turns against the configured providers.
type Runner struct {
	store      *chat.Store
	providers  map[chat.ProviderKind]model.Provider
	analyzer   model.FileAnalyzer
	summarizer *summary.Summarizer
	sink       history.Sink
	persister  Persister

	tools       map[string]tool.CallableTool
	imageHint   func(text string) bool
	rng         *rand.Rand
	pool        *ants.Pool
	turnTimeout time.Duration

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	gen    uint64
	wg     sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithProvider registers the streaming provider for one provider kind.
func WithProvider(kind chat.ProviderKind, p model.Provider) Option {
	return func(r *Runner) { r.providers[kind] = p }
}

// WithFileAnalyzer sets the adapter handling attachment turns.
func WithFileAnalyzer(a model.FileAnalyzer) Option {
	return func(r *Runner) { r.analyzer = a }
}

// WithSummarizer enables background conversation summarization.
func WithSummarizer(s *summary.Summarizer) Option {
	return func(r *Runner) { r.summarizer = s }
}

// WithSink sets the history sink settled turns are mirrored to.
func WithSink(s history.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithPersister sets the snapshot store written after settled turns.
func WithPersister(p Persister) Option {
	return func(r *Runner) { r.persister = p }
}

// WithTool registers a callable tool offered to providers.
func WithTool(t tool.CallableTool) Option {
	return func(r *Runner) { r.tools[t.Declaration().Name] = t }
}

// WithTurnTimeout overrides the per-turn deadline.
func WithTurnTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.turnTimeout = d
		}
	}
}

// WithImageHint overrides the classifier deciding whether a text-only turn
// should reuse the most recent image in the conversation.
func WithImageHint(f func(text string) bool) Option {
	return func(r *Runner) { r.imageHint = f }
}

// WithRand sets the random source used for canned-response selection.
func WithRand(rng *rand.Rand) Option {
	return func(r *Runner) { r.rng = rng }
}

// New creates a runner over the given store.
func New(store *chat.Store, opts ...Option) (*Runner, error) {
	r := &Runner{
		store:       store,
		providers:   make(map[chat.ProviderKind]model.Provider),
		sink:        history.NopSink{},
		tools:       make(map[string]tool.CallableTool),
		imageHint:   hasImageKeyword,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		turnTimeout: defaultTurnTimeout,
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(r)
	}
	pool, err := ants.NewPool(defaultPoolSize)
	if err != nil {
		return nil, err
	}
	r.pool = pool
	return r, nil
}

// State reports the current turn phase.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Cancel aborts the live turn, if any. The turn settles with a cancellation
// marker instead of being rolled back.
func (r *Runner) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

// Close cancels any live turn, waits for background work and releases the
// worker pool.
func (r *Runner) Close() {
	r.Cancel()
	r.wg.Wait()
	r.pool.Release()
}

// setState records the phase of the given turn. A turn that has been
// superseded by a newer one no longer owns the shared state and the call is
// ignored.
func (r *Runner) setState(gen uint64, s State) {
	r.mu.Lock()
	if r.gen == gen {
		r.state = s
	}
	r.mu.Unlock()
}

// isCurrent reports whether the given turn is still the live one.
func (r *Runner) isCurrent(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen == gen
}

// begin cancels any previous turn and installs the new turn's cancel func.
// The returned generation identifies the turn in later ownership checks.
func (r *Runner) begin(parent context.Context) (context.Context, context.CancelFunc, uint64) {
	ctx, cancel := context.WithTimeout(parent, r.turnTimeout)
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.cancel = cancel
	r.gen++
	gen := r.gen
	r.state = StateDrafting
	r.mu.Unlock()
	return ctx, cancel, gen
}

// finish releases the turn's registration. When a newer turn has already
// taken over, its cancel func and state are left untouched.
func (r *Runner) finish(cancel context.CancelFunc, gen uint64) {
	cancel()
	r.mu.Lock()
	if r.gen == gen {
		r.cancel = nil
		r.state = StateIdle
	}
	r.mu.Unlock()
}

// declarations returns the tool declarations offered for this turn. The
// search tool is withheld while the search toggle is off.
func (r *Runner) declarations() []*tool.Declaration {
	decls := make([]*tool.Declaration, 0, len(r.tools))
	searchEnabled := r.store.SearchEnabled()
	for name, t := range r.tools {
		if !searchEnabled && name == searchToolName {
			continue
		}
		decls = append(decls, t.Declaration())
	}
	return decls
}

// searchToolName matches the registered internet-search tool.
const searchToolName = "internetSearch"

// imageKeywords mark a text-only turn as probably referring to the most
// recently attached image.
var imageKeywords = []string{
	"image", "photo", "picture", "exercise", "same", "previous", "above",
}

func hasImageKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, word := range imageKeywords {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

func (r *Runner) persist() {
	if r.persister == nil {
		return
	}
	if err := r.persister.Save(r.store.Snapshot()); err != nil {
		log.Warnf("persist conversation state: %v", err)
	}
}
