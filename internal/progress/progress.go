// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package progress carries structured progress events from pipeline stages
// to the single consumer that folds them into job state.
//
// Producers (source fetchers, the validator batch loop, the analysis gateway)
// only write events; they never touch job state directly.
package progress

import (
	"sync"

	"github.com/pdiddy/customer-engine/pkg/types"
)

// Event is one structured progress report.
type Event struct {
	// Stage names the emitting component (e.g. "source", "validate", "analysis").
	Stage string

	// Source is the collaborator the event is attributed to, if any.
	Source string

	// Percent is the job-wide percentage the producer believes it has reached.
	// Zero means "no progress information".
	Percent int

	// Message is the human-readable status line.
	Message string

	// Level and Log, when Log is true, also append Message to the job log window.
	Level types.LogLevel
	Log   bool

	// Metrics are merged into the job's metrics bag.
	Metrics types.Metrics

	// Partial, when non-nil, offers a replacement partial result set.
	Partial []types.ResultRecord

	// Supersedes allows Partial to replace a larger set (e.g. after validation).
	Supersedes bool
}

// Sink receives progress events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(Event) {}

// Func adapts a function to the Sink interface.
type Func func(Event)

// Emit calls f(ev).
func (f Func) Emit(ev Event) { f(ev) }

// Channel is a Sink backed by a buffered channel with a single consumer.
// Emit blocks when the buffer is full; it never blocks after Close.
type Channel struct {
	ch     chan Event
	mu     sync.RWMutex
	closed bool
}

// NewChannel returns a Channel sink with the given buffer size.
func NewChannel(buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{ch: make(chan Event, buffer)}
}

// Emit sends ev to the consumer. Events emitted after Close are dropped.
func (c *Channel) Emit(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	c.ch <- ev
}

// Events returns the channel the consumer ranges over.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Close stops accepting events and closes the consumer channel once all
// in-flight Emit calls have returned.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Scoped maps a producer's local 0..100 percentage into the job-wide band
// [lo, hi] and stamps every event with a stage and source name.
type Scoped struct {
	Sink   Sink
	Stage  string
	Source string
	Lo, Hi int
}

// Emit rescales ev.Percent and forwards it.
func (s Scoped) Emit(ev Event) {
	if ev.Stage == "" {
		ev.Stage = s.Stage
	}
	if ev.Source == "" {
		ev.Source = s.Source
	}
	if ev.Percent > 0 {
		ev.Percent = s.Scale(ev.Percent)
	}
	s.Sink.Emit(ev)
}

// Scale maps a local percentage in [0,100] into [Lo, Hi].
func (s Scoped) Scale(local int) int {
	switch {
	case local < 0:
		local = 0
	case local > 100:
		local = 100
	}
	return s.Lo + (s.Hi-s.Lo)*local/100
}

// Band returns a Scoped sink for the i-th of n equal sub-bands of [lo, hi].
func Band(sink Sink, stage, source string, lo, hi, i, n int) Scoped {
	if n <= 0 {
		n = 1
	}
	width := (hi - lo) / n
	start := lo + i*width
	end := start + width
	if i == n-1 {
		end = hi
	}
	return Scoped{Sink: sink, Stage: stage, Source: source, Lo: start, Hi: end}
}
