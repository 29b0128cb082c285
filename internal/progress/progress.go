// Package progress carries busy/ready state and per-file progress from a running
// batch to whoever displays it. Both channels hold one value; a full channel
// blocks the producer until the consumer catches up.
package progress

import (
	"context"
	"sync"
)

type TickKind int

const (
	// TickStart resets the consumer's counter; Total is the number of files in the batch.
	TickStart TickKind = iota
	// TickStep is sent once per finished file, success or failure.
	TickStep
)

type Tick struct {
	Kind  TickKind
	Total int
}

// Reporter is the consumer end. Both channels are closed by the producer after
// the final ready=true state.
type Reporter struct {
	State    <-chan bool
	Progress <-chan Tick
}

// Emitter is the producer end. A nil *Emitter drops everything, so the engine
// can run with nobody listening.
type Emitter struct {
	state    chan bool
	progress chan Tick
	once     sync.Once
}

func New() (*Emitter, *Reporter) {
	e := &Emitter{
		state:    make(chan bool, 1),
		progress: make(chan Tick, 1),
	}
	return e, &Reporter{State: e.state, Progress: e.progress}
}

// SetReady publishes the busy (false) / ready (true) flag. It always waits for
// room in the channel: a lost ready=true would leave the consumer busy forever.
func (e *Emitter) SetReady(ready bool) {
	if e == nil {
		return
	}
	e.state <- ready
}

func (e *Emitter) Start(ctx context.Context, total int) bool {
	return e.send(ctx, Tick{Kind: TickStart, Total: total})
}

func (e *Emitter) Step(ctx context.Context) bool {
	return e.send(ctx, Tick{Kind: TickStep})
}

// send blocks until the tick is taken or ctx is done; it reports whether the tick went out.
func (e *Emitter) send(ctx context.Context, t Tick) bool {
	if e == nil {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	select {
	case e.progress <- t:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close ends the stream. Safe to call more than once.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.once.Do(func() {
		close(e.state)
		close(e.progress)
	})
}

//---------------------

type Handler struct {
	OnState    func(ready bool)
	OnProgress func(done, total int)
}

// Track drains r until the producer closes it and returns the final counters.
// It must keep reading until the end: the producer's last state send blocks otherwise.
func Track(r *Reporter, h Handler) (done, total int) {
	state, ticks := r.State, r.Progress

	for state != nil || ticks != nil {
		select {
		case ready, ok := <-state:
			if !ok {
				state = nil
				continue
			}
			if h.OnState != nil {
				h.OnState(ready)
			}
		case t, ok := <-ticks:
			if !ok {
				ticks = nil
				continue
			}
			switch t.Kind {
			case TickStart:
				done, total = 0, t.Total
			case TickStep:
				done++
			}
			if h.OnProgress != nil {
				h.OnProgress(done, total)
			}
		}
	}

	return done, total
}
