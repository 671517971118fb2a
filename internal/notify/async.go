package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Async decouples a slow sink from the caller with a bounded queue and one
// worker. When the queue is full the event is dropped. Close stops
// accepting events, delivers what is queued, and waits for the worker.
type Async struct {
	next   Sink
	log    *slog.Logger
	events chan Event

	mu      sync.RWMutex
	closed  bool
	done    chan struct{}
	dropped atomic.Uint64
}

func NewAsync(next Sink, queue int, log *slog.Logger) *Async {
	if queue <= 0 {
		queue = 16
	}
	if log == nil {
		log = slog.Default()
	}
	a := &Async{
		next:   next,
		log:    log,
		events: make(chan Event, queue),
		done:   make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Notify(e Event) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.events <- e:
	default:
		if n := a.dropped.Add(1); n == 1 || n%10 == 0 {
			a.log.Warn("notification queue full, dropping event", "event", e.Kind, "dropped", n)
		}
	}
}

// Dropped counts events lost to a full queue.
func (a *Async) Dropped() uint64 { return a.dropped.Load() }

func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	<-a.done
}

func (a *Async) run() {
	defer close(a.done)
	for e := range a.events {
		a.deliver(e)
	}
}

func (a *Async) deliver(e Event) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("notification sink panicked", "event", e.Kind, "panic", r)
		}
	}()
	a.next.Notify(e)
}
