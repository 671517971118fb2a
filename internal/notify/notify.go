// Package notify renders pipeline events to the user: sounds, desktop
// notifications, speech and volume ducking. Sinks must return quickly; slow
// renderers go behind an Async.
package notify

import (
	"log/slog"
)

// Kind of a pipeline event.
type Kind int

const (
	WakeDetected Kind = iota
	Processing
	Complete
	Error
)

func (k Kind) String() string {
	switch k {
	case WakeDetected:
		return "wake_detected"
	case Processing:
		return "processing"
	case Complete:
		return "complete"
	case Error:
		return "error"
	}
	return "unknown"
}

// Event is one notification. Message is set for Complete (the action
// taken) and Error (what went wrong).
type Event struct {
	Kind    Kind
	Message string
}

func Wake() Event                { return Event{Kind: WakeDetected} }
func Busy() Event                { return Event{Kind: Processing} }
func Done(msg string) Event      { return Event{Kind: Complete, Message: msg} }
func Failed(msg string) Event    { return Event{Kind: Error, Message: msg} }
func (e Event) String() string   { return e.Kind.String() }
func (e Event) IsAudible() bool  { return e.Kind != Processing }
func (e Event) IsTerminal() bool { return e.Kind == Complete || e.Kind == Error }

// Sink receives events.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

// Multi delivers each event to every sink in order.
type Multi []Sink

func (m Multi) Notify(e Event) {
	for _, s := range m {
		if s != nil {
			s.Notify(e)
		}
	}
}

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// LogSink writes events to a logger.
type LogSink struct {
	Log *slog.Logger
}

func (s LogSink) Notify(e Event) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	switch e.Kind {
	case Error:
		log.Warn("notify", "event", e.Kind, "msg", e.Message)
	case Complete:
		log.Info("notify", "event", e.Kind, "msg", e.Message)
	default:
		log.Debug("notify", "event", e.Kind)
	}
}
