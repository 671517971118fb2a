package notify

import (
	"log/slog"
)

// Speaker reads text aloud. It may block until playback finishes.
type Speaker interface {
	Speak(text string) error
}

// SpeechSink speaks the outcome of a command.
type SpeechSink struct {
	Speaker Speaker
	Log     *slog.Logger
}

func (s SpeechSink) Notify(e Event) {
	var text string
	switch e.Kind {
	case Complete:
		text = e.Message
	case Error:
		text = "Sorry, " + e.Message
	default:
		return
	}
	if text == "" {
		return
	}
	if err := s.Speaker.Speak(text); err != nil && s.Log != nil {
		s.Log.Warn("speech failed", "err", err)
	}
}
