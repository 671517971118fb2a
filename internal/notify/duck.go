package notify

import (
	"context"
	"log/slog"
	"time"
)

// Ducker lowers and restores other applications' playback volume.
type Ducker interface {
	Duck(ctx context.Context, factor float64, duration time.Duration) error
	Restore(ctx context.Context, duration time.Duration) error
}

// DuckSink ducks other audio when the wake word fires and restores it once
// the command has been captured.
type DuckSink struct {
	Ducker Ducker
	Factor float64
	Fade   time.Duration
	Log    *slog.Logger
}

func (s DuckSink) Notify(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Fade+2*time.Second)
	defer cancel()

	var err error
	switch e.Kind {
	case WakeDetected:
		err = s.Ducker.Duck(ctx, s.Factor, s.Fade)
	case Processing, Error:
		err = s.Ducker.Restore(ctx, s.Fade)
	default:
		return
	}
	if err != nil && s.Log != nil {
		s.Log.Warn("ducking failed", "event", e.Kind, "err", err)
	}
}
