// Package sound plays notification sounds through the system speaker.
package sound

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"

	"voxwake/internal/notify"
)

var (
	speakerOnce sync.Once
	speakerRate beep.SampleRate
	speakerErr  error
)

func initSpeaker(rate beep.SampleRate) (beep.SampleRate, error) {
	speakerOnce.Do(func() {
		speakerRate = rate
		speakerErr = speaker.Init(rate, rate.N(time.Second/10))
	})
	return speakerRate, speakerErr
}

// BeepSink plays a short sound when the wake word is detected and twice on
// errors. The sound is decoded once and replayed from memory.
type BeepSink struct {
	buf  *beep.Buffer
	rate beep.SampleRate
	log  *slog.Logger
}

// NewBeepSink loads an mp3 or wav file and opens the speaker.
func NewBeepSink(path string, log *slog.Logger) (*BeepSink, error) {
	if log == nil {
		log = slog.Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("sound: open %s: %w", path, err)
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		streamer, format, err = mp3.Decode(f)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("sound: decode %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)

	rate, err := initSpeaker(format.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("sound: init speaker: %w", err)
	}
	return &BeepSink{buf: buf, rate: rate, log: log}, nil
}

func (b *BeepSink) Notify(e notify.Event) {
	switch e.Kind {
	case notify.WakeDetected:
		b.play(1)
	case notify.Error:
		b.play(2)
	}
}

// play blocks until the sound has been played n times.
func (b *BeepSink) play(n int) {
	var s beep.Streamer = b.buf.Streamer(0, b.buf.Len())
	if n > 1 {
		s = beep.Loop(n, b.buf.Streamer(0, b.buf.Len()))
	}
	if src := b.buf.Format().SampleRate; src != b.rate {
		s = beep.Resample(4, src, b.rate, s)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		b.log.Warn("beep playback timed out")
	}
}
