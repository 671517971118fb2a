package notify

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	block  chan struct{}
}

func (r *recorder) Notify(e Event) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Kind, len(r.events))
	for i, e := range r.events {
		out[i] = e.Kind
	}
	return out
}

func TestMulti(t *testing.T) {
	t.Parallel()

	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b}.Notify(Failed("mic unplugged"))

	for _, r := range []*recorder{a, b} {
		if len(r.events) != 1 || r.events[0].Message != "mic unplugged" {
			t.Errorf("events = %+v", r.events)
		}
	}
}

func TestAsync_PreservesOrderAndDrainsOnClose(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	a := NewAsync(rec, 8, nil)
	want := []Kind{WakeDetected, Processing, Complete, WakeDetected, Error}
	for _, k := range want {
		a.Notify(Event{Kind: k})
	}
	a.Close()

	if got := rec.kinds(); !slices.Equal(got, want) {
		t.Errorf("delivered %v, want %v", got, want)
	}

	// after close events are ignored, and Close is idempotent
	a.Notify(Wake())
	a.Close()
	if n := len(rec.kinds()); n != len(want) {
		t.Errorf("delivered %d events after close", n)
	}
}

func TestAsync_DropsWhenFull(t *testing.T) {
	t.Parallel()

	rec := &recorder{block: make(chan struct{})}
	a := NewAsync(rec, 2, nil)

	start := time.Now()
	for range 10 {
		a.Notify(Wake())
	}
	if time.Since(start) > time.Second {
		t.Fatal("Notify blocked on a full queue")
	}
	close(rec.block)
	a.Close()

	// one in flight plus two queued at most
	if got := len(rec.kinds()); got < 2 || got > 3 {
		t.Errorf("delivered %d events, want 2 or 3", got)
	}
	if a.Dropped() < 7 {
		t.Errorf("Dropped = %d, want >= 7", a.Dropped())
	}
}

func TestAsync_RecoversSinkPanic(t *testing.T) {
	t.Parallel()

	var n int
	a := NewAsync(SinkFunc(func(e Event) {
		n++
		if e.Kind == Error {
			panic("renderer exploded")
		}
	}), 4, nil)
	a.Notify(Failed("x"))
	a.Notify(Done("ok"))
	a.Close()
	if n != 2 {
		t.Errorf("sink called %d times, want 2", n)
	}
}

type memPrefs struct {
	s     Settings
	ok    bool
	saves int
}

func (m *memPrefs) LoadNotificationSettings(context.Context) (Settings, bool, error) {
	return m.s, m.ok, nil
}

func (m *memPrefs) SaveNotificationSettings(_ context.Context, s Settings) error {
	m.s, m.ok = s, true
	m.saves++
	return nil
}

func TestGate(t *testing.T) {
	t.Parallel()

	prefs := &memPrefs{s: Settings{AudioEnabled: true, VisualEnabled: false}, ok: true}
	audio, visual, always := &recorder{}, &recorder{}, &recorder{}
	g := NewGate(Settings{AudioEnabled: true, VisualEnabled: true}, prefs, nil)
	g.Audio, g.Visual, g.Always = audio, visual, always

	if err := g.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	g.Notify(Wake())
	g.Notify(Busy())

	if got := audio.kinds(); !slices.Equal(got, []Kind{WakeDetected}) {
		t.Errorf("audio got %v; Processing is silent", got)
	}
	if got := visual.kinds(); len(got) != 0 {
		t.Errorf("visual disabled but got %v", got)
	}
	if got := always.kinds(); len(got) != 2 {
		t.Errorf("always got %v", got)
	}

	if err := g.SetVisual(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if err := g.SetAudio(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	g.Notify(Done("lights on"))
	if got := visual.kinds(); !slices.Equal(got, []Kind{Complete}) {
		t.Errorf("visual got %v", got)
	}
	if len(audio.kinds()) != 1 {
		t.Error("audio disabled but still notified")
	}
	if prefs.s != (Settings{AudioEnabled: false, VisualEnabled: true}) || prefs.saves != 2 {
		t.Errorf("persisted %+v after %d saves", prefs.s, prefs.saves)
	}
}

func TestGate_LoadSeedsEmptyStore(t *testing.T) {
	t.Parallel()

	prefs := &memPrefs{}
	g := NewGate(Settings{AudioEnabled: true}, prefs, nil)
	if err := g.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !prefs.ok || !prefs.s.AudioEnabled {
		t.Errorf("store not seeded: %+v", prefs)
	}
}

func TestDesktopSink(t *testing.T) {
	t.Parallel()

	var calls [][]string
	d := NewDesktopSink("voxwake", nil)
	d.Run = func(_ context.Context, name string, args ...string) error {
		calls = append(calls, append([]string{name}, args...))
		return errors.New("no notification daemon")
	}

	d.Notify(Failed("no transcript"))
	d.Notify(Wake())

	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	want := []string{"notify-send", "-a", "voxwake", "-u", "critical", "-t", "3000", "Error", "no transcript"}
	if !slices.Equal(calls[0], want) {
		t.Errorf("error call = %v, want %v", calls[0], want)
	}
	if last := calls[1][len(calls[1])-1]; last != "Listening..." {
		t.Errorf("wake notification title = %q", last)
	}
}

type fakeSpeaker struct{ said []string }

func (f *fakeSpeaker) Speak(text string) error {
	f.said = append(f.said, text)
	return nil
}

func TestSpeechSink(t *testing.T) {
	t.Parallel()

	sp := &fakeSpeaker{}
	s := SpeechSink{Speaker: sp}
	s.Notify(Wake())
	s.Notify(Done("turned on the lamp"))
	s.Notify(Failed("I did not catch that"))
	s.Notify(Done(""))

	want := []string{"turned on the lamp", "Sorry, I did not catch that"}
	if !slices.Equal(sp.said, want) {
		t.Errorf("spoke %q, want %q", sp.said, want)
	}
}

type fakeDucker struct{ calls []string }

func (f *fakeDucker) Duck(context.Context, float64, time.Duration) error {
	f.calls = append(f.calls, "duck")
	return nil
}

func (f *fakeDucker) Restore(context.Context, time.Duration) error {
	f.calls = append(f.calls, "restore")
	return nil
}

func TestDuckSink(t *testing.T) {
	t.Parallel()

	d := &fakeDucker{}
	s := DuckSink{Ducker: d, Factor: 0.3}
	for _, e := range []Event{Wake(), Busy(), Done("x"), Wake(), Failed("y")} {
		s.Notify(e)
	}
	want := []string{"duck", "restore", "duck", "restore"}
	if !slices.Equal(d.calls, want) {
		t.Errorf("calls = %v, want %v", d.calls, want)
	}
}
