package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"voxwake/internal/ipc"
	"voxwake/internal/listener"
	"voxwake/internal/notify"
	"voxwake/internal/store"
	"voxwake/internal/wake"
)

type fakeListener struct {
	mu       sync.Mutex
	state    listener.State
	starts   int
	stops    int
	triggers int
	failures int // Start calls that fail before one succeeds
	errs     chan error
}

func (f *fakeListener) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.failures > 0 {
		f.failures--
		return errors.New("no microphone")
	}
	if f.state != listener.Idle {
		return listener.ErrAlreadyRunning
	}
	f.state = listener.Listening
	return nil
}

func (f *fakeListener) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = listener.Idle
	return nil
}

func (f *fakeListener) ManualTrigger() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != listener.Listening {
		return listener.ErrNotRunning
	}
	f.triggers++
	return nil
}

func (f *fakeListener) State() listener.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeListener) Stats() listener.Stats { return listener.Stats{FramesProcessed: 42} }
func (f *fakeListener) Errors() <-chan error  { return f.errs }

type fakePrefs struct {
	s notify.Settings
}

func (p *fakePrefs) Settings() notify.Settings { return p.s }

func (p *fakePrefs) SetAudio(_ context.Context, on bool) error {
	p.s.AudioEnabled = on
	return nil
}

func (p *fakePrefs) SetVisual(_ context.Context, on bool) error {
	p.s.VisualEnabled = on
	return nil
}

type fakeHistory struct {
	mu      sync.Mutex
	limit   int
	cleaned []time.Duration
}

func (h *fakeHistory) LogCommand(context.Context, store.HistoryEntry) error { return nil }

func (h *fakeHistory) RecentCommands(_ context.Context, limit int) ([]store.HistoryEntry, error) {
	h.limit = limit
	return []store.HistoryEntry{{ID: 2, Command: "lights on", Intent: "lights", Success: true}}, nil
}

func (h *fakeHistory) CleanupOlderThan(_ context.Context, age time.Duration) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleaned = append(h.cleaned, age)
	return 3, nil
}

func (h *fakeHistory) Stats(context.Context) (store.Stats, error) {
	return store.Stats{Total: 4, Successful: 3, Failed: 1, SuccessRate: 75}, nil
}

func newTestDaemon(t *testing.T) (*daemon, *fakeListener, *wake.SensitivityModel, *fakeHistory) {
	t.Helper()
	sens, err := wake.NewSensitivityModel(0.5, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	l := &fakeListener{errs: make(chan error, 1)}
	h := &fakeHistory{}
	return &daemon{
		listener:     l,
		sensitivity:  sens,
		notify:       &fakePrefs{s: notify.Settings{AudioEnabled: true, VisualEnabled: true}},
		history:      h,
		retention:    time.Hour,
		restartDelay: time.Millisecond,
		listenCtx:    context.Background(),
	}, l, sens, h
}

func call(d *daemon, cmd string, args ...string) ipc.Response {
	return d.handle(context.Background(), ipc.Request{Cmd: cmd, Args: args})
}

func TestHandle_Lifecycle(t *testing.T) {
	t.Parallel()

	d, l, _, _ := newTestDaemon(t)

	if resp := call(d, "trigger"); resp.OK {
		t.Error("trigger while idle should fail")
	}
	if resp := call(d, "start"); !resp.OK {
		t.Fatalf("start = %+v", resp)
	}
	if resp := call(d, "start"); resp.OK || resp.Message != listener.ErrAlreadyRunning.Error() {
		t.Errorf("second start = %+v", resp)
	}
	if resp := call(d, "trigger"); !resp.OK || l.triggers != 1 {
		t.Errorf("trigger = %+v, triggers = %d", resp, l.triggers)
	}

	resp := call(d, "status")
	if !resp.OK || resp.Message != "listening" {
		t.Fatalf("status = %+v", resp)
	}
	var st status
	if err := json.Unmarshal(resp.Data, &st); err != nil {
		t.Fatal(err)
	}
	if st.State != "listening" || st.Stats.FramesProcessed != 42 || st.Sensitivity.Level != 0.5 || !st.Notify.AudioEnabled {
		t.Errorf("status data = %+v", st)
	}

	if resp := call(d, "stop"); !resp.OK || l.State() != listener.Idle {
		t.Errorf("stop = %+v", resp)
	}
	if resp := call(d, "dance"); resp.OK {
		t.Error("unknown command accepted")
	}
}

func TestHandle_Sensitivity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		args      []string
		wantOK    bool
		wantLevel float64
	}{
		{nil, true, 0.5},
		{[]string{"0.8"}, true, 0.8},
		{[]string{"10"}, true, 1},
		{[]string{"1.5"}, false, 0.5},
		{[]string{"loud"}, false, 0.5},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.args), func(t *testing.T) {
			t.Parallel()

			d, _, sens, _ := newTestDaemon(t)
			resp := call(d, "sensitivity", tt.args...)
			if resp.OK != tt.wantOK {
				t.Fatalf("resp = %+v", resp)
			}
			if got := sens.Snapshot().Level; got != tt.wantLevel {
				t.Errorf("level = %v, want %v", got, tt.wantLevel)
			}
		})
	}
}

func TestHandle_Calibrate(t *testing.T) {
	t.Parallel()

	d, _, sens, _ := newTestDaemon(t)
	if resp := call(d, "calibrate", "0.3"); !resp.OK {
		t.Fatalf("calibrate = %+v", resp)
	}
	if got := sens.Snapshot().Level; got != 0.4 {
		t.Errorf("level after noisy calibration = %v, want 0.4", got)
	}
	for _, args := range [][]string{nil, {"x"}, {"2"}} {
		if resp := call(d, "calibrate", args...); resp.OK {
			t.Errorf("calibrate %v accepted", args)
		}
	}
}

func TestHandle_HistoryAndNotify(t *testing.T) {
	t.Parallel()

	d, _, _, h := newTestDaemon(t)

	resp := call(d, "history", "5")
	if !resp.OK || resp.Message != "4 commands, 75.0% successful" || h.limit != 5 {
		t.Fatalf("history = %+v (limit %d)", resp, h.limit)
	}
	var hr historyReply
	if err := json.Unmarshal(resp.Data, &hr); err != nil || len(hr.Entries) != 1 {
		t.Errorf("history data = %s (%v)", resp.Data, err)
	}
	if resp := call(d, "history", "-1"); resp.OK {
		t.Error("negative limit accepted")
	}

	if resp := call(d, "notify", "audio", "off"); !resp.OK || d.notify.Settings().AudioEnabled {
		t.Errorf("notify audio off = %+v", resp)
	}
	if resp := call(d, "notify", "visual", "maybe"); resp.OK {
		t.Error("bad switch accepted")
	}
	if resp := call(d, "notify", "smell", "on"); resp.OK {
		t.Error("bad channel accepted")
	}
}

func TestSupervise_RestartsAfterDeviceLoss(t *testing.T) {
	t.Parallel()

	d, l, _, _ := newTestDaemon(t)
	d.autoRestart = true
	l.state = listener.Stopping
	l.failures = 2

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.supervise(ctx) }()

	l.errs <- fmt.Errorf("%w: usb unplugged", listener.ErrDeviceLost)

	deadline := time.Now().Add(2 * time.Second)
	for l.State() != listener.Listening {
		if time.Now().After(deadline) {
			t.Fatal("listener never restarted")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stops != 1 || l.starts != 3 {
		t.Errorf("stops = %d, starts = %d", l.stops, l.starts)
	}
}

func TestSupervise_StaysStoppedWithoutAutoRestart(t *testing.T) {
	t.Parallel()

	d, l, _, _ := newTestDaemon(t)
	l.state = listener.Stopping

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.supervise(ctx) }()

	l.errs <- fmt.Errorf("%w: usb unplugged", listener.ErrDeviceLost)

	deadline := time.Now().Add(2 * time.Second)
	for l.State() != listener.Idle {
		if time.Now().After(deadline) {
			t.Fatal("listener never released")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.starts != 0 || l.state != listener.Idle {
		t.Errorf("starts = %d, state = %v", l.starts, l.state)
	}
}

func TestPrune(t *testing.T) {
	t.Parallel()

	d, _, _, h := newTestDaemon(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := d.prune(ctx); err != nil {
		t.Fatal(err)
	}
	if len(h.cleaned) != 1 || h.cleaned[0] != time.Hour {
		t.Errorf("cleanups = %v", h.cleaned)
	}
}
