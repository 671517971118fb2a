package main

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strconv"
	"time"

	"voxwake/internal/ipc"
	"voxwake/internal/listener"
	"voxwake/internal/notify"
	"voxwake/internal/store"
	"voxwake/internal/wake"
)

type listenerControl interface {
	Start(ctx context.Context) error
	Stop() error
	ManualTrigger() error
	State() listener.State
	Stats() listener.Stats
	Errors() <-chan error
}

type sensitivityControl interface {
	Snapshot() wake.Snapshot
	UpdateLevel(ctx context.Context, level float64) error
	Calibrate(ctx context.Context, falseTriggerRate float64) error
}

type notifySettings interface {
	Settings() notify.Settings
	SetAudio(ctx context.Context, on bool) error
	SetVisual(ctx context.Context, on bool) error
}

// daemon answers control requests and keeps the listener running.
type daemon struct {
	listener    listenerControl
	sensitivity sensitivityControl
	notify      notifySettings
	history     store.HistoryStore

	retention    time.Duration
	autoRestart  bool
	restartDelay time.Duration

	// listenCtx outlives individual requests; sessions started over the
	// control socket hang off it.
	listenCtx context.Context
}

type status struct {
	State       string          `json:"state"`
	Stats       listener.Stats  `json:"stats"`
	Sensitivity wake.Snapshot   `json:"sensitivity"`
	Notify      notify.Settings `json:"notify"`
}

type historyReply struct {
	Entries []store.HistoryEntry `json:"entries"`
	Stats   store.Stats          `json:"stats"`
}

func (d *daemon) handle(ctx context.Context, req ipc.Request) ipc.Response {
	switch req.Cmd {
	case "status":
		st := d.listener.State()
		return ipc.Okf("%s", st).WithData(status{
			State:       st.String(),
			Stats:       d.listener.Stats(),
			Sensitivity: d.sensitivity.Snapshot(),
			Notify:      d.notify.Settings(),
		})

	case "start":
		if err := d.listener.Start(d.listenCtx); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Okf("listening")

	case "stop":
		if err := d.listener.Stop(); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Okf("stopped")

	case "trigger":
		if err := d.listener.ManualTrigger(); err != nil {
			return ipc.Fail(err)
		}
		return ipc.Okf("triggered")

	case "sensitivity":
		return d.setSensitivity(ctx, req.Args)

	case "calibrate":
		if len(req.Args) != 1 {
			return ipc.Fail(errors.New("usage: calibrate <false-trigger-rate>"))
		}
		rate, err := strconv.ParseFloat(req.Args[0], 64)
		if err != nil {
			return ipc.Fail(fmt.Errorf("bad rate %q", req.Args[0]))
		}
		if err := d.sensitivity.Calibrate(ctx, rate); err != nil {
			return ipc.Fail(err)
		}
		s := d.sensitivity.Snapshot()
		return ipc.Okf("sensitivity %.2f, threshold %.3f", s.Level, s.Threshold).WithData(s)

	case "history":
		return d.recentHistory(ctx, req.Args)

	case "notify":
		return d.setNotify(ctx, req.Args)
	}
	return ipc.Fail(fmt.Errorf("unknown command %q", req.Cmd))
}

// setSensitivity accepts a level in [0, 1] or an integer step on the 1..10
// scale; without an argument it reports the current level.
func (d *daemon) setSensitivity(ctx context.Context, args []string) ipc.Response {
	if len(args) == 0 {
		s := d.sensitivity.Snapshot()
		return ipc.Okf("sensitivity %.2f, threshold %.3f", s.Level, s.Threshold).WithData(s)
	}
	level, err := parseLevel(args[0])
	if err != nil {
		return ipc.Fail(err)
	}
	if err := d.sensitivity.UpdateLevel(ctx, level); err != nil {
		if errors.Is(err, wake.ErrInvalidLevel) {
			return ipc.Fail(err)
		}
		log.Warn("sensitivity not saved", "err", err)
	}
	s := d.sensitivity.Snapshot()
	return ipc.Okf("sensitivity %.2f, threshold %.3f", s.Level, s.Threshold).WithData(s)
}

func parseLevel(arg string) (float64, error) {
	if n, err := strconv.Atoi(arg); err == nil && n > 1 {
		return wake.LevelFromScale(n)
	}
	level, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("bad sensitivity %q", arg)
	}
	return level, nil
}

func (d *daemon) recentHistory(ctx context.Context, args []string) ipc.Response {
	if d.history == nil {
		return ipc.Fail(errors.New("no history store"))
	}
	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n <= 0 {
			return ipc.Fail(fmt.Errorf("bad limit %q", args[0]))
		}
		limit = n
	}
	entries, err := d.history.RecentCommands(ctx, limit)
	if err != nil {
		return ipc.Fail(err)
	}
	stats, err := d.history.Stats(ctx)
	if err != nil {
		return ipc.Fail(err)
	}
	return ipc.Okf("%d commands, %.1f%% successful", stats.Total, stats.SuccessRate).
		WithData(historyReply{Entries: entries, Stats: stats})
}

func (d *daemon) setNotify(ctx context.Context, args []string) ipc.Response {
	if len(args) != 2 {
		return ipc.Fail(errors.New("usage: notify <audio|visual> <on|off>"))
	}
	var on bool
	switch args[1] {
	case "on":
		on = true
	case "off":
	default:
		return ipc.Fail(fmt.Errorf("bad switch %q, want on or off", args[1]))
	}

	var err error
	switch args[0] {
	case "audio":
		err = d.notify.SetAudio(ctx, on)
	case "visual":
		err = d.notify.SetVisual(ctx, on)
	default:
		return ipc.Fail(fmt.Errorf("bad channel %q, want audio or visual", args[0]))
	}
	if err != nil {
		log.Warn("notification settings not saved", "err", err)
	}
	return ipc.Okf("%s notifications %s", args[0], args[1]).WithData(d.notify.Settings())
}

// supervise releases the device after it disappears and, with autoRestart,
// reopens it. It returns when ctx is done.
func (d *daemon) supervise(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-d.listener.Errors():
			if !errors.Is(err, listener.ErrDeviceLost) {
				log.Error("listener failed", "err", err)
				continue
			}
			if err := d.listener.Stop(); err != nil {
				log.Debug("stop after device loss", "err", err)
			}
			if !d.autoRestart {
				log.Warn("microphone lost, listening stopped until restarted", "err", err)
				continue
			}
			log.Warn("microphone lost, restarting", "err", err, "delay", d.restartDelay)
			d.restart(ctx)
		}
	}
}

func (d *daemon) restart(ctx context.Context) {
	delay := d.restartDelay
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		err := d.listener.Start(ctx)
		if err == nil || errors.Is(err, listener.ErrAlreadyRunning) {
			log.Info("listener restarted")
			return
		}
		log.Warn("listener restart failed", "err", err)
		delay = min(delay*2, time.Minute)
	}
}

// prune drops history older than the retention period now and once a day.
func (d *daemon) prune(ctx context.Context) error {
	if d.history == nil || d.retention <= 0 {
		return nil
	}
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		n, err := d.history.CleanupOlderThan(ctx, d.retention)
		if err != nil {
			log.Warn("history cleanup failed", "err", err)
		} else if n > 0 {
			log.Info("history cleaned up", "removed", n, "retention", d.retention)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
