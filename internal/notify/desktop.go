package notify

import (
	"context"
	"log/slog"
	"os/exec"
	"time"
)

// Runner executes an external command.
type Runner func(ctx context.Context, name string, args ...string) error

// ExecRunner runs the command and waits for it.
func ExecRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// DesktopSink shows events as desktop notifications through notify-send.
type DesktopSink struct {
	AppName string
	Run     Runner
	Timeout time.Duration
	Log     *slog.Logger
}

func NewDesktopSink(appName string, log *slog.Logger) *DesktopSink {
	if log == nil {
		log = slog.Default()
	}
	return &DesktopSink{AppName: appName, Run: ExecRunner, Timeout: 2 * time.Second, Log: log}
}

func (d *DesktopSink) Notify(e Event) {
	title, body, urgency := d.render(e)
	if title == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.Timeout)
	defer cancel()

	args := []string{"-a", d.AppName, "-u", urgency, "-t", "3000", title}
	if body != "" {
		args = append(args, body)
	}
	if err := d.Run(ctx, "notify-send", args...); err != nil {
		d.Log.Debug("desktop notification failed", "event", e.Kind, "err", err)
	}
}

func (d *DesktopSink) render(e Event) (title, body, urgency string) {
	switch e.Kind {
	case WakeDetected:
		return "Listening...", "", "low"
	case Processing:
		return "Processing...", "", "low"
	case Complete:
		return "Done", e.Message, "normal"
	case Error:
		return "Error", e.Message, "critical"
	}
	return "", "", ""
}
