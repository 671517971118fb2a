package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// maxVolume is the pulseaudio soft ceiling in percent.
const maxVolume = 150

// Pactl runs a pactl subcommand and returns its stdout.
type Pactl func(ctx context.Context, args ...string) ([]byte, error)

// ExecPactl shells out to the pactl binary.
func ExecPactl(ctx context.Context, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, "pactl", args...).Output()
	if err != nil {
		return nil, fmt.Errorf("pactl %s: %w", strings.Join(args, " "), err)
	}
	return out, nil
}

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fade struct {
	id, from, to int
}

// Ducker lowers the playback volume of other applications while a command
// is being recorded and restores it afterwards. Streams whose
// application.name is in selfNames are left alone.
type Ducker struct {
	mu          sync.Mutex
	pactl       Pactl
	active      bool
	selfNames   []string
	originalVol map[int]int
	minVolume   int
	step        time.Duration
}

// NewDucker returns a Ducker that never ducks below minVolume percent.
func NewDucker(pactl Pactl, selfNames []string, minVolume int) *Ducker {
	if pactl == nil {
		pactl = ExecPactl
	}
	return &Ducker{
		pactl:       pactl,
		selfNames:   slices.Clone(selfNames),
		originalVol: make(map[int]int),
		minVolume:   clampVolume(minVolume),
		step:        10 * time.Millisecond,
	}
}

// Active reports whether other streams are currently ducked.
func (d *Ducker) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Duck fades every foreign stream to volume*factor (not below minVolume)
// over duration. Calling Duck while already ducked is a no-op.
func (d *Ducker) Duck(ctx context.Context, factor float64, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.active {
		return nil
	}

	inputs, err := d.listInputs(ctx)
	if err != nil {
		return err
	}

	d.originalVol = make(map[int]int)
	var targets []fade
	for _, in := range inputs {
		if slices.Contains(d.selfNames, in.AppName) {
			continue
		}
		to := int(math.Round(float64(in.Volume) * factor))
		to = clampVolume(max(to, d.minVolume))
		d.originalVol[in.ID] = in.Volume
		targets = append(targets, fade{id: in.ID, from: in.Volume, to: to})
	}

	if err := d.fade(ctx, targets, duration); err != nil {
		return err
	}
	d.active = true
	return nil
}

// Restore fades ducked streams back to their original volume. Streams that
// appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context, duration time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.active {
		return nil
	}

	inputs, err := d.listInputs(ctx)
	if err != nil {
		return err
	}

	var targets []fade
	for _, in := range inputs {
		orig, ok := d.originalVol[in.ID]
		if !ok {
			continue
		}
		targets = append(targets, fade{id: in.ID, from: in.Volume, to: orig})
	}

	if err := d.fade(ctx, targets, duration); err != nil {
		return err
	}
	d.originalVol = make(map[int]int)
	d.active = false
	return nil
}

// StepMasterVolume changes the default sink volume by delta percent.
func (d *Ducker) StepMasterVolume(ctx context.Context, delta int) error {
	arg := fmt.Sprintf("%+d%%", delta)
	if _, err := d.pactl(ctx, "set-sink-volume", "@DEFAULT_SINK@", arg); err != nil {
		return err
	}
	return nil
}

func (d *Ducker) fade(ctx context.Context, targets []fade, duration time.Duration) error {
	if len(targets) == 0 {
		return nil
	}

	steps := 1
	if duration > 0 && d.step > 0 {
		steps = max(1, int(duration/d.step))
	}
	interval := duration / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setInputVolume(ctx, t.id, v); err != nil {
				return err
			}
		}
		if i < steps && interval > 0 {
			time.Sleep(interval)
		}
	}
	return nil
}

func (d *Ducker) setInputVolume(ctx context.Context, id, percent int) error {
	_, err := d.pactl(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", clampVolume(percent)))
	if err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

func (d *Ducker) listInputs(ctx context.Context) ([]sinkInput, error) {
	out, err := d.pactl(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return parseSinkInputs(string(out)), nil
}

// parseSinkInputs reads the human-readable `pactl list sink-inputs` output.
func parseSinkInputs(text string) []sinkInput {
	blocks := strings.Split(text, "Sink Input #")
	var res []sinkInput
	for _, block := range blocks[1:] {
		header, body, ok := strings.Cut(block, "\n")
		if !ok {
			continue
		}
		id, err := strconv.Atoi(strings.TrimSpace(header))
		if err != nil {
			continue
		}

		in := sinkInput{ID: id, Volume: -1}
		for line := range strings.SplitSeq(body, "\n") {
			line = strings.TrimSpace(line)
			switch {
			case strings.HasPrefix(line, "Volume:") && in.Volume < 0:
				if m := percentRe.FindStringSubmatch(line); m != nil {
					in.Volume, _ = strconv.Atoi(m[1])
				}
			case strings.HasPrefix(line, "application.name =") && in.AppName == "":
				_, rest, _ := strings.Cut(line, "\"")
				in.AppName, _, _ = strings.Cut(rest, "\"")
			}
		}
		if in.Volume < 0 {
			continue
		}
		res = append(res, in)
	}
	return res
}

func clampVolume(v int) int {
	return max(0, min(maxVolume, v))
}
