package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"voxwake/internal/nlu"
	"voxwake/pkg/protocol"
)

var (
	ErrTranscribe     = errors.New("command: transcription failed")
	ErrNothingHeard   = errors.New("command: empty transcript")
	ErrUnknownCommand = errors.New("command: unknown command")
	ErrUnsupported    = errors.New("command: unsupported action")
	ErrHub            = errors.New("command: hub refused")
)

// userMessage is what gets spoken or shown for a failed command.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrNothingHeard):
		return "I didn't catch that"
	case errors.Is(err, ErrTranscribe):
		return "I couldn't understand the audio"
	case errors.Is(err, ErrUnknownCommand):
		return "I don't know how to do that"
	case errors.Is(err, ErrUnsupported):
		return "I can't do that yet"
	case errors.Is(err, ErrHub):
		return "the device did not respond"
	}
	return "something went wrong"
}

// Hub is the Monolith device bus.
type Hub interface {
	Request(ctx context.Context, m protocol.Message) (protocol.Message, error)
}

// VolumeControl steps the output volume in percent.
type VolumeControl interface {
	StepMasterVolume(ctx context.Context, delta int) error
}

// SensitivityAdjuster moves the wake word sensitivity.
type SensitivityAdjuster interface {
	Adjust(ctx context.Context, delta float64) (float64, error)
}

const (
	defaultLights     = "LAMP"
	defaultThermostat = "THERMO"

	volumeStep      = 10
	sensitivityStep = 0.1
)

// Dispatcher executes classified commands. Every collaborator is optional:
// without a hub lights and temperature are only logged, without a volume
// control volume changes are only logged.
type Dispatcher struct {
	Hub         Hub
	Volume      VolumeControl
	Sensitivity SensitivityAdjuster
	Thermostat  string // hub shard for temperature, default THERMO
	Log         *slog.Logger
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

// Dispatch runs r and returns the reply for the user.
func (d *Dispatcher) Dispatch(ctx context.Context, r nlu.Result) (string, error) {
	switch r.Intent {
	case nlu.IntentLights:
		return d.lights(ctx, r)
	case nlu.IntentMusic:
		return d.music(r)
	case nlu.IntentVolume:
		return d.volume(ctx, r)
	case nlu.IntentTemperature:
		return d.temperature(ctx, r)
	case nlu.IntentSensitivity:
		return d.sensitivity(ctx, r)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, r.Query)
	}
}

func (d *Dispatcher) lights(ctx context.Context, r nlu.Result) (string, error) {
	var arg string
	switch r.Action {
	case nlu.ActionOn:
		arg = "ON"
	case nlu.ActionOff:
		arg = "OFF"
	default:
		return "", fmt.Errorf("%w: lights %q", ErrUnsupported, r.Action)
	}
	device := strings.ToUpper(r.Entity("device"))
	if device == "" {
		device = defaultLights
	}
	reply := "Lights " + r.Action

	if d.Hub == nil {
		d.logger().Info("lights", "device", device, "state", arg)
		return reply, nil
	}
	if _, err := d.request(ctx, protocol.Message{To: device, Verb: "SET", Noun: "POWER", Args: []string{arg}}); err != nil {
		return "", err
	}
	return reply, nil
}

func (d *Dispatcher) music(r nlu.Result) (string, error) {
	var reply string
	switch r.Action {
	case nlu.ActionPlay, "":
		reply = "Playing music"
	case nlu.ActionStop:
		reply = "Music stopped"
	case nlu.ActionPause:
		reply = "Music paused"
	default:
		return "", fmt.Errorf("%w: music %q", ErrUnsupported, r.Action)
	}
	d.logger().Info("music", "action", r.Action)
	return reply, nil
}

func (d *Dispatcher) volume(ctx context.Context, r nlu.Result) (string, error) {
	var delta int
	switch r.Action {
	case nlu.ActionUp, nlu.ActionIncrease:
		delta = volumeStep
	case nlu.ActionDown, nlu.ActionDecrease:
		delta = -volumeStep
	default:
		return "", fmt.Errorf("%w: volume %q", ErrUnsupported, r.Action)
	}
	reply := "Volume down"
	if delta > 0 {
		reply = "Volume up"
	}
	if d.Volume == nil {
		d.logger().Info("volume", "delta", delta)
		return reply, nil
	}
	if err := d.Volume.StepMasterVolume(ctx, delta); err != nil {
		return "", fmt.Errorf("command: volume: %w", err)
	}
	return reply, nil
}

func (d *Dispatcher) temperature(ctx context.Context, r nlu.Result) (string, error) {
	shard := d.Thermostat
	if shard == "" {
		shard = defaultThermostat
	}

	switch r.Action {
	case nlu.ActionSet:
		value := r.Entity("value")
		if value == "" {
			return "", fmt.Errorf("%w: temperature without a value", ErrUnsupported)
		}
		reply := fmt.Sprintf("Temperature set to %s degrees", value)
		if d.Hub == nil {
			d.logger().Info("temperature", "set", value)
			return reply, nil
		}
		if _, err := d.request(ctx, protocol.Message{To: shard, Verb: "SET", Noun: "TEMP", Args: []string{value}}); err != nil {
			return "", err
		}
		return reply, nil

	case nlu.ActionQuery, "":
		if d.Hub == nil {
			d.logger().Info("temperature", "query", true)
			return "Checking the temperature", nil
		}
		resp, err := d.request(ctx, protocol.Message{To: shard, Verb: "GET", Noun: "TEMP"})
		if err != nil {
			return "", err
		}
		if len(resp.Args) == 0 {
			return "", fmt.Errorf("%w: no reading in %s", ErrHub, resp)
		}
		return fmt.Sprintf("It is %s degrees", resp.Args[0]), nil
	}
	return "", fmt.Errorf("%w: temperature %q", ErrUnsupported, r.Action)
}

func (d *Dispatcher) sensitivity(ctx context.Context, r nlu.Result) (string, error) {
	var delta float64
	switch r.Action {
	case nlu.ActionIncrease, nlu.ActionUp:
		delta = sensitivityStep
	case nlu.ActionDecrease, nlu.ActionDown:
		delta = -sensitivityStep
	default:
		return "", fmt.Errorf("%w: sensitivity %q", ErrUnsupported, r.Action)
	}
	if d.Sensitivity == nil {
		return "", fmt.Errorf("%w: sensitivity is fixed", ErrUnsupported)
	}
	level, err := d.Sensitivity.Adjust(ctx, delta)
	if err != nil {
		// the in-memory level changed even when persisting failed
		d.logger().Warn("sensitivity not saved", "level", level, "err", err)
	}
	return fmt.Sprintf("Sensitivity set to %.0f percent", level*100), nil
}

func (d *Dispatcher) request(ctx context.Context, m protocol.Message) (protocol.Message, error) {
	resp, err := d.Hub.Request(ctx, m)
	if err != nil {
		return protocol.Message{}, fmt.Errorf("command: hub %s:%s: %w", m.Verb, m.Noun, err)
	}
	if !resp.IsOK() {
		return resp, fmt.Errorf("%w: %s", ErrHub, resp)
	}
	return resp, nil
}
