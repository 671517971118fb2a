// Package nlu maps a transcribed command to one of a closed set of intents.
package nlu

import (
	"context"
	"strings"
)

// Intent is the closed set of commands the assistant understands.
type Intent string

const (
	IntentLights      Intent = "lights"
	IntentMusic       Intent = "music"
	IntentVolume      Intent = "volume"
	IntentTemperature Intent = "temperature"
	IntentSensitivity Intent = "sensitivity"
	IntentUnknown     Intent = "unknown"
)

// Intents lists every known intent except IntentUnknown.
var Intents = []Intent{IntentLights, IntentMusic, IntentVolume, IntentTemperature, IntentSensitivity}

// ParseIntent returns IntentUnknown for anything it does not recognise.
func ParseIntent(s string) Intent {
	i := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Intents {
		if i == known {
			return i
		}
	}
	return IntentUnknown
}

// Actions per intent.
const (
	ActionOn       = "on"
	ActionOff      = "off"
	ActionPlay     = "play"
	ActionStop     = "stop"
	ActionPause    = "pause"
	ActionUp       = "up"
	ActionDown     = "down"
	ActionIncrease = "increase"
	ActionDecrease = "decrease"
	ActionQuery    = "query"
	ActionSet      = "set"
)

// Result is a classified command.
type Result struct {
	Intent   Intent            `json:"intent"`
	Action   string            `json:"action"`
	Entities map[string]string `json:"entities"`
	Query    string            `json:"query"`
}

// Entity returns the named entity or "".
func (r Result) Entity(name string) string {
	if r.Entities == nil {
		return ""
	}
	return r.Entities[name]
}

// Classifier turns a transcript into a Result. An unclassifiable transcript
// is IntentUnknown, not an error.
type Classifier interface {
	Classify(ctx context.Context, transcript string) (Result, error)
}
