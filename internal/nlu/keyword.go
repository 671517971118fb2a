package nlu

import (
	"context"
	"strings"
	"unicode"
)

type keywordRule struct {
	intent   Intent
	keywords []string
	actions  []keywordAction
}

type keywordAction struct {
	action string
	words  []string
}

// rules are checked in order; the first intent whose keyword appears wins.
var rules = []keywordRule{
	{
		intent:   IntentLights,
		keywords: []string{"light", "lights", "lamp"},
		actions: []keywordAction{
			{ActionOn, []string{"on"}},
			{ActionOff, []string{"off"}},
		},
	},
	{
		intent:   IntentMusic,
		keywords: []string{"music", "song", "songs", "playlist"},
		actions: []keywordAction{
			{ActionPlay, []string{"play", "start", "resume"}},
			{ActionStop, []string{"stop"}},
			{ActionPause, []string{"pause"}},
		},
	},
	{
		intent:   IntentVolume,
		keywords: []string{"volume", "louder", "quieter"},
		actions: []keywordAction{
			{ActionUp, []string{"up", "louder", "raise", "increase"}},
			{ActionDown, []string{"down", "quieter", "lower", "decrease"}},
		},
	},
	{
		intent:   IntentSensitivity,
		keywords: []string{"sensitivity", "sensitive"},
		actions: []keywordAction{
			{ActionIncrease, []string{"increase", "raise", "more", "up", "higher"}},
			{ActionDecrease, []string{"decrease", "lower", "less", "down"}},
		},
	},
	{
		intent:   IntentTemperature,
		keywords: []string{"temperature", "thermostat", "weather", "degrees"},
		actions: []keywordAction{
			{ActionSet, []string{"set", "make"}},
		},
	},
}

// KeywordClassifier routes on plain keywords. It needs no network and is
// the fallback when no LLM is configured.
type KeywordClassifier struct{}

func (KeywordClassifier) Classify(_ context.Context, transcript string) (Result, error) {
	words := strings.FieldsFunc(strings.ToLower(transcript), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	has := make(map[string]bool, len(words))
	for _, w := range words {
		has[w] = true
	}

	res := Result{Intent: IntentUnknown, Query: transcript}
	for _, rule := range rules {
		if !anyOf(has, rule.keywords) {
			continue
		}
		res.Intent = rule.intent
		for _, a := range rule.actions {
			if anyOf(has, a.words) {
				res.Action = a.action
				break
			}
		}
		break
	}

	switch res.Intent {
	case IntentLights:
		res.Entities = map[string]string{"device": "lamp"}
	case IntentTemperature:
		if res.Action == "" {
			res.Action = ActionQuery
		}
		for _, w := range words {
			if isNumber(w) {
				res.Entities = map[string]string{"value": w}
				res.Action = ActionSet
				break
			}
		}
	}
	return res, nil
}

func anyOf(has map[string]bool, words []string) bool {
	for _, w := range words {
		if has[w] {
			return true
		}
	}
	return false
}

func isNumber(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}
