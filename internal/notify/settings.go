package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Settings toggles the two notification channels.
type Settings struct {
	AudioEnabled  bool `json:"audio_enabled"`
	VisualEnabled bool `json:"visual_enabled"`
}

// PreferencesStore persists Settings.
type PreferencesStore interface {
	LoadNotificationSettings(ctx context.Context) (Settings, bool, error)
	SaveNotificationSettings(ctx context.Context, s Settings) error
}

// Gate routes events to the audio and visual sinks according to the
// current Settings. Events not covered by either channel, such as logging,
// go to Always.
type Gate struct {
	Audio  Sink
	Visual Sink
	Always Sink

	mu       sync.RWMutex
	settings Settings
	store    PreferencesStore
	log      *slog.Logger
}

func NewGate(defaults Settings, store PreferencesStore, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{settings: defaults, store: store, log: log}
}

// Load replaces the defaults with stored settings, seeding the store when
// it has none.
func (g *Gate) Load(ctx context.Context) error {
	if g.store == nil {
		return nil
	}
	s, ok, err := g.store.LoadNotificationSettings(ctx)
	if err != nil {
		return fmt.Errorf("notify: load settings: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !ok {
		return g.store.SaveNotificationSettings(ctx, g.settings)
	}
	g.settings = s
	return nil
}

func (g *Gate) Settings() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

// SetAudio enables or disables sounds and speech.
func (g *Gate) SetAudio(ctx context.Context, on bool) error {
	return g.update(ctx, func(s *Settings) { s.AudioEnabled = on })
}

// SetVisual enables or disables desktop notifications.
func (g *Gate) SetVisual(ctx context.Context, on bool) error {
	return g.update(ctx, func(s *Settings) { s.VisualEnabled = on })
}

func (g *Gate) update(ctx context.Context, fn func(*Settings)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(&g.settings)
	g.log.Info("notification settings changed", "audio", g.settings.AudioEnabled, "visual", g.settings.VisualEnabled)
	if g.store == nil {
		return nil
	}
	if err := g.store.SaveNotificationSettings(ctx, g.settings); err != nil {
		return fmt.Errorf("notify: save settings: %w", err)
	}
	return nil
}

func (g *Gate) Notify(e Event) {
	s := g.Settings()
	if g.Always != nil {
		g.Always.Notify(e)
	}
	if s.AudioEnabled && g.Audio != nil && e.IsAudible() {
		g.Audio.Notify(e)
	}
	if s.VisualEnabled && g.Visual != nil {
		g.Visual.Notify(e)
	}
}
