package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"voxwake/internal/wake"
)

const (
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvDatabaseURL = "VOXWAKE_DATABASE_URL"
)

var (
	validScorers     = []string{"energy", "phrase"}
	validClassifiers = []string{"keyword", "openai"}
	validDrivers     = []string{"postgres", "file"}
)

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path gives the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		cfg := Default()
		ApplyEnv(cfg, os.Getenv)
		return cfg, Validate(cfg)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := decode(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	ApplyEnv(cfg, os.Getenv)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r over the defaults and validates it.
// The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return cfg, nil
}

// ApplyEnv copies secrets from the environment. A database URL in the
// environment wins over the file and selects the postgres driver.
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if v := getenv(EnvOpenAIKey); v != "" {
		cfg.Command.OpenAIKey = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		cfg.Store.DSN = v
		cfg.Store.Driver = "postgres"
	}
}

// Validate returns every problem in cfg joined into one error.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	if err := cfg.Audio.Format().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("audio: %w", err))
	}
	if cfg.Audio.ChannelCapacity < 0 {
		errs = append(errs, fmt.Errorf("audio.channel_capacity must not be negative, got %d", cfg.Audio.ChannelCapacity))
	}
	if cfg.Audio.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("audio.read_timeout must not be negative, got %s", cfg.Audio.ReadTimeout))
	}

	if !wake.ValidLevel(cfg.Wake.InitialSensitivity) {
		errs = append(errs, fmt.Errorf("wake.initial_sensitivity must be in [0, 1], got %v", cfg.Wake.InitialSensitivity))
	}
	if !slices.Contains(validScorers, cfg.Wake.Scorer) {
		errs = append(errs, fmt.Errorf("wake.scorer %q is invalid; valid values: %v", cfg.Wake.Scorer, validScorers))
	}
	if cfg.Wake.Scorer == "phrase" {
		if len(cfg.Wake.Phrases) == 0 {
			errs = append(errs, errors.New("wake.scorer phrase requires at least one wake.phrases entry"))
		}
		if cfg.Wake.Window <= 0 || cfg.Wake.Hop <= 0 || cfg.Wake.Hop > cfg.Wake.Window {
			errs = append(errs, fmt.Errorf("wake.window %s and wake.hop %s must be positive with hop <= window", cfg.Wake.Window, cfg.Wake.Hop))
		}
	}
	if cfg.Wake.Gain <= 0 {
		errs = append(errs, fmt.Errorf("wake.gain must be positive, got %v", cfg.Wake.Gain))
	}

	if cfg.Capture.Duration <= 0 {
		errs = append(errs, fmt.Errorf("capture.duration must be positive, got %s", cfg.Capture.Duration))
	}

	if cfg.Command.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("command.queue_size must be positive, got %d", cfg.Command.QueueSize))
	}
	if cfg.Command.WhisperModel == "" {
		errs = append(errs, errors.New("command.whisper_model is required"))
	}
	if !slices.Contains(validClassifiers, cfg.Command.Classifier) {
		errs = append(errs, fmt.Errorf("command.classifier %q is invalid; valid values: %v", cfg.Command.Classifier, validClassifiers))
	}
	if cfg.Command.Classifier == "openai" && cfg.Command.OpenAIKey == "" {
		errs = append(errs, fmt.Errorf("command.classifier openai requires %s", EnvOpenAIKey))
	}

	if cfg.Notify.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("notify.queue_size must be positive, got %d", cfg.Notify.QueueSize))
	}

	if !slices.Contains(validDrivers, cfg.Store.Driver) {
		errs = append(errs, fmt.Errorf("store.driver %q is invalid; valid values: %v", cfg.Store.Driver, validDrivers))
	}
	if cfg.Store.Driver == "postgres" && cfg.Store.DSN == "" {
		errs = append(errs, fmt.Errorf("store.driver postgres requires store.dsn or %s", EnvDatabaseURL))
	}
	if cfg.Store.Driver == "file" && cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.driver file requires store.path"))
	}
	if cfg.Store.HistoryRetention < 0 {
		errs = append(errs, fmt.Errorf("store.history_retention must not be negative, got %s", cfg.Store.HistoryRetention))
	}

	if cfg.Hub.URL != "" && cfg.Hub.Shard == "" {
		errs = append(errs, errors.New("hub.shard is required when hub.url is set"))
	}

	if cfg.IPC.Socket == "" {
		errs = append(errs, errors.New("ipc.socket is required"))
	}

	return errors.Join(errs...)
}
