// Package config holds the daemon configuration: a YAML file layered over
// defaults, with secrets taken from the environment.
package config

import (
	"time"

	"voxwake/internal/audio"
)

// LogLevel is one of debug, info, warn, error.
type LogLevel string

func (l LogLevel) IsValid() bool {
	switch l {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

type Config struct {
	LogLevel LogLevel      `yaml:"log_level"`
	Audio    AudioConfig   `yaml:"audio"`
	Wake     WakeConfig    `yaml:"wake"`
	Capture  CaptureConfig `yaml:"capture"`
	Command  CommandConfig `yaml:"command"`
	Notify   NotifyConfig  `yaml:"notify"`
	Store    StoreConfig   `yaml:"store"`
	Hub      HubConfig     `yaml:"hub"`
	Metrics  MetricsConfig `yaml:"metrics"`
	IPC      IPCConfig     `yaml:"ipc"`
}

type AudioConfig struct {
	SampleRate int                  `yaml:"sample_rate"`
	FrameSize  int                  `yaml:"frame_size"`
	Channels   int                  `yaml:"channels"`
	Encoding   audio.SampleEncoding `yaml:"encoding"`
	Device     string               `yaml:"device"`
	// replay a recording instead of opening a microphone
	File string `yaml:"file"`
	// 0 picks about one second of frames
	ChannelCapacity int           `yaml:"channel_capacity"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	// reopen the device after it disappears instead of waiting for
	// "voxctl start"
	RestartOnLoss bool `yaml:"restart_on_loss"`
}

// Format is the capture format described by a.
func (a AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: a.SampleRate,
		Channels:   a.Channels,
		FrameSize:  a.FrameSize,
		Encoding:   a.Encoding,
	}
}

type WakeConfig struct {
	InitialSensitivity float64  `yaml:"initial_sensitivity"`
	Scorer             string   `yaml:"scorer"` // energy or phrase
	Gain               float64  `yaml:"gain"`
	Phrases            []string `yaml:"phrases"`
	// defaults to command.whisper_model
	WhisperModel string        `yaml:"whisper_model"`
	Window       time.Duration `yaml:"window"`
	Hop          time.Duration `yaml:"hop"`
	TrackNoise   bool          `yaml:"track_noise"`
}

type CaptureConfig struct {
	Duration   time.Duration `yaml:"duration"`
	ArchiveDir string        `yaml:"archive_dir"`
}

type CommandConfig struct {
	QueueSize         int           `yaml:"queue_size"`
	TranscribeTimeout time.Duration `yaml:"transcribe_timeout"`
	Classifier        string        `yaml:"classifier"` // keyword or openai
	WhisperModel      string        `yaml:"whisper_model"`
	Language          string        `yaml:"language"`
	OpenAIModel       string        `yaml:"openai_model"`
	Proxy             string        `yaml:"proxy"`

	// OPENAI_API_KEY
	OpenAIKey string `yaml:"-"`
}

type NotifyConfig struct {
	Audio     bool   `yaml:"audio"`
	Visual    bool   `yaml:"visual"`
	Speech    bool   `yaml:"speech"`
	Duck      bool   `yaml:"duck"`
	SoundFile string `yaml:"sound_file"`
	QueueSize int    `yaml:"queue_size"`
	Language  string `yaml:"language"` // espeak voice
}

type StoreConfig struct {
	Driver           string        `yaml:"driver"` // postgres or file
	DSN              string        `yaml:"dsn"`
	Path             string        `yaml:"path"`
	HistoryRetention time.Duration `yaml:"history_retention"`
}

type HubConfig struct {
	URL        string        `yaml:"url"`
	Shard      string        `yaml:"shard"`
	Thermostat string        `yaml:"thermostat"`
	Reconnect  time.Duration `yaml:"reconnect"`
	Timeout    time.Duration `yaml:"timeout"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type IPCConfig struct {
	Socket string `yaml:"socket"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio: AudioConfig{
			SampleRate: audio.DefaultFormat.SampleRate,
			FrameSize:  audio.DefaultFormat.FrameSize,
			Channels:   audio.DefaultFormat.Channels,
			Encoding:   audio.DefaultFormat.Encoding,
		},
		Wake: WakeConfig{
			InitialSensitivity: 0.5,
			Scorer:             "energy",
			Gain:               4,
			Phrases:            []string{"hey assistant", "wake up"},
			Window:             1500 * time.Millisecond,
			Hop:                500 * time.Millisecond,
			TrackNoise:         true,
		},
		Capture: CaptureConfig{Duration: 3 * time.Second},
		Command: CommandConfig{
			QueueSize:         4,
			TranscribeTimeout: 60 * time.Second,
			Classifier:        "keyword",
			WhisperModel:      "models/ggml-base.bin",
			Language:          "auto",
			OpenAIModel:       "gpt-5-nano",
		},
		Notify: NotifyConfig{
			Audio:     true,
			Visual:    true,
			SoundFile: "beep.mp3",
			QueueSize: 16,
			Language:  "en",
		},
		Store: StoreConfig{
			Driver:           "file",
			Path:             "data/voxwake.json",
			HistoryRetention: 30 * 24 * time.Hour,
		},
		Hub: HubConfig{
			Shard:      "VOX",
			Thermostat: "THERMO",
			Reconnect:  2 * time.Second,
			Timeout:    5 * time.Second,
		},
		IPC: IPCConfig{Socket: "/tmp/voxwake.sock"},
	}
}
