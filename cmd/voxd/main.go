package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	cli "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/lmittmann/tint"
	log "log/slog"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel"

	"voxwake/internal/audio"
	"voxwake/internal/audio/portaudio"
	"voxwake/internal/command"
	"voxwake/internal/config"
	"voxwake/internal/ipc"
	"voxwake/internal/listener"
	"voxwake/internal/nlu"
	"voxwake/internal/notify"
	"voxwake/internal/notify/sound"
	"voxwake/internal/observe"
	"voxwake/internal/proxy"
	"voxwake/internal/store"
	"voxwake/internal/tts"
	"voxwake/internal/wake"
	"voxwake/pkg/protocol"
	"voxwake/pkg/stt"
)

var version = "dev"

var logLevelMap = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	configPath := cli.StringP("config", "c", "", "Config file path")
	logLevel := cli.StringP("log", "l", "", "Log level, overrides the config")
	noListen := cli.Bool("idle", false, "Start without listening; use voxctl start")
	cli.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("Failed to load env file", "path", *envFile, "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("Bad config", "err", err)
		os.Exit(1)
	}
	level := string(cfg.LogLevel)
	if *logLevel != "" {
		level = *logLevel
	}
	log.SetDefault(log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      logLevelMap[level],
		TimeFormat: time.TimeOnly,
	})))

	log.Info("Booting up", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, !*noListen); err != nil {
		log.Error("Daemon failed", "err", err)
		os.Exit(1)
	}
	log.Info("Bye")
}

func run(ctx context.Context, cfg *config.Config, listen bool) error {
	g, gctx := errgroup.WithContext(ctx)

	var metrics *observe.Metrics
	if cfg.Metrics.ListenAddr != "" {
		handler, shutdown, err := observe.InitProvider(ctx, version)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
		if metrics, err = observe.NewMetrics(otel.GetMeterProvider()); err != nil {
			return err
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		srv := &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("Serving metrics", "addr", cfg.Metrics.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	db, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Debug("Loaded store", "driver", cfg.Store.Driver)

	sens, err := wake.NewSensitivityModel(cfg.Wake.InitialSensitivity, db, nil)
	if err != nil {
		return err
	}
	sens.OnChange = func(s wake.Snapshot) {
		metrics.RecordSensitivity(context.Background(), s.Level, s.Threshold)
	}
	if err := sens.Load(ctx); err != nil {
		log.Warn("Using initial sensitivity", "level", cfg.Wake.InitialSensitivity, "err", err)
	}

	whisper, err := stt.New(cfg.Command.WhisperModel, stt.Options{Language: cfg.Command.Language})
	if err != nil {
		return err
	}
	defer whisper.Close()
	log.Debug("Loaded whisper", "model", cfg.Command.WhisperModel)

	scorer, closeScorer, err := buildScorer(cfg, whisper)
	if err != nil {
		return err
	}
	defer closeScorer()
	detector := wake.NewDetector(scorer, sens)

	ducker := audio.NewDucker(audio.ExecPactl, []string{"voxwake", "voxd"}, 10)

	gate := notify.NewGate(notify.Settings{AudioEnabled: cfg.Notify.Audio, VisualEnabled: cfg.Notify.Visual}, db, nil)
	if err := gate.Load(ctx); err != nil {
		log.Warn("Using default notification settings", "err", err)
	}
	buildSinks(cfg, gate, ducker)
	sink := notify.NewAsync(gate, cfg.Notify.QueueSize, nil)
	defer sink.Close()

	classifier, err := buildClassifier(cfg)
	if err != nil {
		return err
	}

	dispatcher := &command.Dispatcher{
		Volume:      ducker,
		Sensitivity: sens,
		Thermostat:  cfg.Hub.Thermostat,
	}
	if cfg.Hub.URL != "" {
		hub, err := protocol.Dial(ctx, protocol.Config{
			Shard:     cfg.Hub.Shard,
			URL:       cfg.Hub.URL,
			Reconnect: cfg.Hub.Reconnect,
			Timeout:   cfg.Hub.Timeout,
			OnMessage: func(m protocol.Message) {
				log.Info("Hub message", "from", m.From, "verb", m.Verb, "noun", m.Noun, "args", m.Args)
			},
		})
		if err != nil {
			return err
		}
		defer hub.Close()
		dispatcher.Hub = hub
		g.Go(func() error { return hub.Run(gctx) })
		log.Debug("Connected to hub", "url", cfg.Hub.URL)
	}

	proc, err := command.New(command.Deps{
		Transcriber: whisper,
		Classifier:  classifier,
		Dispatcher:  dispatcher,
		History:     db,
		Sink:        sink,
		Metrics:     metrics,
	}, command.Options{
		QueueSize:         cfg.Command.QueueSize,
		TranscribeTimeout: cfg.Command.TranscribeTimeout,
		ArchiveDir:        cfg.Capture.ArchiveDir,
	})
	if err != nil {
		return err
	}
	proc.Start(ctx)
	defer proc.Close()

	src, closeSrc, err := buildSource(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	deps := listener.Deps{
		Source:    src,
		Detector:  detector,
		Processor: proc,
		Sink:      sink,
		Metrics:   metrics,
	}
	if cfg.Wake.TrackNoise {
		deps.Noise = wake.NewNoiseTracker(sens, 0.05, 2)
	}
	ctl, err := listener.New(deps, listener.Options{
		Format:          cfg.Audio.Format(),
		CaptureDuration: cfg.Capture.Duration,
		ChannelCapacity: cfg.Audio.ChannelCapacity,
		ReadTimeout:     cfg.Audio.ReadTimeout,
	})
	if err != nil {
		return err
	}
	defer ctl.Stop()

	d := &daemon{
		listener:     ctl,
		sensitivity:  sens,
		notify:       gate,
		history:      db,
		retention:    cfg.Store.HistoryRetention,
		autoRestart:  cfg.Audio.RestartOnLoss,
		restartDelay: time.Second,
		listenCtx:    gctx,
	}

	if listen {
		if err := ctl.Start(gctx); err != nil {
			return err
		}
	}

	log.Info("Boot up - successful", "listening", listen, "threshold", sens.Snapshot().Threshold)

	g.Go(func() error { return ipc.Serve(gctx, cfg.IPC.Socket, d.handle) })
	g.Go(func() error { return d.supervise(gctx) })
	g.Go(func() error { return d.prune(gctx) })

	return g.Wait()
}

func buildScorer(cfg *config.Config, whisper *stt.Whisper) (wake.Scorer, func(), error) {
	if cfg.Wake.Scorer != "phrase" {
		return wake.EnergyScorer{Gain: cfg.Wake.Gain}, func() {}, nil
	}

	model, closeModel := whisper, func() {}
	if cfg.Wake.WhisperModel != "" && cfg.Wake.WhisperModel != cfg.Command.WhisperModel {
		small, err := stt.New(cfg.Wake.WhisperModel, stt.Options{})
		if err != nil {
			return nil, nil, err
		}
		model, closeModel = small, func() { small.Close() }
	}
	scorer, err := wake.NewPhraseScorer(phraseTranscriber{w: model}, wake.PhraseOptions{
		Phrases:    cfg.Wake.Phrases,
		SampleRate: cfg.Audio.SampleRate,
		Channels:   cfg.Audio.Channels,
		Window:     cfg.Wake.Window,
		Hop:        cfg.Wake.Hop,
	})
	if err != nil {
		closeModel()
		return nil, nil, err
	}
	return scorer, closeModel, nil
}

// phraseTranscriber decodes short wake windows on the shared command model.
type phraseTranscriber struct {
	w *stt.Whisper
}

func (p phraseTranscriber) TranscribeText(ctx context.Context, pcm []float32) (string, error) {
	res, err := p.w.Transcribe(ctx, pcm, stt.Options{Language: "en", MaxTokens: 8})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func buildSinks(cfg *config.Config, gate *notify.Gate, ducker *audio.Ducker) {
	always := notify.Multi{notify.LogSink{Log: log.Default()}}
	if cfg.Notify.Duck {
		always = append(always, notify.DuckSink{Ducker: ducker, Factor: 0.3, Fade: 300 * time.Millisecond})
	}
	gate.Always = always

	var audible notify.Multi
	if cfg.Notify.SoundFile != "" {
		beep, err := sound.NewBeepSink(cfg.Notify.SoundFile, nil)
		if err != nil {
			log.Warn("No notification sound", "file", cfg.Notify.SoundFile, "err", err)
		} else {
			audible = append(audible, beep)
		}
	}
	if cfg.Notify.Speech {
		audible = append(audible, notify.SpeechSink{Speaker: tts.New(cfg.Notify.Language, 0)})
	}
	gate.Audio = audible
	gate.Visual = notify.NewDesktopSink("voxwake", nil)
}

func buildClassifier(cfg *config.Config) (nlu.Classifier, error) {
	if cfg.Command.Classifier != "openai" {
		return nlu.KeywordClassifier{}, nil
	}
	httpClient, err := proxy.NewSocksClient(cfg.Command.Proxy, 0)
	if err != nil {
		return nil, err
	}
	client := openai.NewClient(
		option.WithAPIKey(cfg.Command.OpenAIKey),
		option.WithHTTPClient(httpClient),
	)
	log.Debug("Loaded OpenAI classifier", "model", cfg.Command.OpenAIModel, "proxy", cfg.Command.Proxy)
	return nlu.NewOpenAIClassifier(client, cfg.Command.OpenAIModel), nil
}

func buildSource(ctx context.Context, cfg *config.Config) (audio.Source, func(), error) {
	if cfg.Audio.File != "" {
		src, err := audio.NewFileSource(ctx, cfg.Audio.File, cfg.Audio.SampleRate)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Replaying recording instead of the microphone", "file", cfg.Audio.File)
		return src, func() {}, nil
	}
	src := portaudio.NewSource(cfg.Audio.Device, nil)
	if err := src.Init(); err != nil {
		return nil, nil, err
	}
	return src, func() {
		if err := src.Terminate(); err != nil {
			log.Warn("Failed to terminate portaudio", "err", err)
		}
	}, nil
}
