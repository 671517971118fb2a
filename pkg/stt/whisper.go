// Package stt wraps the whisper.cpp Go bindings for offline transcription of
// short command and wake-phrase windows.
package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

var (
	// ErrNoAudio is returned when an empty sample slice is submitted.
	ErrNoAudio = errors.New("stt: no audio samples provided")
	ErrClosed  = errors.New("stt: model closed")
)

type Options struct {
	Language      string // "auto", "en", "ru", ...
	TranslateToEn bool   // translate non-English speech to English
	Threads       int    // <=0 => NumCPU()
	InitialPrompt string // biases decoding, e.g. towards known command words
	MaxTokens     uint   // 0 = no limit
	BeamSize      int    // 0 = greedy
	AudioCtx      uint   // encoder audio ctx size; 0 = default
	SplitOnWord   bool
	Temperature   float32 // 0 = default
	Duration      time.Duration
}

type Segment struct {
	Text     string
	StartSec float64
	EndSec   float64
}

type Result struct {
	Text     string
	Segments []Segment
	Language string // detected or forced
}

// Whisper owns a loaded model. The model is shared; each call gets its own
// decoding context, and calls are serialised because whisper.cpp contexts on
// one model compete for the same compute buffers. Waiting for the model
// honours the caller's context.
type Whisper struct {
	slot     chan struct{}
	model    whisper.Model
	defaults Options
}

// New loads the ggml model at modelPath. defaults apply to TranscribeText.
func New(modelPath string, defaults Options) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("stt: empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("stt: load model: %w", err)
	}
	return &Whisper{slot: make(chan struct{}, 1), model: m, defaults: defaults}, nil
}

func (w *Whisper) Close() error {
	w.slot <- struct{}{}
	defer func() { <-w.slot }()
	if w.model == nil {
		return nil
	}
	err := w.model.Close()
	w.model = nil
	return err
}

// TranscribeText runs Transcribe with the default options and returns only
// the trimmed text.
func (w *Whisper) TranscribeText(ctx context.Context, pcm16k []float32) (string, error) {
	res, err := w.Transcribe(ctx, pcm16k, w.defaults)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Text), nil
}

// Transcribe decodes pcm16k, which must be mono 16 kHz float32 in [-1, 1].
func (w *Whisper) Transcribe(ctx context.Context, pcm16k []float32, opt Options) (Result, error) {
	if len(pcm16k) == 0 {
		return Result{}, ErrNoAudio
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	select {
	case w.slot <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-w.slot }()
	if w.model == nil {
		return Result{}, ErrClosed
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return Result{}, fmt.Errorf("stt: new context: %w", err)
	}
	if err := configure(wctx, opt); err != nil {
		return Result{}, err
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return Result{}, fmt.Errorf("stt: process: %w", err)
	}

	var (
		segs  []Segment
		parts []string
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Result{}, fmt.Errorf("stt: next segment: %w", err)
		}
		segs = append(segs, Segment{
			Text:     s.Text,
			StartSec: s.Start.Seconds(),
			EndSec:   s.End.Seconds(),
		})
		parts = append(parts, strings.TrimSpace(s.Text))
	}

	lang := wctx.DetectedLanguage()
	if lang == "" {
		lang = wctx.Language()
	}
	return Result{
		Text:     strings.Join(parts, " "),
		Segments: segs,
		Language: lang,
	}, nil
}

func configure(wctx whisper.Context, opt Options) error {
	if opt.Language == "" {
		opt.Language = "auto"
	}
	if err := wctx.SetLanguage(opt.Language); err != nil {
		return fmt.Errorf("stt: set language: %w", err)
	}
	wctx.SetTranslate(opt.TranslateToEn)

	threads := opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if opt.Duration > 0 {
		wctx.SetDuration(opt.Duration)
	}
	if opt.SplitOnWord {
		wctx.SetSplitOnWord(true)
	}
	if opt.MaxTokens > 0 {
		wctx.SetMaxTokensPerSegment(opt.MaxTokens)
	}
	if opt.AudioCtx > 0 {
		wctx.SetAudioCtx(opt.AudioCtx)
	}
	if opt.BeamSize > 0 {
		wctx.SetBeamSize(opt.BeamSize)
	}
	if opt.InitialPrompt != "" {
		wctx.SetInitialPrompt(opt.InitialPrompt)
	}
	if opt.Temperature != 0 {
		wctx.SetTemperature(opt.Temperature)
	}
	return nil
}
