// Package command turns a captured recording into an executed command:
// transcription, intent classification, dispatch and history.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"voxwake/internal/capture"
	"voxwake/internal/nlu"
	"voxwake/internal/notify"
	"voxwake/internal/observe"
	"voxwake/internal/store"
	"voxwake/pkg/audioconv"
)

var (
	ErrQueueFull = errors.New("command: queue full")
	ErrClosed    = errors.New("command: processor closed")
)

// Transcriber turns mono 16 kHz audio into text.
type Transcriber interface {
	TranscribeText(ctx context.Context, pcm16k []float32) (string, error)
}

type Deps struct {
	Transcriber Transcriber
	Classifier  nlu.Classifier
	Dispatcher  *Dispatcher
	History     store.HistoryStore // optional
	Sink        notify.Sink
	Metrics     *observe.Metrics
	Log         *slog.Logger
}

type Options struct {
	QueueSize         int           // default 4
	TranscribeTimeout time.Duration // default 60s
	CommandTimeout    time.Duration // default 15s, classification plus dispatch
	ArchiveDir        string        // save every blob as WAV when set
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 4
	}
	if o.TranscribeTimeout <= 0 {
		o.TranscribeTimeout = 60 * time.Second
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 15 * time.Second
	}
	return o
}

// Processor runs captured commands on a single worker behind a bounded
// queue. Submit never blocks.
type Processor struct {
	deps Deps
	opt  Options
	log  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan capture.Blob

	startOnce sync.Once
	done      chan struct{}
	cancel    context.CancelFunc
}

func New(deps Deps, opt Options) (*Processor, error) {
	if deps.Transcriber == nil || deps.Classifier == nil {
		return nil, errors.New("command: transcriber and classifier are required")
	}
	if deps.Dispatcher == nil {
		deps.Dispatcher = &Dispatcher{}
	}
	if deps.Sink == nil {
		deps.Sink = notify.Discard
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	opt = opt.withDefaults()
	if opt.ArchiveDir != "" {
		if err := os.MkdirAll(opt.ArchiveDir, 0o755); err != nil {
			return nil, fmt.Errorf("command: archive dir: %w", err)
		}
	}
	return &Processor{
		deps:  deps,
		opt:   opt,
		log:   deps.Log,
		queue: make(chan capture.Blob, opt.QueueSize),
		done:  make(chan struct{}),
	}, nil
}

// Start launches the worker. Later calls do nothing.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.run(ctx)
	})
}

// Submit queues a blob for processing. When the queue is full the blob is
// rejected and the user is told.
func (p *Processor) Submit(b capture.Blob) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- b:
		return nil
	default:
	}
	p.deps.Metrics.CommandRejected(context.Background())
	p.deps.Sink.Notify(notify.Failed("still busy with the last command"))
	return fmt.Errorf("%w: %d pending", ErrQueueFull, len(p.queue))
}

// Close stops accepting blobs, finishes the queued ones and waits for the
// worker. A processor that was never started drops its queue.
func (p *Processor) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	started := true
	p.startOnce.Do(func() { started = false })
	if !started {
		if n := len(p.queue); n > 0 {
			p.log.Warn("dropping unprocessed commands", "count", n)
		}
		return nil
	}
	<-p.done
	p.cancel()
	return nil
}

func (p *Processor) run(ctx context.Context) {
	defer close(p.done)
	for blob := range p.queue {
		p.safely(ctx, blob)
	}
}

func (p *Processor) safely(ctx context.Context, blob capture.Blob) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("command worker panic", "panic", r, "stack", string(debug.Stack()))
			p.deps.Sink.Notify(notify.Failed("something went wrong"))
		}
	}()
	p.Process(ctx, blob)
}

// Outcome is the result of one processed command.
type Outcome struct {
	Transcript string
	Command    nlu.Result
	Reply      string
	Err        error
	Took       time.Duration
}

// Process handles one blob synchronously. The worker calls it for queued
// blobs; it is exported for replaying recordings.
func (p *Processor) Process(ctx context.Context, blob capture.Blob) Outcome {
	start := time.Now()
	p.deps.Sink.Notify(notify.Busy())

	if p.opt.ArchiveDir != "" {
		p.archive(blob)
	}

	out := p.execute(ctx, blob)
	out.Took = time.Since(start)

	status := "ok"
	if out.Err != nil {
		status = "error"
	}
	intent := out.Command.Intent
	if intent == "" {
		intent = nlu.IntentUnknown
	}
	p.deps.Metrics.RecordCommand(ctx, string(intent), status, out.Took)

	if out.Transcript != "" && p.deps.History != nil {
		entry := store.HistoryEntry{
			Command:    out.Transcript,
			Intent:     string(intent),
			Success:    out.Err == nil,
			Confidence: blob.WakeConfidence,
			Duration:   out.Took,
			ExecutedAt: start,
		}
		if out.Err != nil {
			entry.Error = out.Err.Error()
		}
		if err := p.deps.History.LogCommand(ctx, entry); err != nil {
			p.log.Warn("command history write failed", "err", err)
		}
	}

	if out.Err != nil {
		p.log.Warn("command failed", "text", out.Transcript, "intent", intent, "err", out.Err)
		p.deps.Sink.Notify(notify.Failed(userMessage(out.Err)))
		return out
	}
	p.log.Info("command done", "text", out.Transcript, "intent", intent, "action", out.Command.Action, "reply", out.Reply, "took", out.Took)
	p.deps.Sink.Notify(notify.Done(out.Reply))
	return out
}

func (p *Processor) execute(ctx context.Context, blob capture.Blob) Outcome {
	var out Outcome

	pcm := audioconv.ToMono16k(blob.Samples, blob.Format.SampleRate, blob.Format.Channels)
	tctx, cancel := context.WithTimeout(ctx, p.opt.TranscribeTimeout)
	t0 := time.Now()
	text, err := p.deps.Transcriber.TranscribeText(tctx, pcm)
	cancel()
	p.deps.Metrics.RecordTranscription(ctx, time.Since(t0))
	if err != nil {
		out.Err = fmt.Errorf("%w: %w", ErrTranscribe, err)
		return out
	}
	out.Transcript = text
	if text == "" {
		out.Err = ErrNothingHeard
		return out
	}
	p.log.Info("transcribed", "text", text, "took", time.Since(t0))

	cctx, cancel := context.WithTimeout(ctx, p.opt.CommandTimeout)
	defer cancel()

	res, err := p.deps.Classifier.Classify(cctx, text)
	if err != nil {
		out.Err = fmt.Errorf("command: classify: %w", err)
		return out
	}
	out.Command = res
	out.Reply, out.Err = p.deps.Dispatcher.Dispatch(cctx, res)
	return out
}

func (p *Processor) archive(blob capture.Blob) {
	name := fmt.Sprintf("command-%s-%06d.wav", blob.CapturedAt.Format("20060102-150405"), blob.StartSeq)
	path := filepath.Join(p.opt.ArchiveDir, name)
	if err := audioconv.SaveWAV(path, blob.Samples, blob.Format.SampleRate, blob.Format.Channels); err != nil {
		p.log.Warn("command archive failed", "path", path, "err", err)
		return
	}
	p.log.Debug("command archived", "path", path)
}
