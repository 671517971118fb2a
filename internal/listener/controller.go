// Package listener runs the wake-word-gated capture pipeline: a pump
// goroutine reads frames from the capture device into a bounded channel and
// a detection loop scores them, opening a command capture window when the
// wake word fires.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voxwake/internal/audio"
	"voxwake/internal/capture"
	"voxwake/internal/notify"
	"voxwake/internal/observe"
	"voxwake/internal/wake"
)

var (
	ErrAlreadyRunning = errors.New("listener: already running")
	ErrNotRunning     = errors.New("listener: not running")
	// ErrDeviceLost wraps the device error that ended a session.
	ErrDeviceLost = errors.New("listener: capture device lost")
)

// State of the controller.
type State int32

const (
	Idle State = iota
	Listening
	Capturing
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Capturing:
		return "capturing"
	case Stopping:
		return "stopping"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Detector decides whether a frame contains the wake word.
type Detector interface {
	Detect(audio.Frame) (wake.Result, error)
	Reset()
}

// Processor accepts finished command recordings. Submit must not block.
type Processor interface {
	Submit(capture.Blob) error
}

// NoiseObserver is fed frames that did not trigger.
type NoiseObserver interface {
	Observe(audio.Frame)
}

type Deps struct {
	Source    audio.Source
	Detector  Detector
	Processor Processor
	Sink      notify.Sink   // optional
	Noise     NoiseObserver // optional
	Metrics   *observe.Metrics
	Log       *slog.Logger
}

type Options struct {
	Format          audio.Format
	CaptureDuration time.Duration
	// ChannelCapacity defaults to about one second of frames.
	ChannelCapacity int
	// ReadTimeout bounds one device read. Defaults to two frame durations.
	ReadTimeout time.Duration
	// PopTimeout bounds one wait on the frame channel. Defaults to one
	// frame duration.
	PopTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.CaptureDuration <= 0 {
		o.CaptureDuration = 3 * time.Second
	}
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = max(1, o.Format.FramesPerSecond())
	}
	frame := o.Format.FrameDuration()
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = max(2*frame, 10*time.Millisecond)
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = max(frame, 5*time.Millisecond)
	}
	return o
}

// Stats are cumulative over the controller's lifetime.
type Stats struct {
	FramesProcessed uint64
	Detections      uint64
	ScoringErrors   uint64
	Dropped         uint64
}

// Controller owns one capture session at a time. Start and Stop may be
// called from any goroutine.
type Controller struct {
	deps Deps
	opt  Options
	log  *slog.Logger

	state     atomic.Int32
	lifecycle sync.Mutex

	// session, guarded by lifecycle
	stream audio.Stream
	frames *audio.FrameChannel
	cancel context.CancelFunc
	group  *errgroup.Group

	// owned by the detection loop
	window     *capture.Window
	confidence float64

	trigger chan struct{}
	errs    chan error

	processed  atomic.Uint64
	detections atomic.Uint64
	scoreErrs  atomic.Uint64
	dropped    atomic.Uint64
}

func New(deps Deps, opt Options) (*Controller, error) {
	if deps.Source == nil || deps.Detector == nil || deps.Processor == nil {
		return nil, errors.New("listener: source, detector and processor are required")
	}
	if err := opt.Format.Validate(); err != nil {
		return nil, fmt.Errorf("listener: %w", err)
	}
	if deps.Sink == nil {
		deps.Sink = notify.Discard
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Controller{
		deps:    deps,
		opt:     opt.withDefaults(),
		log:     deps.Log,
		trigger: make(chan struct{}, 1),
		errs:    make(chan error, 1),
	}, nil
}

func (c *Controller) State() State { return State(c.state.Load()) }

// Errors delivers ErrDeviceLost, wrapping the device error, at most once per
// session. The owner should call Stop and decide whether to Start again.
func (c *Controller) Errors() <-chan error { return c.errs }

func (c *Controller) Stats() Stats {
	return Stats{
		FramesProcessed: c.processed.Load(),
		Detections:      c.detections.Load(),
		ScoringErrors:   c.scoreErrs.Load(),
		Dropped:         c.dropped.Load(),
	}
}

// Start opens the source and begins listening. The session outlives ctx's
// deadline; only Stop ends it.
func (c *Controller) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() != Idle {
		return ErrAlreadyRunning
	}

	stream, err := c.deps.Source.Open(c.opt.Format)
	if err != nil {
		return fmt.Errorf("listener: open source: %w", err)
	}

	frames := audio.NewFrameChannel(c.opt.ChannelCapacity, c.log)
	frames.OnDrop = func() {
		c.dropped.Add(1)
		c.deps.Metrics.FrameDropped(context.Background())
	}

	// drop leftovers from a previous session
	select {
	case <-c.trigger:
	default:
	}
	select {
	case <-c.errs:
	default:
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(sctx)

	c.stream, c.frames, c.cancel, c.group = stream, frames, cancel, g
	c.state.Store(int32(Listening))

	g.Go(func() error { return c.pump(gctx, stream, frames) })
	g.Go(func() error { return c.loop(gctx, frames) })

	c.log.Info("listening", "sample_rate", c.opt.Format.SampleRate, "frame_size", c.opt.Format.FrameSize,
		"channel_capacity", c.opt.ChannelCapacity)
	return nil
}

// Stop ends the session and waits for both goroutines. It is a no-op when
// idle. Any partial command capture is discarded.
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	if c.State() == Idle {
		return nil
	}
	c.state.Store(int32(Stopping))

	c.cancel()
	closeErr := c.stream.Close()
	c.frames.Close()
	if err := c.group.Wait(); err != nil && !errors.Is(err, ErrDeviceLost) {
		c.log.Warn("listener session ended with error", "err", err)
	}
	if n := c.frames.Drain(); n > 0 {
		c.log.Debug("discarded queued frames", "count", n)
	}

	c.stream, c.frames, c.cancel, c.group = nil, nil, nil, nil
	c.state.Store(int32(Idle))
	c.log.Info("listener stopped")

	if closeErr != nil {
		return fmt.Errorf("listener: close stream: %w", closeErr)
	}
	return nil
}

// ManualTrigger opens a capture window on the next loop iteration as if the
// wake word had fired. It is ignored while a capture is already running.
func (c *Controller) ManualTrigger() error {
	switch c.State() {
	case Listening:
	case Capturing:
		return nil
	default:
		return ErrNotRunning
	}
	select {
	case c.trigger <- struct{}{}:
	default:
	}
	return nil
}

func (c *Controller) pump(ctx context.Context, stream audio.Stream, frames *audio.FrameChannel) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		f, err := stream.ReadFrame(c.opt.ReadTimeout)
		switch {
		case err == nil:
			frames.Push(f)
		case errors.Is(err, audio.ErrTimeout):
		case errors.Is(err, audio.ErrStreamClosed) && (ctx.Err() != nil || c.State() == Stopping):
			return nil
		default:
			return c.deviceLost(ctx, err)
		}
	}
}

func (c *Controller) deviceLost(ctx context.Context, cause error) error {
	c.state.Store(int32(Stopping))
	err := fmt.Errorf("%w: %w", ErrDeviceLost, cause)

	c.log.Error("capture device lost", "err", cause)
	c.deps.Metrics.DeviceFailure(ctx)
	c.deps.Sink.Notify(notify.Failed("microphone disconnected"))

	select {
	case c.errs <- err:
	default:
	}
	return err
}

func (c *Controller) loop(ctx context.Context, frames *audio.FrameChannel) error {
	defer c.cancelCapture()

	for {
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-c.trigger:
			c.safely(func() { c.beginCapture("manual", 1) })
		default:
		}

		f, ok := frames.Pop(c.opt.PopTimeout)
		if !ok {
			continue
		}
		c.safely(func() { c.handleFrame(ctx, f) })
	}
}

// safely recovers a panic from fn, drops any partial capture and goes back
// to listening.
func (c *Controller) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic in detection loop", "panic", r, "stack", string(debug.Stack()))
			c.cancelCapture()
			c.deps.Detector.Reset()
			c.state.CompareAndSwap(int32(Capturing), int32(Listening))
		}
	}()
	fn()
}

func (c *Controller) handleFrame(ctx context.Context, f audio.Frame) {
	c.processed.Add(1)
	c.deps.Metrics.FrameProcessed(ctx)

	switch c.State() {
	case Listening:
		c.detect(ctx, f)
	case Capturing:
		c.collect(f)
	}
}

func (c *Controller) detect(ctx context.Context, f audio.Frame) {
	res, err := c.deps.Detector.Detect(f)
	if err != nil {
		n := c.scoreErrs.Add(1)
		c.deps.Metrics.ScoringError(ctx)
		if n == 1 || n%100 == 0 {
			c.log.Warn("wake word scoring failed", "seq", f.Seq, "errors", n, "err", err)
		}
		return
	}
	if !res.Triggered {
		if c.deps.Noise != nil {
			c.deps.Noise.Observe(f)
		}
		return
	}
	c.deps.Metrics.Detection(ctx, res.Confidence)
	c.beginCapture("wake", res.Confidence)
}

func (c *Controller) beginCapture(reason string, confidence float64) {
	if !c.state.CompareAndSwap(int32(Listening), int32(Capturing)) {
		return
	}
	c.detections.Add(1)
	c.window = capture.New(c.opt.CaptureDuration, c.opt.Format)
	c.confidence = confidence
	c.log.Info("wake word detected", "reason", reason, "confidence", confidence)
	c.deps.Sink.Notify(notify.Wake())
}

func (c *Controller) collect(f audio.Frame) {
	if c.window == nil {
		c.state.CompareAndSwap(int32(Capturing), int32(Listening))
		return
	}
	if !c.window.Feed(f) {
		return
	}
	blob, _ := c.window.Blob()
	blob.WakeConfidence = c.confidence
	c.window = nil

	if err := c.deps.Processor.Submit(blob); err != nil {
		c.log.Warn("command hand-off failed", "err", err)
	} else {
		c.log.Debug("command captured", "samples", len(blob.Samples), "start_seq", blob.StartSeq)
	}
	c.deps.Detector.Reset()
	c.state.CompareAndSwap(int32(Capturing), int32(Listening))
}

func (c *Controller) cancelCapture() {
	if c.window != nil {
		c.window.Cancel()
		c.window = nil
	}
}
