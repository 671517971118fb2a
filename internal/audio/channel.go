package audio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FrameChannel is a bounded single-producer/single-consumer hand-off between
// the capture pump and the detection loop. Push never blocks: when the
// buffer is full the oldest queued frame is discarded.
type FrameChannel struct {
	frames    chan Frame
	closed    chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
	log       *slog.Logger

	// OnDrop, if set, is called once per discarded frame from the producer
	// goroutine.
	OnDrop func()
}

// NewFrameChannel creates a channel holding up to capacity frames. A
// non-positive capacity is treated as 1.
func NewFrameChannel(capacity int, log *slog.Logger) *FrameChannel {
	if capacity <= 0 {
		capacity = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &FrameChannel{
		frames: make(chan Frame, capacity),
		closed: make(chan struct{}),
		log:    log,
	}
}

// Push enqueues f, evicting the oldest frame if the buffer is full. It
// reports whether a frame was evicted. Frames pushed after Close are
// discarded.
func (c *FrameChannel) Push(f Frame) (evicted bool) {
	select {
	case <-c.closed:
		return false
	default:
	}

	for {
		select {
		case c.frames <- f:
			return evicted
		default:
		}

		select {
		case old := <-c.frames:
			evicted = true
			n := c.dropped.Add(1)
			if n == 1 || n%50 == 0 {
				c.log.Warn("frame channel full, dropping oldest frame",
					"seq", old.Seq, "dropped_total", n)
			}
			if c.OnDrop != nil {
				c.OnDrop()
			}
		default:
			// the consumer made room between the two selects
		}
	}
}

// Pop waits up to timeout for the next frame. It returns false on timeout or
// once the channel is closed and empty.
func (c *FrameChannel) Pop(timeout time.Duration) (Frame, bool) {
	select {
	case f := <-c.frames:
		return f, true
	default:
	}

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case f := <-c.frames:
		return f, true
	case <-c.closed:
		select {
		case f := <-c.frames:
			return f, true
		default:
			return Frame{}, false
		}
	case <-t.C:
		return Frame{}, false
	}
}

// Drain discards all queued frames and returns how many there were.
func (c *FrameChannel) Drain() int {
	n := 0
	for {
		select {
		case <-c.frames:
			n++
		default:
			return n
		}
	}
}

// Close wakes a blocked Pop. Queued frames stay poppable until drained.
func (c *FrameChannel) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *FrameChannel) Len() int        { return len(c.frames) }
func (c *FrameChannel) Cap() int        { return cap(c.frames) }
func (c *FrameChannel) Dropped() uint64 { return c.dropped.Load() }
