package capture

import (
	"fmt"
	"log"
	"sync"
	"time"

	"lens-measure/internal/lens"

	"github.com/google/uuid"
)

// DefaultWindow is how long an epoch waits for its second frame.
const DefaultWindow = 3 * time.Second

// Coordinator collects the two asynchronously delivered frames of a capture
// request into one Pair. It is safe for concurrent use; each lens output may
// call OnFrameCaptured from its own goroutine.
type Coordinator struct {
	mu       sync.Mutex
	window   time.Duration
	listener Listener

	epoch  uint64
	active bool
	mode   lens.Mode
	buffer []Frame
	timer  *time.Timer
}

// NewCoordinator creates a coordinator that reports to listener. A window
// of zero selects DefaultWindow.
func NewCoordinator(window time.Duration, listener Listener) *Coordinator {
	if window <= 0 {
		window = DefaultWindow
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}
	return &Coordinator{window: window, listener: listener}
}

// BeginCapture opens a new epoch for mode and returns its number. Any epoch
// still open is abandoned together with its buffered frame.
func (c *Coordinator) BeginCapture(mode lens.Mode) (uint64, error) {
	if mode != lens.TeleWide && mode != lens.WideUltraWide {
		return 0, fmt.Errorf("unsupported capture mode %v", mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.epoch++
	c.active = true
	c.mode = mode
	c.buffer = make([]Frame, 0, 2)

	epoch := c.epoch
	c.timer = time.AfterFunc(c.window, func() { c.expire(epoch) })

	log.Printf("Capture: epoch %d started (%s)", epoch, mode)
	return epoch, nil
}

// OnFrameCaptured buffers a frame for the current epoch. When it completes
// the pair, the pair is emitted (or the mismatch reported) and the buffer is
// emptied in the same critical section.
func (c *Coordinator) OnFrameCaptured(f Frame) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNoActiveCapture
	}
	if f.Epoch != 0 && f.Epoch != c.epoch {
		c.mu.Unlock()
		return fmt.Errorf("%w: epoch %d, current %d", ErrStaleFrame, f.Epoch, c.epoch)
	}

	c.buffer = append(c.buffer, f)
	if len(c.buffer) < 2 {
		c.mu.Unlock()
		return nil
	}

	first, second := c.buffer[0], c.buffer[1]
	epoch, mode := c.epoch, c.mode
	c.buffer = nil
	c.active = false
	c.stopTimerLocked()
	c.mu.Unlock()

	if first.Lens == second.Lens || !mode.Accepts(first.Lens, second.Lens) {
		err := fmt.Errorf("%w: got %s+%s for %s", ErrPairingMismatch, first.Lens, second.Lens, mode)
		log.Printf("Capture: epoch %d: %v", epoch, err)
		c.listener.CaptureError(epoch, err)
		return err
	}

	pair := Pair{
		ID:     uuid.NewString(),
		Epoch:  epoch,
		Mode:   mode,
		First:  first,
		Second: second,
	}
	log.Printf("Capture: epoch %d paired %s+%s (%s)", epoch, first.Lens, second.Lens, pair.ID)
	c.listener.PairReady(pair)
	return nil
}

// Cancel abandons the current epoch, if any.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active {
		log.Printf("Capture: epoch %d cancelled", c.epoch)
	}
	c.active = false
	c.buffer = nil
	c.stopTimerLocked()
}

// Buffered returns the number of frames waiting for a partner.
func (c *Coordinator) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Active reports whether an epoch is open, and which.
func (c *Coordinator) Active() (uint64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch, c.active
}

func (c *Coordinator) expire(epoch uint64) {
	c.mu.Lock()
	if !c.active || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	c.active = false
	c.buffer = nil
	c.timer = nil
	c.mu.Unlock()

	log.Printf("Capture: epoch %d timed out after %s", epoch, c.window)
	c.listener.CaptureError(epoch, fmt.Errorf("%w after %s", ErrCaptureTimeout, c.window))
}

func (c *Coordinator) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
