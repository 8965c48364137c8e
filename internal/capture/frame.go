// Package capture pairs the frames of a two-lens capture request.
package capture

import (
	"errors"
	"image"
	"time"

	"lens-measure/internal/lens"
)

var (
	// ErrPairingMismatch means the two frames of an epoch were not the
	// distinct lens pair the active mode expects.
	ErrPairingMismatch = errors.New("capture pairing mismatch")

	// ErrCaptureTimeout means the second frame did not arrive within the
	// capture window.
	ErrCaptureTimeout = errors.New("capture timed out")

	// ErrNoActiveCapture is returned for frames delivered outside an epoch.
	ErrNoActiveCapture = errors.New("no capture in progress")

	// ErrStaleFrame is returned for frames tagged with a finished epoch.
	ErrStaleFrame = errors.New("frame belongs to a previous capture")
)

// Frame is one photo delivered by a lens output.
type Frame struct {
	Lens  lens.Identity
	Image image.Image

	// FocalLength35mm comes from the capture metadata; 0 means absent.
	FocalLength35mm float64
	CapturedAt      time.Time

	// Epoch optionally tags the frame with the value BeginCapture returned.
	// Zero means untagged.
	Epoch uint64
}

// Pair is the atomic result of one capture epoch. First is the frame that
// arrived first.
type Pair struct {
	ID     string
	Epoch  uint64
	Mode   lens.Mode
	First  Frame
	Second Frame
}

// Frames returns both frames in arrival order.
func (p Pair) Frames() [2]Frame {
	return [2]Frame{p.First, p.Second}
}

// Listener receives the outcome of each capture epoch. Calls are made on the
// goroutine that delivered the completing frame (or the timer goroutine for
// timeouts) and never while the coordinator's lock is held.
type Listener interface {
	PairReady(Pair)
	CaptureError(epoch uint64, err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
type ListenerFuncs struct {
	OnPair  func(Pair)
	OnError func(epoch uint64, err error)
}

// PairReady implements Listener.
func (l ListenerFuncs) PairReady(p Pair) {
	if l.OnPair != nil {
		l.OnPair(p)
	}
}

// CaptureError implements Listener.
func (l ListenerFuncs) CaptureError(epoch uint64, err error) {
	if l.OnError != nil {
		l.OnError(epoch, err)
	}
}
