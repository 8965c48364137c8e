package measure

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"lens-measure/internal/alignment"
	"lens-measure/internal/disparity"
	"lens-measure/internal/lens"
	"lens-measure/pkg/geometry"

	"github.com/google/uuid"
)

var (
	// ErrInvalidTransition is returned for an operation the current state
	// does not accept.
	ErrInvalidTransition = errors.New("invalid session transition")

	// ErrComputationInFlight is returned by ConfirmSelection while a
	// computation is already running.
	ErrComputationInFlight = errors.New("computation already in flight")

	// ErrPointOutOfBounds is returned for taps outside the aligned frame.
	ErrPointOutOfBounds = errors.New("point outside the aligned frame")
)

// State is a measurement session state.
type State int

const (
	StateZero State = iota
	StateOne
	StateTwo
	StateConfirming
	StateComputing
	StateResult
	StateAlert
)

func (s State) String() string {
	switch s {
	case StateZero:
		return "zero"
	case StateOne:
		return "one"
	case StateTwo:
		return "two"
	case StateConfirming:
		return "confirming"
	case StateComputing:
		return "computing"
	case StateResult:
		return "result"
	case StateAlert:
		return "alert"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Event describes one state transition and carries the new state's payload.
type Event struct {
	From, To State
	Points   []geometry.Point2D
	Result   *Result
	Message  string
}

// Listener receives session events. Listeners run outside the session lock
// and may call back into the session.
type Listener func(Event)

// Session is the point selection and measurement state machine for one
// aligned frame pair. All methods are safe for concurrent use.
type Session struct {
	id       string
	calc     Computer
	profiles *lens.Store
	ctx      context.Context

	mu        sync.Mutex
	state     State
	points    []geometry.Point2D
	result    *Result
	message   string
	pair      *alignment.FramePair
	artifact  *disparity.Artifact
	job       *Job
	listeners []Listener
}

// NewSession creates a session in StateZero. ctx bounds every computation
// the session starts; nil means context.Background.
func NewSession(ctx context.Context, calc Computer, profiles *lens.Store) *Session {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Session{
		id:       uuid.NewString(),
		calc:     calc,
		profiles: profiles,
		ctx:      ctx,
	}
}

// ID returns the session's identifier.
func (s *Session) ID() string { return s.id }

// OnChange registers a listener for every transition.
func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Points returns a copy of the selected points.
func (s *Session) Points() []geometry.Point2D {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]geometry.Point2D(nil), s.points...)
}

// Result returns the last result while in StateResult.
func (s *Session) Result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Message returns the alert message while in StateAlert.
func (s *Session) Message() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message
}

// SetProfiles replaces the calibration used by later computations.
func (s *Session) SetProfiles(profiles *lens.Store) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles = profiles
}

// SetFrames installs the aligned pair (and optional disparity artifact)
// measurements are taken on. Any selection in progress is discarded.
func (s *Session) SetFrames(pair *alignment.FramePair, artifact *disparity.Artifact) {
	s.mu.Lock()
	s.pair, s.artifact = pair, artifact
	events := s.resetLocked()
	s.mu.Unlock()
	s.dispatch(events)
}

// Reset cancels any computation, drops the frames and returns to
// StateZero.
func (s *Session) Reset() {
	s.mu.Lock()
	s.pair, s.artifact = nil, nil
	events := s.resetLocked()
	s.mu.Unlock()
	s.dispatch(events)
}

// TapPoint selects a point. The second point moves the session through
// StateTwo into StateConfirming. Taps in any other state are ignored.
func (s *Session) TapPoint(p geometry.Point2D) error {
	s.mu.Lock()
	if s.state != StateZero && s.state != StateOne {
		state := s.state
		s.mu.Unlock()
		log.Printf("Session: %s: tap (%.1f, %.1f) ignored in state %s", s.id, p.X, p.Y, state)
		return nil
	}
	if s.pair != nil && !s.pair.Bounds().Contains(p) {
		s.mu.Unlock()
		return fmt.Errorf("%w: (%.1f, %.1f)", ErrPointOutOfBounds, p.X, p.Y)
	}

	var events []Event
	s.points = append(s.points, p)
	if s.state == StateZero {
		events = append(events, s.moveLocked(StateOne))
	} else {
		events = append(events, s.moveLocked(StateTwo))
		events = append(events, s.moveLocked(StateConfirming))
	}
	s.mu.Unlock()
	s.dispatch(events)
	return nil
}

// ConfirmSelection starts computing the distance between the two points.
func (s *Session) ConfirmSelection() error {
	s.mu.Lock()
	switch s.state {
	case StateComputing:
		s.mu.Unlock()
		return ErrComputationInFlight
	case StateConfirming:
	default:
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: confirm in state %s", ErrInvalidTransition, state)
	}

	a, b := s.points[0], s.points[1]
	g := Geometry{Pair: s.pair, Artifact: s.artifact, Profiles: s.profiles}
	job := StartJob(s.ctx, func(ctx context.Context) (*Result, error) {
		return s.calc.Measure(ctx, a, b, g)
	})
	s.job = job
	events := []Event{s.moveLocked(StateComputing)}
	s.mu.Unlock()

	s.dispatch(events)
	go s.await(job)
	return nil
}

// CancelSelection discards the points. In StateComputing the running job is
// cancelled and its result, whenever it arrives, is dropped.
func (s *Session) CancelSelection() error {
	s.mu.Lock()
	if s.state != StateConfirming && s.state != StateComputing {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cancel in state %s", ErrInvalidTransition, state)
	}
	events := s.resetLocked()
	s.mu.Unlock()
	s.dispatch(events)
	return nil
}

// DismissResult leaves StateResult.
func (s *Session) DismissResult() error {
	return s.dismiss(StateResult)
}

// DismissAlert leaves StateAlert.
func (s *Session) DismissAlert() error {
	return s.dismiss(StateAlert)
}

// Fail moves the session to StateAlert with err's message. It is how
// failures outside the session (alignment, matching) reach the user.
func (s *Session) Fail(err error) {
	msg := "measurement failed"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}

	s.mu.Lock()
	s.cancelJobLocked()
	s.points = nil
	s.result = nil
	s.message = msg
	events := []Event{s.moveLocked(StateAlert)}
	s.mu.Unlock()
	s.dispatch(events)
}

func (s *Session) dismiss(from State) error {
	s.mu.Lock()
	if s.state != from {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: dismiss %s in state %s", ErrInvalidTransition, from, state)
	}
	events := s.resetLocked()
	s.mu.Unlock()
	s.dispatch(events)
	return nil
}

// await delivers a job's outcome unless the job has been superseded.
func (s *Session) await(job *Job) {
	<-job.Done()

	s.mu.Lock()
	if s.job != job {
		s.mu.Unlock()
		log.Printf("Session: %s: dropping result of cancelled job %d", s.id, job.ID())
		return
	}
	s.job = nil

	var events []Event
	if job.err != nil {
		s.message = job.err.Error()
		events = append(events, s.moveLocked(StateAlert))
	} else {
		s.result = job.result
		events = append(events, s.moveLocked(StateResult))
	}
	s.mu.Unlock()

	if job.err != nil {
		log.Printf("Session: %s: measurement failed: %v", s.id, job.err)
	}
	s.dispatch(events)
}

// resetLocked cancels any job and returns to StateZero.
func (s *Session) resetLocked() []Event {
	s.cancelJobLocked()
	s.points = nil
	s.result = nil
	s.message = ""
	if s.state == StateZero {
		return nil
	}
	return []Event{s.moveLocked(StateZero)}
}

func (s *Session) cancelJobLocked() {
	if s.job != nil {
		s.job.Cancel()
		s.job = nil
	}
}

// moveLocked switches state and builds the event describing the switch.
func (s *Session) moveLocked(to State) Event {
	e := Event{
		From:    s.state,
		To:      to,
		Points:  append([]geometry.Point2D(nil), s.points...),
		Message: s.message,
	}
	if to == StateResult {
		e.Result = s.result
	}
	s.state = to
	return e
}

func (s *Session) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}
	s.mu.Lock()
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, e := range events {
		for _, l := range listeners {
			l(e)
		}
	}
}
