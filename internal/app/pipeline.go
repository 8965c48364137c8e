// Package app wires capture, alignment, matching and measurement into one
// event-driven pipeline.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"lens-measure/internal/alignment"
	"lens-measure/internal/capture"
	"lens-measure/internal/config"
	"lens-measure/internal/disparity"
	"lens-measure/internal/lens"
	"lens-measure/internal/measure"
)

// EventType identifies different pipeline events.
type EventType int

const (
	EventPairReady            EventType = iota // capture.Pair
	EventCaptureError                          // error
	EventAligned                               // *alignment.FramePair
	EventAlignError                            // error
	EventDisparity                             // *disparity.Artifact
	EventDisparityUnavailable                  // error
	EventSessionChanged                        // measure.Event
	EventCalibrationReloaded                   // *config.Config
)

// EventListener is called when an event occurs.
type EventListener func(data interface{})

// Pipeline owns one measurement cycle at a time: a capture pair is aligned,
// matched and handed to the measurement session. A new pair replaces the
// previous one and cancels its processing.
type Pipeline struct {
	ctx         context.Context
	coordinator *capture.Coordinator
	engine      disparity.Engine
	session     *measure.Session

	mu       sync.RWMutex
	cfg      *config.Config
	profiles *lens.Store
	aligner  *alignment.Aligner
	pair     *alignment.FramePair
	artifact *disparity.Artifact
	cancel   context.CancelFunc
	seq      uint64

	listeners map[EventType][]EventListener
	wg        sync.WaitGroup
}

// New creates a pipeline from a calibration configuration. ctx bounds all
// background work.
func New(ctx context.Context, cfg *config.Config, engine disparity.Engine) (*Pipeline, error) {
	profiles, err := cfg.Store()
	if err != nil {
		return nil, fmt.Errorf("failed to load calibration: %w", err)
	}

	p := &Pipeline{
		ctx:       ctx,
		engine:    engine,
		cfg:       cfg,
		profiles:  profiles,
		aligner:   alignment.NewAligner(AlignOptions(cfg)),
		listeners: make(map[EventType][]EventListener),
	}
	p.coordinator = capture.NewCoordinator(cfg.CaptureWindow(), capture.ListenerFuncs{
		OnPair:  p.pairReady,
		OnError: p.captureError,
	})
	p.session = measure.NewSession(ctx, measure.NewCalculator(cfg.ComputeBudget()), profiles)
	p.session.OnChange(func(e measure.Event) { p.Emit(EventSessionChanged, e) })
	return p, nil
}

// AlignOptions derives alignment options from a configuration.
func AlignOptions(cfg *config.Config) alignment.Options {
	opts := alignment.DefaultOptions()
	opts.ReferenceScale = cfg.Reference()
	opts.Crops = make(map[lens.Mode]alignment.Crop)
	for _, m := range []lens.Mode{lens.TeleWide, lens.WideUltraWide} {
		s := cfg.Mode(m)
		opts.Crops[m] = alignment.Crop{Offset: s.CropOffset, FOVCorrection: s.FOVCorrection}
	}
	return opts
}

// On registers a listener for an event type.
func (p *Pipeline) On(event EventType, listener EventListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[event] = append(p.listeners[event], listener)
}

// Emit triggers all listeners for the specified event type.
func (p *Pipeline) Emit(event EventType, data interface{}) {
	p.mu.RLock()
	listeners := p.listeners[event]
	p.mu.RUnlock()

	for _, listener := range listeners {
		listener(data)
	}
}

// Session returns the measurement session.
func (p *Pipeline) Session() *measure.Session {
	return p.session
}

// Pair returns the live aligned pair, if any.
func (p *Pipeline) Pair() *alignment.FramePair {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.pair
}

// Artifact returns the live disparity artifact, if any.
func (p *Pipeline) Artifact() *disparity.Artifact {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.artifact
}

// Profiles returns the calibration in use.
func (p *Pipeline) Profiles() *lens.Store {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.profiles
}

// BeginCapture starts a capture epoch after checking both lenses of mode
// are calibrated.
func (p *Pipeline) BeginCapture(mode lens.Mode) (uint64, error) {
	if !p.Profiles().Supports(mode) {
		return 0, fmt.Errorf("%w: %s needs calibration for both lenses", alignment.ErrUndistortionFailure, mode)
	}
	return p.coordinator.BeginCapture(mode)
}

// OnFrameCaptured delivers a frame from a lens output.
func (p *Pipeline) OnFrameCaptured(f capture.Frame) error {
	return p.coordinator.OnFrameCaptured(f)
}

// Process aligns and matches a pair directly, bypassing the coordinator.
func (p *Pipeline) Process(pair capture.Pair) {
	p.pairReady(pair)
}

// Wait blocks until background processing of the current pair is done.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Close cancels capture and processing and waits for background work.
func (p *Pipeline) Close() {
	p.coordinator.Cancel()
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.session.Reset()
	p.wg.Wait()
}

// SetCalibration swaps in a new configuration for subsequent pairs.
func (p *Pipeline) SetCalibration(cfg *config.Config) error {
	profiles, err := cfg.Store()
	if err != nil {
		return fmt.Errorf("failed to load calibration: %w", err)
	}
	p.mu.Lock()
	p.cfg = cfg
	p.profiles = profiles
	p.aligner = alignment.NewAligner(AlignOptions(cfg))
	p.mu.Unlock()

	p.session.SetProfiles(profiles)
	log.Printf("Pipeline: calibration reloaded (%d lenses)", len(profiles.Lenses()))
	p.Emit(EventCalibrationReloaded, cfg)
	return nil
}

func (p *Pipeline) captureError(epoch uint64, err error) {
	log.Printf("Pipeline: capture epoch %d failed: %v", epoch, err)
	p.Emit(EventCaptureError, err)
}

func (p *Pipeline) pairReady(pair capture.Pair) {
	p.Emit(EventPairReady, pair)

	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	p.cancel = cancel
	p.seq++
	seq := p.seq
	p.pair, p.artifact = nil, nil
	aligner, profiles := p.aligner, p.profiles
	p.mu.Unlock()

	p.session.Reset()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.process(ctx, seq, pair, aligner, profiles)
	}()
}

// current reports whether seq is still the live cycle.
func (p *Pipeline) current(seq uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seq == seq
}

func (p *Pipeline) process(ctx context.Context, seq uint64, pair capture.Pair, aligner *alignment.Aligner, profiles *lens.Store) {
	fp, err := aligner.Align(ctx, pair, profiles)
	if ctx.Err() != nil || !p.current(seq) {
		return
	}
	if err != nil {
		log.Printf("Pipeline: %s: alignment failed: %v", pair.ID, err)
		p.session.Reset()
		p.Emit(EventAlignError, err)
		return
	}

	p.mu.Lock()
	p.pair = fp
	p.mu.Unlock()
	p.Emit(EventAligned, fp)

	artifact, err := p.engine.Match(ctx, fp)
	if ctx.Err() != nil || !p.current(seq) {
		return
	}
	if err != nil {
		if !errors.Is(err, disparity.ErrUnavailable) {
			err = fmt.Errorf("%w: %v", disparity.ErrUnavailable, err)
		}
		log.Printf("Pipeline: %s: %v", pair.ID, err)
		// Points can still be measured by block matching once the alert
		// is dismissed.
		p.session.SetFrames(fp, nil)
		p.session.Fail(err)
		p.Emit(EventDisparityUnavailable, err)
		return
	}

	p.mu.Lock()
	p.artifact = artifact
	p.mu.Unlock()
	p.session.SetFrames(fp, artifact)
	p.Emit(EventDisparity, artifact)
}
