// Command lens-measure measures the distance between two points seen by two
// lenses of a multi-camera phone.
//
// Usage:
//
//	lens-measure -short wide.jpg -long tele.jpg -a 1200,900 -b 1800,950 -out shot
//
// Points are pixel coordinates in the long-focal image.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"lens-measure/internal/alignment"
	"lens-measure/internal/app"
	"lens-measure/internal/capture"
	"lens-measure/internal/config"
	"lens-measure/internal/disparity"
	limage "lens-measure/internal/image"
	"lens-measure/internal/lens"
	"lens-measure/internal/measure"
	"lens-measure/internal/report"
	"lens-measure/internal/version"
	"lens-measure/pkg/geometry"

	"github.com/maruel/interrupt"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	configPath := flag.String("config", config.DefaultPath(), "Calibration file")
	modeName := flag.String("mode", lens.TeleWide.String(), "Capture mode (tele_wide or wide_ultra_wide)")
	shortPath := flag.String("short", "", "Path to the shorter focal length image")
	longPath := flag.String("long", "", "Path to the longer focal length image")
	shortFocal := flag.Float64("short-focal", 0, "Override the short image's 35mm focal length")
	longFocal := flag.Float64("long-focal", 0, "Override the long image's 35mm focal length")
	pointA := flag.String("a", "", "First point as x,y in long-image pixels")
	pointB := flag.String("b", "", "Second point as x,y in long-image pixels")
	out := flag.String("out", "", "Output prefix for overlay, match image and report")
	noMatch := flag.Bool("no-match", false, "Skip feature matching and use block matching only")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	if *shortPath == "" || *longPath == "" || *pointA == "" || *pointB == "" {
		fmt.Println("Usage: lens-measure -short <image> -long <image> -a x,y -b x,y [-mode tele_wide] [-out prefix]")
		os.Exit(1)
	}

	mode, err := lens.ParseMode(*modeName)
	if err != nil {
		fatalf("%v", err)
	}
	a, err := parsePoint(*pointA)
	if err != nil {
		fatalf("-a: %v", err)
	}
	b, err := parsePoint(*pointB)
	if err != nil {
		fatalf("-b: %v", err)
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt.Channel
		cancel()
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalf("%v", err)
	}

	shortLens, longLens := mode.Lenses()
	if shortLens != mode.Wider() {
		shortLens, longLens = longLens, shortLens
	}
	shortFrame, err := loadFrame(*shortPath, shortLens, *shortFocal)
	if err != nil {
		fatalf("%v", err)
	}
	longFrame, err := loadFrame(*longPath, longLens, *longFocal)
	if err != nil {
		fatalf("%v", err)
	}

	var engine disparity.Engine = disparity.NewORBMatcher(disparity.DefaultOptions())
	if *noMatch {
		engine = disparity.EngineFunc(func(context.Context, *alignment.FramePair) (*disparity.Artifact, error) {
			return nil, fmt.Errorf("%w: matching disabled", disparity.ErrUnavailable)
		})
	}

	p, err := app.New(ctx, cfg, engine)
	if err != nil {
		fatalf("%v", err)
	}
	defer p.Close()

	failures := make(chan error, 2)
	fail := func(data interface{}) {
		select {
		case failures <- data.(error):
		default:
		}
	}
	p.On(app.EventCaptureError, fail)
	p.On(app.EventAlignError, fail)
	p.On(app.EventAligned, func(data interface{}) {
		fp := data.(*alignment.FramePair)
		fmt.Printf("Aligned %s/%s: scale %.3f, crop %dx%d at (%d,%d), reference %.0fx%.0f\n",
			fp.ShortLens, fp.LongLens, fp.ScaleFactor, fp.CropRect.Width, fp.CropRect.Height,
			fp.CropRect.X, fp.CropRect.Y, fp.Size().Width, fp.Size().Height)
	})
	p.On(app.EventDisparityUnavailable, func(data interface{}) {
		fmt.Printf("Feature matching unavailable (%v), falling back to block matching\n", data)
	})

	if _, err := p.BeginCapture(mode); err != nil {
		fatalf("%v", err)
	}
	for _, f := range []capture.Frame{shortFrame, longFrame} {
		if err := p.OnFrameCaptured(f); err != nil {
			fatalf("%v", err)
		}
	}
	p.Wait()
	select {
	case err := <-failures:
		fatalf("%v", err)
	default:
	}
	fp := p.Pair()
	if fp == nil {
		fatalf("alignment interrupted")
	}

	result, err := measurePoints(ctx, p, fp, a, b)
	if err != nil {
		fatalf("%v", err)
	}
	fmt.Printf("Distance: %.3f m (%s, disparity %.2f/%.2f px, depth %.3f/%.3f m)\n",
		result.DistanceMeters, result.Method, result.DisparityA, result.DisparityB,
		result.WorldA.Z, result.WorldB.Z)

	if *out != "" {
		if err := writeOutputs(*out, *shortPath, *longPath, fp, p.Artifact(), result); err != nil {
			fatalf("%v", err)
		}
	}
}

// measurePoints drives the session with the two points (long-image pixels)
// and waits for its result.
func measurePoints(ctx context.Context, p *app.Pipeline, fp *alignment.FramePair, a, b geometry.Point2D) (*measure.Result, error) {
	toRef, ok := fp.ReferenceToLong().Inverse()
	if !ok {
		return nil, errors.New("degenerate reference scale")
	}

	s := p.Session()
	if s.State() == measure.StateAlert {
		if err := s.DismissAlert(); err != nil {
			return nil, err
		}
	}

	done := make(chan measure.Event, 1)
	p.On(app.EventSessionChanged, func(data interface{}) {
		if e := data.(measure.Event); e.To == measure.StateResult || e.To == measure.StateAlert {
			select {
			case done <- e:
			default:
			}
		}
	})

	for _, pt := range []geometry.Point2D{a, b} {
		if err := s.TapPoint(toRef.Apply(pt)); err != nil {
			return nil, err
		}
	}
	if err := s.ConfirmSelection(); err != nil {
		return nil, err
	}

	select {
	case e := <-done:
		if e.To == measure.StateAlert {
			return nil, errors.New(e.Message)
		}
		return e.Result, nil
	case <-ctx.Done():
		_ = s.CancelSelection()
		return nil, measure.ErrCancelled
	}
}

func loadFrame(path string, id lens.Identity, focal float64) (capture.Frame, error) {
	src, err := limage.Load(path)
	if err != nil {
		return capture.Frame{}, fmt.Errorf("%s: %w", path, err)
	}
	if src.LensKnown && src.Lens != id {
		log.Printf("Frame: %s looks like a %s image, treating it as %s", path, src.Lens, id)
	}
	if focal > 0 {
		src.FocalLength35mm = focal
	}
	return capture.Frame{
		Lens:            id,
		Image:           src.Image,
		FocalLength35mm: src.FocalLength35mm,
		CapturedAt:      src.CapturedAt,
	}, nil
}

func writeOutputs(prefix, shortPath, longPath string, fp *alignment.FramePair, art *disparity.Artifact, result *measure.Result) error {
	reportPath := report.DefaultPath(prefix)
	rep := report.New(fp, art)
	rep.SetResult(fp, result)
	rep.SetImages(reportPath, shortPath, longPath)

	label := fmt.Sprintf("%.3f m", result.DistanceMeters)
	overlayPath := prefix + ".png"
	if err := limage.SavePNG(overlayPath, limage.DrawMeasurement(fp.Reference, result.PointA, result.PointB, label)); err != nil {
		return err
	}
	rep.SetOverlay(reportPath, overlayPath)

	if art != nil && art.Image != nil {
		matchPath := prefix + "_matches.png"
		if err := limage.SavePNG(matchPath, art.Image); err != nil {
			return err
		}
		rep.SetArtifact(reportPath, matchPath)
	}

	if err := rep.Save(reportPath); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", reportPath)
	return nil
}

func parsePoint(s string) (geometry.Point2D, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return geometry.Point2D{}, fmt.Errorf("expected x,y, got %q", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return geometry.Point2D{}, err
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return geometry.Point2D{}, err
	}
	return geometry.NewPoint2D(x, y), nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
