// Command aligntest runs the scale alignment on a short+long focal image pair
// and prints the crop it chose.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"lens-measure/internal/alignment"
	"lens-measure/internal/app"
	"lens-measure/internal/capture"
	"lens-measure/internal/config"
	"lens-measure/internal/disparity"
	limage "lens-measure/internal/image"
	"lens-measure/internal/lens"

	"github.com/google/uuid"
	"github.com/maruel/interrupt"
)

func main() {
	configPath := flag.String("config", config.DefaultPath(), "Calibration file")
	modeName := flag.String("mode", lens.TeleWide.String(), "Capture mode")
	shortPath := flag.String("s", "", "Path to short focal image")
	longPath := flag.String("l", "", "Path to long focal image")
	shortFocal := flag.Float64("sf", 0, "Override short focal length (35mm)")
	longFocal := flag.Float64("lf", 0, "Override long focal length (35mm)")
	skipUndistort := flag.Bool("raw", false, "Skip undistortion")
	preview := flag.String("preview", "", "Write a blended preview PNG")
	blendName := flag.String("blend", "difference", "Preview blend mode (normal, difference, screen)")
	opacity := flag.Float64("opacity", 0.5, "Preview opacity")
	doMatch := flag.Bool("match", false, "Run feature matching on the aligned pair")
	matches := flag.String("matches", "", "Write the match visualization PNG")
	flag.Parse()

	if *shortPath == "" || *longPath == "" {
		fmt.Println("Usage: aligntest -s <short> -l <long> [-mode tele_wide] [-preview out.png] [-match]")
		os.Exit(1)
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt.Channel
		cancel()
	}()

	mode, err := lens.ParseMode(*modeName)
	exitOn(err)
	blend, err := limage.ParseBlendMode(*blendName)
	exitOn(err)
	cfg, err := config.Load(*configPath)
	exitOn(err)
	store, err := cfg.Store()
	exitOn(err)

	a, b := mode.Lenses()
	shortLens, longLens := mode.Wider(), a
	if a == shortLens {
		longLens = b
	}

	fmt.Printf("=== Loading %s: %s ===\n", shortLens, *shortPath)
	shortFrame := load(*shortPath, shortLens, *shortFocal)
	fmt.Printf("=== Loading %s: %s ===\n", longLens, *longPath)
	longFrame := load(*longPath, longLens, *longFocal)

	opts := app.AlignOptions(cfg)
	opts.SkipUndistort = *skipUndistort
	pair := capture.Pair{ID: uuid.NewString(), Mode: mode, First: shortFrame, Second: longFrame}

	fmt.Printf("\n=== Aligning ===\n")
	fp, err := alignment.NewAligner(opts).Align(ctx, pair, store)
	exitOn(err)

	fmt.Printf("Short: %s %.0fmm  Long: %s %.0fmm\n", fp.ShortLens, fp.ShortFocal, fp.LongLens, fp.LongFocal)
	fmt.Printf("Scale factor: %.4f\n", fp.ScaleFactor)
	fmt.Printf("Crop: %dx%d at (%d, %d)\n", fp.CropRect.Width, fp.CropRect.Height, fp.CropRect.X, fp.CropRect.Y)
	fmt.Printf("Reference: %.0fx%.0f (scale %.3f of %.0fx%.0f)\n",
		fp.Size().Width, fp.Size().Height, fp.ReferenceScale, fp.LongSize.Width, fp.LongSize.Height)

	if *preview != "" {
		exitOn(limage.SavePNG(*preview, limage.Preview(fp.Reference, fp.Aligned, blend, *opacity)))
		fmt.Printf("Wrote %s (%s)\n", *preview, blend)
	}

	if !*doMatch && *matches == "" {
		return
	}

	fmt.Printf("\n=== Matching ===\n")
	art, err := disparity.NewORBMatcher(disparity.DefaultOptions()).Match(ctx, fp)
	exitOn(err)
	d, _ := art.MedianDisparity()
	fmt.Printf("Matches: %d of %d candidates\n", len(art.Matches), art.Candidates)
	fmt.Printf("Median disparity: %.2f px\n", d)
	if *matches != "" && art.Image != nil {
		exitOn(limage.SavePNG(*matches, art.Image))
		fmt.Printf("Wrote %s\n", *matches)
	}
}

func load(path string, id lens.Identity, focal float64) capture.Frame {
	src, err := limage.Load(path)
	exitOn(err)
	if focal > 0 {
		src.FocalLength35mm = focal
	}
	fmt.Printf("%dx%d, focal %.0fmm\n", src.Width(), src.Height(), src.FocalLength35mm)
	return capture.Frame{Lens: id, Image: src.Image, FocalLength35mm: src.FocalLength35mm, CapturedAt: src.CapturedAt}
}

func exitOn(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
