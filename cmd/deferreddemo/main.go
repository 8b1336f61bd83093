// Command deferreddemo renders a fixed number of frames with the deferred
// renderer and saves the last back buffer as a BMP file.
//
// Usage:
//
//	deferreddemo [-config file.toml] [-frames 120] [-backend soft] [-output frame.bmp]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"golang.org/x/image/bmp"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/deferred"
	"github.com/gogpu/deferred/config"
	"github.com/gogpu/deferred/frame"
)

func main() {
	cfgPath := flag.String("config", "", "TOML configuration file")
	frames := flag.Int("frames", 120, "number of frames to render")
	backendName := flag.String("backend", "", "backend override (hal, soft)")
	output := flag.String("output", "frame.bmp", "output BMP file, empty to skip")
	budget := flag.Duration("budget", 0, "stop after this much wall time, 0 for no limit")
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Load(*cfgPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *backendName != "" {
		cfg.Backend = *backendName
	}

	level, err := cfg.Level()
	if err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	deferred.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *budget)
		defer cancel()
	}

	if err := run(ctx, cfg, *frames, *output); err != nil {
		log.Fatalf("deferreddemo: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config, frames int, output string) error {
	r, err := deferred.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			log.Printf("Close: %v", err)
		}
	}()

	fmt.Printf("Backend %s, %dx%d, %d queued frames\n",
		r.Backend(), cfg.Width, cfg.Height, cfg.QueuedFrames)

	start := time.Now()
	for i := 0; i < frames; i++ {
		if err := r.Frame(ctx); err != nil {
			if ctx.Err() != nil {
				fmt.Printf("Stopped after %d frames: %v\n", i, ctx.Err())
				break
			}
			return err
		}
	}
	printStats(r.Stats(), time.Since(start))

	if output == "" {
		return nil
	}
	// Capture uses a fresh context so an expired budget still saves the image.
	img, err := r.Capture(context.Background())
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	f, err := os.Create(output)
	if err != nil {
		return err
	}
	if err := bmp.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", output, err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("Saved %s\n", output)
	return nil
}

func printStats(s frame.Stats, wall time.Duration) {
	p := message.NewPrinter(language.English)
	p.Printf("Frames:        %d in %v\n", s.Frames, wall.Round(time.Millisecond))
	p.Printf("Average frame: %v (last %v)\n", s.AverageFrame(), s.LastFrame)
	p.Printf("Fence wait:    %v\n", s.FenceWait)
	p.Printf("Barrier wait:  %v\n", s.BarrierWait)
	p.Printf("Lists:         %d recorded, %d brackets, %d barriers\n", s.Lists, s.Brackets, s.Barriers)
	p.Printf("Submitted:     %d lists in %d batches\n", s.Submitted, s.Batches)
	p.Printf("Released:      %d resources\n", s.Released)
}
