package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/cadence/config"
	"github.com/zsiec/cadence/container"
	"github.com/zsiec/cadence/media"
	"github.com/zsiec/cadence/playback"
	"github.com/zsiec/cadence/store"
)

var version = "dev"

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <file.ivf>\n", os.Args[0])
		os.Exit(2)
	}
	source := os.Args[1]

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, source); err != nil {
		slog.Error("playback error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, source string) error {
	var positions *store.Store
	if cfg.SavePositions {
		s, err := store.Open(cfg.ResumeDB)
		if err != nil {
			// Resume persistence is best-effort; play without it.
			slog.Warn("resume store unavailable", "path", cfg.ResumeDB, "error", err)
		} else {
			positions = s
			defer positions.Close()
		}
	}

	demuxer, err := container.Open(source)
	if err != nil {
		return err
	}
	tracks := demuxer.Tracks()
	if len(tracks) == 0 {
		demuxer.Close()
		return container.ErrNoVideoTrack
	}
	track := tracks[0]
	slog.Info("opened container",
		"codec", track.Codec,
		"resolution", fmt.Sprintf("%dx%d", track.Width, track.Height),
	)

	mgr, err := playback.New(demuxer, newStubDecoder(track),
		playback.OptQueueCapacity(cfg.QueueCapacity),
		playback.OptPresentInterval(cfg.PresentInterval),
		playback.OptLowWaterMark(cfg.LowWaterMark),
		playback.OptDropThreshold(cfg.DropThreshold),
	)
	if err != nil {
		demuxer.Close()
		return err
	}
	defer mgr.Close()

	slog.Info("cadence starting",
		"version", version,
		"source", source,
		"duration", mgr.Duration(),
	)

	seekMode := playback.SeekAccurate
	if cfg.FastSeek {
		seekMode = playback.SeekFast
	}

	// Resume before seeking so the seek restores Playing when it lands.
	mgr.Resume()
	if positions != nil {
		if pos, ok, err := positions.Position(source); err != nil {
			slog.Warn("failed to read saved position", "error", err)
		} else if ok && pos > 0 && pos < mgr.Duration() {
			slog.Info("resuming from saved position", "position", pos)
			mgr.SeekTo(pos, seekMode)
		}
	}

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer stop()
		return watchEvents(ctx, mgr)
	})

	if positions != nil {
		g.Go(func() error {
			ticker := time.NewTicker(5 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := positions.SavePosition(source, mgr.CurrentTime()); err != nil {
						slog.Warn("failed to save position", "error", err)
					}
				case <-ctx.Done():
					return positions.SavePosition(source, mgr.CurrentTime())
				}
			}
		})
	}

	err = g.Wait()
	if err == nil && positions != nil && mgr.State() == playback.StatePaused {
		// Reached the end: clear the saved position so the next run starts
		// from the top.
		if ferr := positions.Forget(source); ferr != nil {
			slog.Warn("failed to clear saved position", "error", ferr)
		}
	}
	return err
}

// watchEvents logs the playback event stream until the context is cancelled
// or the stream reaches a terminal state.
func watchEvents(ctx context.Context, mgr *playback.Manager) error {
	presented := 0
	for {
		select {
		case ev, ok := <-mgr.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case playback.EventStateChange:
				slog.Info("state change", "state", ev.State)
				// Nothing here ever pauses, so Paused only happens when the
				// stream runs out.
				if ev.State == playback.StatePaused {
					slog.Info("end of stream",
						"position", mgr.CurrentTime(),
						"presented", presented,
						"skipped", mgr.SkippedFrameCount(),
					)
					return nil
				}
			case playback.EventFramePresent:
				presented++
				slog.Debug("frame presented", "timestamp", ev.Timestamp)
			case playback.EventDecoderError:
				slog.Warn("decoder error", "error", ev.Err)
			case playback.EventFatalError:
				return ev.Err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// stubDecoder stands in for a real VP8/VP9 decoder: it emits a solid gray
// frame per sample at the track's declared dimensions, which is enough to
// drive the timing, seek, and drop paths end to end. Wire a cgo libvpx
// binding here for real output.
type stubDecoder struct {
	width, height int
}

func newStubDecoder(track media.Track) *stubDecoder {
	return &stubDecoder{width: track.Width, height: track.Height}
}

func (d *stubDecoder) DecodeSample(*media.Sample) (image.Image, error) {
	img := image.NewRGBA(image.Rect(0, 0, d.width, d.height))
	gray := color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = gray.R
		img.Pix[i+1] = gray.G
		img.Pix[i+2] = gray.B
		img.Pix[i+3] = gray.A
	}
	return img, nil
}

func (d *stubDecoder) Flush() {}
