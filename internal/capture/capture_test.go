package capture

import (
	"context"
	"testing"
	"time"

	"github.com/warpcomdev/camerad/internal/camera"
	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/health"
	"github.com/warpcomdev/camerad/internal/nightmode"
	"github.com/warpcomdev/camerad/internal/ring"
)

func newTestPipeline(t *testing.T) (*Pipeline, *camera.SimulatedAdapter) {
	t.Helper()
	cfg := config.Default()
	cfg.Ring.Downscale.Enable = false
	cfg.Night.MinDarkFrames = 3
	cfg.Night.DarkThreshold = 35
	cfg.Night.BrightThreshold = 55

	live := config.NewLive(cfg, t.TempDir()+"/config.json")
	adapter := camera.NewSimulated(8, 8, 10)
	if err := adapter.StartVideo(); err != nil {
		t.Fatal(err)
	}
	night := nightmode.New(nightmode.Params{
		DarkThreshold: cfg.Night.DarkThreshold, BrightThreshold: cfg.Night.BrightThreshold, MinDarkFrames: cfg.Night.MinDarkFrames,
	}, nil)
	// A very high RSS cap keeps the test out of the fatal path
	// regardless of the process's real memory footprint.
	h := health.NewMonitor(nil, 1<<20)
	exp, err := exporter.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	p := New(ring.New(10), adapter, night, h, exp, live, nil)
	return p, adapter
}

func TestScenarioANightEntry(t *testing.T) {
	p, adapter := newTestPipeline(t)

	// Force still-looking (dim) frames by switching the adapter straight
	// to still mode before any capture, so every synthesized frame has
	// a low mean value regardless of the pipeline's own mode logic.
	if err := adapter.StartStill(camera.StillSettings{ExposureUs: 1, Gain: 1}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	var lastEventIter int = -1
	for i := 0; i < 5; i++ {
		p.RunOnce(ctx)
		if p.Night.Active() && lastEventIter == -1 {
			lastEventIter = i
		}
	}
	if lastEventIter == -1 {
		t.Fatal("expected night mode to become active within 5 dim frames")
	}
	if got := adapter.DescribeMode().Mode; got != camera.Still {
		t.Fatalf("DescribeMode().Mode = %v, want Still after ENTER", got)
	}
}

func TestRunOnceAppendsToRing(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p.RunOnce(ctx)
	}
	if got := p.Ring.Len(); got != 3 {
		t.Fatalf("Ring.Len() = %d, want 3", got)
	}
}

func TestRunOnceStillModeSleep(t *testing.T) {
	p, adapter := newTestPipeline(t)
	if err := adapter.StartStill(camera.StillSettings{ExposureUs: 1, Gain: 1}); err != nil {
		t.Fatal(err)
	}
	// Drive the controller active.
	for i := 0; i < 4; i++ {
		p.RunOnce(context.Background())
	}
	if !p.Night.Active() {
		t.Fatal("expected night controller active")
	}
	sleep := p.RunOnce(context.Background())
	if sleep != 2*time.Second {
		t.Fatalf("sleep = %v, want 2s in still mode", sleep)
	}
}
