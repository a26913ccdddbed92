// Package capture implements the capture pipeline of spec.md §4.6: the
// single cooperative loop that drives the ring, measures brightness,
// enforces timeouts, monitors health, reacts to day/night transitions,
// and auto-saves on a timer. Orchestration shape is grounded on the
// teacher's jpeg.Pipeline/Session single-owning-goroutine pattern.
package capture

import (
	"context"
	"os"
	"runtime/debug"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warpcomdev/camerad/internal/brightness"
	"github.com/warpcomdev/camerad/internal/camera"
	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/health"
	"github.com/warpcomdev/camerad/internal/nightmode"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

// Exit codes, the documented recovery mechanism of spec.md §5.
const (
	ExitRSSCapBreach      = 42
	ExitCaptureHardFailure = 102
)

var (
	captureLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "capture_latency_seconds",
		Help:    "Latency of a single capture call",
		Buckets: []float64{.01, .05, .1, .2, .5, 1, 2, 4, 8},
	})
	captureTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_timeouts_total",
		Help: "Number of captures that exceeded capture_timeout_s",
	})
	captureFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_failures_total",
		Help: "Number of hard capture failures (fatal)",
	})
	nightTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "night_transitions_total",
		Help: "Number of day/night transitions by kind",
	}, []string{"transition"})
	autoSaveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auto_save_total",
		Help: "Auto-save attempts by outcome",
	}, []string{"outcome"})
)

// Pipeline wires every component the capture loop touches.
type Pipeline struct {
	Ring     *ring.Ring
	Adapter  camera.Adapter
	Night    *nightmode.Controller
	Health   *health.Monitor
	Exporter *exporter.Exporter
	Config   *config.Live
	Logger   servicelog.Logger

	// Terminate is invoked on fatal conditions; defaults to os.Exit.
	// Injectable so tests can observe the fatal path without killing
	// the test process.
	Terminate func(code int)

	frameID        uint64
	lastAutoSave   time.Time
	nowFn          func() time.Time
}

// New builds a Pipeline ready to Run.
func New(r *ring.Ring, adapter camera.Adapter, night *nightmode.Controller, h *health.Monitor, exp *exporter.Exporter, cfg *config.Live, logger servicelog.Logger) *Pipeline {
	if logger == nil {
		logger = servicelog.NewNop()
	}
	return &Pipeline{
		Ring: r, Adapter: adapter, Night: night, Health: h, Exporter: exp, Config: cfg, Logger: logger,
		Terminate: os.Exit,
		nowFn:     time.Now,
	}
}

func (p *Pipeline) now() time.Time {
	if p.nowFn != nil {
		return p.nowFn()
	}
	return time.Now()
}

// downscale returns img resized to the ring geometry with simple
// nearest-neighbor sampling when the configured ring downscale differs
// from the source geometry; otherwise returns img unchanged.
func downscale(img *frame.Image, width, height int) *frame.Image {
	if img.Width == width && img.Height == height {
		return img
	}
	out := frame.NewImage(width, height)
	for y := 0; y < height; y++ {
		srcY := y * img.Height / height
		for x := 0; x < width; x++ {
			srcX := x * img.Width / width
			srcI := (srcY*img.Width + srcX) * 3
			dstI := (y*width + x) * 3
			out.Pix[dstI] = img.Pix[srcI]
			out.Pix[dstI+1] = img.Pix[srcI+1]
			out.Pix[dstI+2] = img.Pix[srcI+2]
		}
	}
	return out
}

// RunOnce executes a single capture iteration of spec.md §4.6 steps
// 1-9. It returns the sleep duration the caller should honor before
// the next iteration (may be zero).
func (p *Pipeline) RunOnce(ctx context.Context) time.Duration {
	cfg := p.Config.Snapshot()
	now := p.now()

	// Step 1-3: health sample and swap throttle.
	sample, err := p.Health.SampleAndLog(now)
	if err == nil {
		decision := health.Throttle(sample.SwapPercent)
		if decision.Skip {
			p.Logger.Error("swap pressure critical, skipping iteration", servicelog.Float("swap_percent", sample.SwapPercent))
			debug.FreeOSMemory()
			return decision.Sleep
		}
		if decision.Sleep > 0 {
			p.Logger.Warn("swap pressure elevated", servicelog.Float("swap_percent", sample.SwapPercent))
			select {
			case <-ctx.Done():
				return 0
			case <-time.After(decision.Sleep):
			}
		}
		// Step 8: hard memory cap.
		if p.Health.ExceedsCap(sample) {
			p.Logger.Error("RSS cap breached, terminating", servicelog.Float("rss_mib", sample.RSSMiB), servicelog.Float("max_rss_mib", p.Health.MaxRSSMiB()))
			p.Terminate(ExitRSSCapBreach)
			return 0
		}
	}

	// Step 4-5: time-bounded capture.
	timeout := time.Duration(cfg.Camera.CaptureTimeoutS) * time.Second
	captureCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := p.now()
	img, err := p.Adapter.CaptureArray(captureCtx)
	elapsed := p.now().Sub(start)
	captureLatency.Observe(elapsed.Seconds())

	if elapsed > timeout {
		captureTimeouts.Inc()
		p.Logger.Warn("slow capture", servicelog.Duration("elapsed", elapsed), servicelog.Duration("timeout", timeout))
	}
	if err != nil {
		captureFailures.Inc()
		p.Logger.Error("capture failed, terminating", servicelog.Error(err))
		p.Terminate(ExitCaptureHardFailure)
		return 0
	}

	ringImg := img
	if cfg.Ring.Downscale.Enable {
		ringImg = downscale(img, cfg.Ring.Downscale.Width, cfg.Ring.Downscale.Height)
	}

	// Step 6: brightness + day/night.
	score := brightness.Score(ringImg)
	event := p.Night.Update(score)

	rec := &frame.Record{
		FrameID:   p.frameID,
		Timestamp: float64(now.UnixNano()) / 1e9,
		DarkScore: score,
		NightMode: p.Night.Active(),
		Image:     ringImg,
	}
	p.frameID++
	p.Ring.Append(rec)

	if event != nightmode.None {
		nightTransitions.WithLabelValues(event.String()).Inc()
		before := p.Adapter.DescribeMode()
		var modeErr error
		if event == nightmode.Enter && cfg.Night.Enable {
			modeErr = p.Adapter.StartStill(camera.StillSettings{ExposureUs: cfg.Night.ExposureUs, Gain: cfg.Night.Gain})
		} else if event == nightmode.Exit {
			modeErr = p.Adapter.StartVideo()
		}
		after := p.Adapter.DescribeMode()
		p.Logger.Info("camera mode changed",
			servicelog.String("transition", event.String()),
			servicelog.String("before", before.Mode.String()),
			servicelog.String("after", after.Mode.String()),
		)
		if modeErr != nil {
			p.Logger.Error("mode change failed", servicelog.Error(modeErr))
		}
	}

	// Step 7: auto-save.
	if cfg.Export.AutoSaveIntervalS > 0 {
		interval := time.Duration(cfg.Export.AutoSaveIntervalS * float64(time.Second))
		if p.lastAutoSave.IsZero() || now.Sub(p.lastAutoSave) >= interval {
			p.lastAutoSave = now
			p.autoSave(captureCtx, cfg, rec)
		}
	}

	// Step 9: still mode throttle.
	if p.Night.Active() {
		return 2 * time.Second
	}
	return 0
}

func (p *Pipeline) autoSave(ctx context.Context, cfg config.Config, latest *frame.Record) {
	var saveRec *frame.Record
	if cfg.Export.AutoSaveUseRing {
		saveRec = latest
	} else {
		fullRes, err := p.Adapter.CaptureFullRes(ctx)
		if err != nil {
			p.Logger.Error("auto-save capture failed", servicelog.Error(err))
			autoSaveTotal.WithLabelValues("error").Inc()
			return
		}
		saveRec = &frame.Record{
			FrameID:   latest.FrameID,
			Timestamp: latest.Timestamp,
			DarkScore: latest.DarkScore,
			NightMode: latest.NightMode,
			Image:     fullRes,
		}
	}
	if _, err := p.Exporter.Save([]*frame.Record{saveRec}, []string{"jpg"}); err != nil {
		p.Logger.Error("auto-save failed", servicelog.Error(err))
		autoSaveTotal.WithLabelValues("error").Inc()
		return
	}
	autoSaveTotal.WithLabelValues("ok").Inc()
}

// Run drives RunOnce in a loop until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		sleep := p.RunOnce(ctx)
		if sleep > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(sleep):
			}
		}
	}
}
