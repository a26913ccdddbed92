// Package camera models the opaque camera adapter of spec.md §4.3: a
// source of RGB frames under a video or still configuration. The real
// sensor driver is out of scope (spec.md §1); SimulatedAdapter
// generates synthetic frames so the rest of the service can be
// exercised and tested end to end. Its start/stop/reconfigure
// lifecycle is grounded on google-periph's device Halt()-then-restart
// idiom and on the teacher's fakesource/dirsource resumable-source
// pattern.
package camera

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/warpcomdev/camerad/internal/frame"
)

// Mode is the camera's current configuration kind.
type Mode int

const (
	Unset Mode = iota
	Video
	Still
)

func (m Mode) String() string {
	switch m {
	case Video:
		return "video"
	case Still:
		return "still"
	default:
		return "unset"
	}
}

// ModeInfo describes the adapter's current configuration, returned by
// DescribeMode for before/after mode-change diff logging.
type ModeInfo struct {
	Mode       Mode
	Width      int
	Height     int
	Framerate  int
	ExposureUs int
	Gain       float64
}

// StillSettings are the fixed exposure/gain parameters for night mode.
type StillSettings struct {
	ExposureUs int
	Gain       float64
}

// Adapter is the opaque camera source. Only the capture pipeline
// invokes it; it is single-owner and not safe for concurrent use
// across goroutines beyond the pipeline's own.
type Adapter interface {
	StartVideo() error
	StartStill(settings StillSettings) error
	CaptureArray(ctx context.Context) (*frame.Image, error)
	CaptureFullRes(ctx context.Context) (*frame.Image, error)
	UpdateSettings(still StillSettings) error
	DescribeMode() ModeInfo
}

// SimulatedAdapter is the in-repo stand-in for the real sensor driver.
// Every frame it produces is a single uniform value: bright, drifting
// slowly from frame to frame, in video mode, and dim in still mode,
// deterministic enough for
// tests to reason about brightness scores.
type SimulatedAdapter struct {
	mutex  sync.Mutex
	mode   Mode
	width  int
	height int
	fps    int
	still  StillSettings
	frame  uint64
}

// NewSimulated builds a SimulatedAdapter for the given full-resolution
// geometry and target framerate.
func NewSimulated(width, height, framerate int) *SimulatedAdapter {
	return &SimulatedAdapter{width: width, height: height, fps: framerate}
}

// StartVideo stops whatever mode is active and reconfigures for
// video: auto exposure/gain, the configured framerate. Idempotent if
// already in video mode.
func (a *SimulatedAdapter) StartVideo() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.mode = Video
	return nil
}

// StartStill stops whatever mode is active and reconfigures for
// still: fixed exposure and gain. Idempotent if already in still mode
// with the same settings (still re-applies the settings, matching
// spec.md §9's "update_settings must re-read the live configuration").
func (a *SimulatedAdapter) StartStill(settings StillSettings) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.mode = Still
	a.still = settings
	return nil
}

// UpdateSettings re-applies live still-mode controls if currently in
// still mode; a no-op in video mode (video exposure/gain are always
// auto).
func (a *SimulatedAdapter) UpdateSettings(still StillSettings) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if a.mode == Still {
		a.still = still
	}
	return nil
}

// DescribeMode reports the adapter's current configuration.
func (a *SimulatedAdapter) DescribeMode() ModeInfo {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return ModeInfo{
		Mode:       a.mode,
		Width:      a.width,
		Height:     a.height,
		Framerate:  a.fps,
		ExposureUs: a.still.ExposureUs,
		Gain:       a.still.Gain,
	}
}

// CaptureArray returns a frame at the adapter's full geometry (the
// spec distinguishes a possibly-downscaled "array" capture from
// CaptureFullRes; the simulated adapter has one native resolution, so
// both paths synthesize at the same size and downscaling, if
// configured, happens at the ring-write boundary in internal/capture).
func (a *SimulatedAdapter) CaptureArray(ctx context.Context) (*frame.Image, error) {
	return a.synthesize(ctx)
}

// CaptureFullRes returns a frame that is never downscaled.
func (a *SimulatedAdapter) CaptureFullRes(ctx context.Context) (*frame.Image, error) {
	return a.synthesize(ctx)
}

func (a *SimulatedAdapter) synthesize(ctx context.Context) (*frame.Image, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("camera: capture cancelled: %w", ctx.Err())
	default:
	}

	a.mutex.Lock()
	mode := a.mode
	width, height := a.width, a.height
	n := a.frame
	a.frame++
	a.mutex.Unlock()

	img := frame.NewImage(width, height)
	var base byte
	if mode == Still {
		// Dim frame: low mean value, as expected from a long-exposure
		// night capture of a dark scene.
		base = byte(10 + (n % 10))
	} else {
		// Bright level that varies slowly from frame to frame, for
		// daylight video.
		base = byte(150 + int(40*math.Sin(float64(n)/10)))
	}
	for i := range img.Pix {
		img.Pix[i] = base
	}
	return img, nil
}

// SimulateCaptureDelay blocks for the given duration before returning,
// for tests that exercise the capture pipeline's slow-capture
// timeout warning path.
func SimulateCaptureDelay(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
