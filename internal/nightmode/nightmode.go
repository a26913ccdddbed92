// Package nightmode implements the hysteretic day/night controller of
// spec.md §4.5, grounded line-for-line on
// original_source/pi_cam_service_py311/night_mode.py.
package nightmode

import (
	"go.uber.org/atomic"

	"github.com/warpcomdev/camerad/internal/servicelog"
)

// Event is the outcome of a single Update call.
type Event int

const (
	None Event = iota
	Enter
	Exit
)

func (e Event) String() string {
	switch e {
	case Enter:
		return "ENTER"
	case Exit:
		return "EXIT"
	default:
		return ""
	}
}

// Params are the hysteresis thresholds: entering night requires
// MinDarkFrames consecutive frames below DarkThreshold; exiting
// requires a single frame above BrightThreshold.
type Params struct {
	DarkThreshold   float64
	BrightThreshold float64
	MinDarkFrames   int
}

// Controller tracks the day/night state across successive brightness
// scores.
type Controller struct {
	params    Params
	active    atomic.Bool
	darkCount atomic.Int64
	logger    servicelog.Logger
}

// New builds a Controller with the given thresholds.
func New(params Params, logger servicelog.Logger) *Controller {
	if logger == nil {
		logger = servicelog.NewNop()
	}
	return &Controller{params: params, logger: logger}
}

// Active reports whether night mode is currently active.
func (c *Controller) Active() bool {
	return c.active.Load()
}

// DarkCount reports the current streak of consecutive dark frames.
func (c *Controller) DarkCount() int {
	return int(c.darkCount.Load())
}

// Params returns the controller's current thresholds.
func (c *Controller) Params() Params {
	return c.params
}

// SetParams updates the thresholds live (via the control protocol's
// `set` command); it does not reset dark_count or active.
func (c *Controller) SetParams(params Params) {
	c.params = params
}

// Update feeds a new brightness score and returns the resulting event,
// if any.
func (c *Controller) Update(score float64) Event {
	if score < c.params.DarkThreshold {
		c.darkCount.Add(1)
	} else {
		c.darkCount.Store(0)
	}

	if !c.active.Load() && c.darkCount.Load() >= int64(c.params.MinDarkFrames) {
		c.active.Store(true)
		c.logger.Info("night mode transition", servicelog.String("transition", Enter.String()), servicelog.Float("score", score))
		return Enter
	}
	if c.active.Load() && score > c.params.BrightThreshold {
		c.active.Store(false)
		c.logger.Info("night mode transition", servicelog.String("transition", Exit.String()), servicelog.Float("score", score))
		return Exit
	}
	return None
}
