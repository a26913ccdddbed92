// Package brightness computes the mean-luma dark score used by the
// day/night controller, per spec.md §4.4.
package brightness

import "github.com/warpcomdev/camerad/internal/frame"

// Score returns the arithmetic mean of all RGB channel values in img,
// in [0, 255]. An empty image scores 0.
func Score(img *frame.Image) float64 {
	if img == nil || len(img.Pix) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range img.Pix {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(img.Pix))
}
