package brightness

import (
	"testing"

	"github.com/warpcomdev/camerad/internal/frame"
)

func TestScoreBlack(t *testing.T) {
	img := frame.NewImage(4, 4)
	if got := Score(img); got != 0 {
		t.Fatalf("Score(black) = %v, want 0", got)
	}
}

func TestScoreWhite(t *testing.T) {
	img := frame.NewImage(4, 4)
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	if got := Score(img); got != 255 {
		t.Fatalf("Score(white) = %v, want 255", got)
	}
}

func TestScoreMixed(t *testing.T) {
	img := &frame.Image{Width: 1, Height: 1, Pix: []byte{0, 100, 200}}
	got := Score(img)
	want := (0.0 + 100.0 + 200.0) / 3.0
	if got != want {
		t.Fatalf("Score = %v, want %v", got, want)
	}
}

func TestScoreEmpty(t *testing.T) {
	if got := Score(nil); got != 0 {
		t.Fatalf("Score(nil) = %v, want 0", got)
	}
}
