package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/warpcomdev/camerad/internal/frame"
)

var (
	dayColor   = color.RGBA{R: 255, G: 210, B: 60, A: 255}
	nightColor = color.RGBA{R: 80, G: 140, B: 255, A: 255}
	textColor  = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	discRadius = 10
)

// Annotator draws the HUD described in spec.md §4.10 onto a copy of
// each incoming frame: top-left frame id/timestamp, top-right
// day/night disc with label, brightness text below it, bottom-left
// watermark. Color depends on the night flag.
type Annotator struct {
	Watermark string
}

// NewAnnotator builds an Annotator stamping watermark in the
// bottom-left corner of every frame.
func NewAnnotator(watermark string) *Annotator {
	if watermark == "" {
		watermark = "camerad"
	}
	return &Annotator{Watermark: watermark}
}

// Annotate returns a new image with the HUD drawn onto a copy of
// rec.Image; the input record is left untouched.
func (a *Annotator) Annotate(rec *frame.Record) *frame.Image {
	out := rec.Image.Clone()
	rgba := toRGBA(out)

	col := dayColor
	label := "DAY"
	if rec.NightMode {
		col = nightColor
		label = "NIGHT"
	}

	drawText(rgba, 4, 12, fmt.Sprintf("#%d", rec.FrameID), textColor)
	drawText(rgba, 4, 26, fmt.Sprintf("%.3f", rec.Timestamp), textColor)

	cx := rgba.Bounds().Dx() - discRadius - 6
	cy := discRadius + 6
	drawDisc(rgba, cx, cy, discRadius, col)
	drawText(rgba, cx-3*len(label)-discRadius, cy+discRadius+14, label, col)
	drawText(rgba, cx-discRadius-20, cy+discRadius+28, fmt.Sprintf("B=%.1f", rec.DarkScore), textColor)

	drawText(rgba, 4, rgba.Bounds().Dy()-6, a.Watermark, textColor)

	copyRGBAToImage(rgba, out)
	return out
}

func toRGBA(img *frame.Image) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := (y*img.Width + x) * 3
			out.Set(x, y, color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: 255})
		}
	}
	return out
}

func copyRGBAToImage(rgba *image.RGBA, out *frame.Image) {
	for y := 0; y < out.Height; y++ {
		for x := 0; x < out.Width; x++ {
			r, g, b, _ := rgba.At(x, y).RGBA()
			i := (y*out.Width + x) * 3
			out.Pix[i] = byte(r >> 8)
			out.Pix[i+1] = byte(g >> 8)
			out.Pix[i+2] = byte(b >> 8)
		}
	}
}

func drawText(dst draw.Image, x, y int, s string, col color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(s)
}

func drawDisc(dst draw.Image, cx, cy, radius int, col color.Color) {
	r2 := float64(radius * radius)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if float64(dx*dx+dy*dy) <= r2 {
				dst.Set(cx+dx, cy+dy, col)
			}
		}
	}
}
