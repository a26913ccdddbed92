// Package exporter persists frame records to disk in the formats
// requested by spec.md §4.7, grounded on
// original_source/pi_cam_service_py311/exporter.py (imwrite per
// format, averaging-then-clip stacking) re-expressed with stdlib
// image codecs, the spec's named out-of-scope "library capability".
package exporter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/warpcomdev/camerad/internal/frame"
)

// DefaultFormats is used when a caller passes no explicit format list.
var DefaultFormats = []string{"jpg"}

// Exporter writes frame records under BaseDir.
type Exporter struct {
	BaseDir string
}

// New builds an Exporter rooted at baseDir, creating it if needed.
func New(baseDir string) (*Exporter, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("exporter: mkdir %s: %w", baseDir, err)
	}
	return &Exporter{BaseDir: baseDir}, nil
}

func basename(rec *frame.Record) string {
	ts := time.Unix(0, int64(rec.Timestamp*float64(time.Second)))
	return fmt.Sprintf("%s_f%d", ts.Format("20060102_150405"), rec.FrameID)
}

func toImageNRGBA(img *frame.Image) *image.NRGBA {
	out := image.NewNRGBA(image.Rect(0, 0, img.Width, img.Height))
	for y := 0; y < img.Height; y++ {
		for x := 0; x < img.Width; x++ {
			i := (y*img.Width + x) * 3
			out.Set(x, y, color.NRGBA{R: img.Pix[i], G: img.Pix[i+1], B: img.Pix[i+2], A: 255})
		}
	}
	return out
}

// writeNpy writes a minimal raw-array container standing in for
// NumPy's .npy format: a small fixed header (magic, width, height,
// channels as little-endian uint32) followed by the raw RGB bytes.
// There is no NumPy-compatible writer in the example pack; this is a
// deliberate format divergence, documented in DESIGN.md.
func writeNpy(path string, img *frame.Image) error {
	var buf bytes.Buffer
	buf.WriteString("GONPY1\x00\x00")
	binary.Write(&buf, binary.LittleEndian, uint32(img.Width))
	binary.Write(&buf, binary.LittleEndian, uint32(img.Height))
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write(img.Pix)
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// EncodeJPEG renders img as a standalone JPEG byte slice, for protocol
// paths (control server's shortstream, the MJPEG/overlay servers) that
// never touch disk.
func EncodeJPEG(img *frame.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, toImageNRGBA(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("exporter: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

func (e *Exporter) writeOne(base string, img *frame.Image, format string) (string, error) {
	path := filepath.Join(e.BaseDir, base+"."+format)
	switch format {
	case "jpg":
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("exporter: create %s: %w", path, err)
		}
		defer f.Close()
		if err := jpeg.Encode(f, toImageNRGBA(img), &jpeg.Options{Quality: 90}); err != nil {
			return "", fmt.Errorf("exporter: jpeg encode %s: %w", path, err)
		}
		return path, nil
	case "png":
		f, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("exporter: create %s: %w", path, err)
		}
		defer f.Close()
		if err := png.Encode(f, toImageNRGBA(img)); err != nil {
			return "", fmt.Errorf("exporter: png encode %s: %w", path, err)
		}
		return path, nil
	case "npy":
		if err := writeNpy(path, img); err != nil {
			return "", fmt.Errorf("exporter: npy encode %s: %w", path, err)
		}
		return path, nil
	default:
		return "", fmt.Errorf("exporter: unsupported format %q", format)
	}
}

// Save writes one file per requested format for each (image, meta)
// pair, returning every path written. A failed write does not stop the
// others; the first such error is returned alongside whatever paths did
// succeed, and later errors are not reported; there
// are no transactional guarantees (spec.md §4.7).
func (e *Exporter) Save(recs []*frame.Record, formats []string) ([]string, error) {
	if len(formats) == 0 {
		formats = DefaultFormats
	}
	var paths []string
	var firstErr error
	for _, rec := range recs {
		base := basename(rec)
		for _, format := range formats {
			path, err := e.writeOne(base, rec.Image, format)
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
			paths = append(paths, path)
		}
	}
	return paths, firstErr
}

// StackAndSave averages frames pixel-wise in higher precision, clamps
// to [0,255], and writes a single image carrying the metadata of the
// last frame.
func (e *Exporter) StackAndSave(recs []*frame.Record, formats []string) ([]string, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("exporter: cannot stack zero frames")
	}
	stacked, err := Average(recs)
	if err != nil {
		return nil, err
	}
	last := recs[len(recs)-1]
	merged := &frame.Record{
		FrameID:   last.FrameID,
		Timestamp: last.Timestamp,
		DarkScore: last.DarkScore,
		NightMode: last.NightMode,
		Image:     stacked,
	}
	return e.Save([]*frame.Record{merged}, formats)
}

// Average computes the per-pixel mean of every image in recs,
// accumulating in float64 and clamping to [0,255].
func Average(recs []*frame.Record) (*frame.Image, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("exporter: cannot average zero frames")
	}
	width, height := recs[0].Image.Width, recs[0].Image.Height
	n := len(recs[0].Image.Pix)
	sums := make([]float64, n)
	for _, rec := range recs {
		if len(rec.Image.Pix) != n {
			return nil, fmt.Errorf("exporter: mismatched frame geometry in stack")
		}
		for i, v := range rec.Image.Pix {
			sums[i] += float64(v)
		}
	}
	out := frame.NewImage(width, height)
	count := float64(len(recs))
	for i, sum := range sums {
		v := sum / count
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		out.Pix[i] = byte(v + 0.5) // round to nearest
	}
	return out, nil
}
