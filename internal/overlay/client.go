// Package overlay implements the downstream overlay proxy of
// spec.md §4.10: an upstream MJPEG consumer, a HUD annotator, a
// downstream re-emitter reusing internal/mjpeg's multipart-writer
// idiom, and a dual-retention snapshot archiver.
package overlay

import (
	"fmt"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/warpcomdev/camerad/internal/frame"
)

// Consumer pulls frames from an upstream MJPEG stream (typically
// internal/mjpeg's own /stream), decoding each part into a
// frame.Record. It is the structural inverse of internal/mjpeg's
// writer: instead of hand-writing multipart headers, it relies on
// net/http and mime/multipart to parse them.
type Consumer struct {
	UpstreamURL string
	Client      *http.Client
}

// NewConsumer builds a Consumer against upstreamURL (e.g.
// "http://127.0.0.1:8090/stream").
func NewConsumer(upstreamURL string) *Consumer {
	return &Consumer{UpstreamURL: upstreamURL, Client: http.DefaultClient}
}

// Open connects to the upstream stream and returns a Stream the
// caller can repeatedly pull frames from until it errors or is
// closed.
func (c *Consumer) Open() (*Stream, error) {
	resp, err := c.Client.Get(c.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("overlay: connect upstream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("overlay: upstream status %d", resp.StatusCode)
	}
	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("overlay: parse upstream content-type: %w", err)
	}
	boundary, ok := params["boundary"]
	if !ok {
		resp.Body.Close()
		return nil, fmt.Errorf("overlay: upstream content-type has no boundary")
	}
	return &Stream{
		resp:   resp,
		reader: multipart.NewReader(resp.Body, boundary),
	}, nil
}

// Stream is one open upstream connection.
type Stream struct {
	resp   *http.Response
	reader *multipart.Reader
}

// Close tears down the upstream connection.
func (s *Stream) Close() error {
	return s.resp.Body.Close()
}

// Next reads exactly one upstream part, decodes the JPEG payload, and
// returns a frame.Record carrying the upstream's metadata headers.
func (s *Stream) Next() (*frame.Record, error) {
	part, err := s.reader.NextPart()
	if err != nil {
		return nil, fmt.Errorf("overlay: read part: %w", err)
	}
	defer part.Close()

	img, err := jpeg.Decode(part)
	if err != nil {
		return nil, fmt.Errorf("overlay: decode jpeg: %w", err)
	}

	bounds := img.Bounds()
	out := frame.NewImage(bounds.Dx(), bounds.Dy())
	for y := 0; y < bounds.Dy(); y++ {
		for x := 0; x < bounds.Dx(); x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := (y*bounds.Dx() + x) * 3
			out.Pix[i] = byte(r >> 8)
			out.Pix[i+1] = byte(g >> 8)
			out.Pix[i+2] = byte(b >> 8)
		}
	}

	rec := &frame.Record{Image: out}
	if v, err := strconv.ParseUint(part.Header.Get("X-Frame-Id"), 10, 64); err == nil {
		rec.FrameID = v
	}
	if v, err := strconv.ParseFloat(part.Header.Get("X-Timestamp"), 64); err == nil {
		rec.Timestamp = v
	}
	if v, err := strconv.ParseFloat(part.Header.Get("X-Dark-Score"), 64); err == nil {
		rec.DarkScore = v
	}
	rec.NightMode = part.Header.Get("X-Night") == "1"
	return rec, nil
}
