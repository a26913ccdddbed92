// Package mjpeg serves the latest ring frame as a
// multipart/x-mixed-replace HTTP stream, grounded directly on the
// teacher's internal/mjpeg/handler.go (hijack the connection, write
// headers by hand, push parts through a mime/multipart.Writer, watch
// the read side for client disconnects). Re-targeted to spec.md §4.9's
// pinned boundary and exact per-part header set, and to a handler
// built around one shared *ring.Ring reference instead of the
// teacher's per-request Session/SessionManager indirection (spec.md
// §9: no class-attribute injection).
package mjpeg

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

const (
	boundary    = "frame"
	emptyPollHz = 10
)

// Handler streams /stream as MJPEG, reading frames out of a shared
// ring bound at construction time (not injected per request).
type Handler struct {
	Ring   *ring.Ring
	Config *config.Live
	Logger servicelog.Logger
}

// New builds a Handler bound to ring and the live configuration (for
// mjpeg_server.fps, which may change at runtime via `set`).
func New(r *ring.Ring, cfg *config.Live, logger servicelog.Logger) *Handler {
	if logger == nil {
		logger = servicelog.NewNop()
	}
	return &Handler{Ring: r, Config: cfg, Logger: logger}
}

func (h *Handler) fps() int {
	fps := h.Config.Snapshot().MJPEGServer.FPS
	if fps <= 0 {
		fps = 1
	}
	return fps
}

// ServeHTTP implements http.Handler for GET /stream.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "Protocol Not Supported", http.StatusMethodNotAllowed)
		return
	}
	conn, rw, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, "Hijacking failed", http.StatusMethodNotAllowed)
		return
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(5 * time.Second))

	// Watch the read side so a dead client surfaces promptly instead of
	// only being discovered on the next failed write.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		one := make([]byte, 1)
		for {
			if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			if _, err := rw.Read(one); errors.Is(err, io.EOF) {
				return
			}
			rw.Discard(rw.Available())
		}
	}()

	mimeWriter := multipart.NewWriter(rw)
	mimeWriter.SetBoundary(boundary)
	defer mimeWriter.Close()

	rw.WriteString(r.Proto)
	rw.WriteString(" 200 OK\r\n")
	rw.WriteString("Connection: close\r\n")
	rw.WriteString("Cache-Control: no-store, no-cache\r\n")
	rw.WriteString(fmt.Sprintf("Content-Type: multipart/x-mixed-replace;boundary=%s\r\n\r\n", boundary))
	if err := rw.Flush(); err != nil {
		return
	}

	var lastFrameID uint64
	var haveLast bool
	for {
		select {
		case <-disconnected:
			return
		default:
		}

		rec := h.Ring.Latest()
		if rec == nil || (haveLast && rec.FrameID == lastFrameID) {
			time.Sleep(time.Second / emptyPollHz)
			continue
		}
		haveLast, lastFrameID = true, rec.FrameID

		if err := writePart(conn, rw, mimeWriter, rec); err != nil {
			h.Logger.Warn("mjpeg: client disconnected", servicelog.Error(err))
			return
		}

		time.Sleep(time.Second / time.Duration(h.fps()))
	}
}

func writePart(conn net.Conn, rw *bufio.ReadWriter, mimeWriter *multipart.Writer, rec *frame.Record) error {
	data, err := exporter.EncodeJPEG(rec.Image, 90)
	if err != nil {
		return fmt.Errorf("mjpeg: encode: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))

	header := make(textproto.MIMEHeader)
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", len(data)))
	header.Set("X-Frame-Id", fmt.Sprintf("%d", rec.FrameID))
	header.Set("X-Timestamp", fmt.Sprintf("%.3f", rec.Timestamp))
	header.Set("X-Dark-Score", fmt.Sprintf("%.1f", rec.DarkScore))
	header.Set("X-Night", nightFlag(rec.NightMode))

	partWriter, err := mimeWriter.CreatePart(header)
	if err != nil {
		return fmt.Errorf("mjpeg: createPart: %w", err)
	}
	if _, err := partWriter.Write(data); err != nil {
		return fmt.Errorf("mjpeg: write: %w", err)
	}
	if err := rw.Flush(); err != nil {
		return fmt.Errorf("mjpeg: flush: %w", err)
	}
	return nil
}

func nightFlag(night bool) string {
	if night {
		return "1"
	}
	return "0"
}
