package mjpeg

import (
	"bufio"
	"image/jpeg"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/ring"
)

func solidImage(w, h int, v byte) *frame.Image {
	img := frame.NewImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestStreamSinglePart(t *testing.T) {
	r := ring.New(4)
	r.Append(&frame.Record{
		FrameID:   7,
		Timestamp: 1700000000.123,
		DarkScore: 42.7,
		NightMode: true,
		Image:     solidImage(8, 6, 100),
	})

	cfg := config.Default()
	cfg.MJPEGServer.FPS = 5
	live := config.NewLive(cfg, "")

	h := New(r, live, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	client := &http.Client{Timeout: 3 * time.Second}
	req, err := http.NewRequest(http.MethodGet, server.URL+"/stream", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parse content-type: %v", err)
	}
	if params["boundary"] != "frame" {
		t.Fatalf("boundary = %q, want frame", params["boundary"])
	}

	mr := multipart.NewReader(resp.Body, params["boundary"])
	part, err := mr.NextPart()
	if err != nil {
		t.Fatalf("NextPart: %v", err)
	}

	if part.Header.Get("X-Frame-Id") != "7" {
		t.Errorf("X-Frame-Id = %q, want 7", part.Header.Get("X-Frame-Id"))
	}
	if part.Header.Get("X-Timestamp") != "1700000000.123" {
		t.Errorf("X-Timestamp = %q, want 1700000000.123", part.Header.Get("X-Timestamp"))
	}
	if part.Header.Get("X-Dark-Score") != "42.7" {
		t.Errorf("X-Dark-Score = %q, want 42.7", part.Header.Get("X-Dark-Score"))
	}
	if part.Header.Get("X-Night") != "1" {
		t.Errorf("X-Night = %q, want 1", part.Header.Get("X-Night"))
	}

	wantLen, err := strconv.Atoi(part.Header.Get("Content-Length"))
	if err != nil {
		t.Fatalf("Content-Length not an int: %v", part.Header.Get("Content-Length"))
	}

	img, err := jpeg.Decode(bufio.NewReaderSize(part, wantLen))
	if err != nil {
		t.Fatalf("decode jpeg: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != 8 || bounds.Dy() != 6 {
		t.Fatalf("decoded geometry = %dx%d, want 8x6", bounds.Dx(), bounds.Dy())
	}
}

func TestRejectsOtherPaths(t *testing.T) {
	r := ring.New(1)
	live := config.NewLive(config.Default(), "")
	h := New(r, live, nil)
	server := httptest.NewServer(h)
	defer server.Close()

	resp, err := http.Get(server.URL + "/other")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}
