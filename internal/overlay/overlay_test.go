package overlay

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/mjpeg"
	"github.com/warpcomdev/camerad/internal/ring"
)

func solidImage(w, h int, v byte) *frame.Image {
	img := frame.NewImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func TestConsumerRoundTripWithMJPEGHandler(t *testing.T) {
	upstreamRing := ring.New(4)
	upstreamRing.Append(&frame.Record{
		FrameID:   3,
		Timestamp: 1700000000.5,
		DarkScore: 18.2,
		NightMode: true,
		Image:     solidImage(10, 8, 60),
	})
	cfg := config.Default()
	cfg.MJPEGServer.FPS = 10
	live := config.NewLive(cfg, "")
	server := httptest.NewServer(mjpeg.New(upstreamRing, live, nil))
	defer server.Close()

	consumer := NewConsumer(server.URL + "/stream")
	stream, err := consumer.Open()
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	rec, err := stream.Next()
	if err != nil {
		t.Fatal(err)
	}
	if rec.FrameID != 3 {
		t.Errorf("FrameID = %d, want 3", rec.FrameID)
	}
	if rec.Timestamp != 1700000000.5 {
		t.Errorf("Timestamp = %v, want 1700000000.5", rec.Timestamp)
	}
	if rec.DarkScore != 18.2 {
		t.Errorf("DarkScore = %v, want 18.2", rec.DarkScore)
	}
	if !rec.NightMode {
		t.Error("NightMode = false, want true")
	}
	if rec.Image.Width != 10 || rec.Image.Height != 8 {
		t.Errorf("geometry = %dx%d, want 10x8", rec.Image.Width, rec.Image.Height)
	}
}

func TestAnnotatorLeavesSourceUntouched(t *testing.T) {
	rec := &frame.Record{FrameID: 1, Timestamp: 5, DarkScore: 40, NightMode: false, Image: solidImage(64, 48, 200)}
	before := append([]byte(nil), rec.Image.Pix...)

	annotator := NewAnnotator("camerad")
	out := annotator.Annotate(rec)

	for i, v := range rec.Image.Pix {
		if v != before[i] {
			t.Fatal("Annotate mutated the source image")
		}
	}
	differs := false
	for i, v := range out.Pix {
		if v != rec.Image.Pix[i] {
			differs = true
			break
		}
	}
	if !differs {
		t.Fatal("Annotate produced an image identical to the source; HUD was not drawn")
	}
}

func TestArchiverDualRetentionSweep(t *testing.T) {
	dir := t.TempDir()
	archiver, err := NewArchiver(dir, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer archiver.Close()

	rec := &frame.Record{Image: solidImage(4, 4, 128)}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	archiver.Record(base, rec)
	fiveMinFiles, hourlyFiles := countPrefixed(t, dir)
	if fiveMinFiles != 1 || hourlyFiles != 1 {
		t.Fatalf("after first frame: five-min=%d hourly=%d, want 1 and 1", fiveMinFiles, hourlyFiles)
	}

	// Back-date the just-written files so the next sweep, 25 hours
	// later, finds the five-minute one expired (retained 24h) but the
	// hourly one still alive (retained 28d).
	backdateAll(t, dir, base.Add(-25*time.Hour))

	later := base.Add(25 * time.Hour)
	archiver.Record(later, rec)

	fiveMinFiles, hourlyFiles = countPrefixed(t, dir)
	if fiveMinFiles != 1 {
		t.Fatalf("five-min files after sweep = %d, want 1 (expired one removed, fresh one written)", fiveMinFiles)
	}
	if hourlyFiles != 2 {
		t.Fatalf("hourly files after sweep = %d, want 2 (28-day retention keeps the backdated one)", hourlyFiles)
	}
}

func countPrefixed(t *testing.T, dir string) (fiveMin, hourly int) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		switch {
		case len(e.Name()) >= len("frame_5min_") && e.Name()[:len("frame_5min_")] == "frame_5min_":
			fiveMin++
		case len(e.Name()) >= len("frame_hourly_") && e.Name()[:len("frame_hourly_")] == "frame_hourly_":
			hourly++
		}
	}
	return fiveMin, hourly
}

func backdateAll(t *testing.T, dir string, mtime time.Time) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if err := os.Chtimes(path, mtime, mtime); err != nil {
			t.Fatal(err)
		}
	}
}

func TestTokenMiddlewareRejectsMissingOrInvalidToken(t *testing.T) {
	secret := "s3cr3t"
	mw := NewTokenMiddleware(func() string { return secret })
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	server := httptest.NewServer(mw.Wrap(inner))
	defer server.Close()

	resp, err := http.Get(server.URL + "/stream")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", resp.StatusCode)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	req, _ := http.NewRequest(http.MethodGet, server.URL+"/stream", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("valid token: status = %d, want 200", resp.StatusCode)
	}
}
