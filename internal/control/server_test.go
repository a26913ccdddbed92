package control

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"testing"

	"github.com/warpcomdev/camerad/internal/camera"
	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/health"
	"github.com/warpcomdev/camerad/internal/nightmode"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

func solidImage(w, h int, v byte) *frame.Image {
	img := frame.NewImage(w, h)
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

func newTestServer(t *testing.T) (*Server, *ring.Ring, *config.Live) {
	t.Helper()
	r := ring.New(10)
	cfg := config.Default()
	cfg.Export.Formats = []string{"jpg"}
	live := config.NewLive(cfg, t.TempDir()+"/config.json")
	adapter := camera.NewSimulated(4, 4, 10)
	if err := adapter.StartVideo(); err != nil {
		t.Fatal(err)
	}
	night := nightmode.New(nightmode.Params{DarkThreshold: 35, BrightThreshold: 55, MinDarkFrames: 3}, nil)
	h := health.NewMonitor(nil, 1<<20)
	exp, err := exporter.New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return &Server{Ring: r, Adapter: adapter, Night: night, Health: h, Exporter: exp, Config: live, Logger: servicelog.NewNop()}, r, live
}

func listenLocal(t *testing.T, s *Server) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			s.handle(conn)
		}
	}()
	t.Cleanup(func() { listener.Close() })
	return listener.Addr().String()
}

func sendCommand(t *testing.T, addr, cmd string) []byte {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte(cmd)); err != nil {
		t.Fatal(err)
	}
	conn.(*net.TCPConn).CloseWrite()
	data, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestScenarioCNightLevel(t *testing.T) {
	s, r, _ := newTestServer(t)
	s.Night.Update(10) // drive dark_count to 1 (not yet active)
	s.Night.Update(10)
	s.Night.Update(10) // 3rd dark frame -> ENTER, active=true
	r.Append(&frame.Record{FrameID: 1, Timestamp: 1700000000, DarkScore: 12.3, Image: solidImage(2, 2, 10)})

	addr := listenLocal(t, s)
	got := string(sendCommand(t, addr, "night_level\n"))
	want := "LEVEL=12.3 relevant threshold=55 dark_threshold: < 35 bright_threshold: > 55 STATUS=NIGHT\n"
	if got != want {
		t.Fatalf("night_level = %q, want %q", got, want)
	}
}

func TestScenarioBShortStream(t *testing.T) {
	s, r, _ := newTestServer(t)
	for i := uint64(0); i < 4; i++ {
		r.Append(&frame.Record{FrameID: i, Timestamp: float64(i), Image: solidImage(4, 4, byte(i*10))})
	}
	addr := listenLocal(t, s)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write([]byte("shortstream 10")); err != nil {
		t.Fatal(err)
	}
	conn.(*net.TCPConn).CloseWrite()

	reader := bufio.NewReader(conn)
	count := 0
	for {
		var header [4]byte
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			t.Fatal(err)
		}
		length := binary.BigEndian.Uint32(header[:])
		if length == 0 {
			break
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(reader, buf); err != nil {
			t.Fatal(err)
		}
		count++
	}
	if count != 4 {
		t.Fatalf("received %d JPEGs, want 4", count)
	}
	line, err := reader.ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(line, "STREAM_DONE: sent=4") {
		t.Fatalf("summary line = %q, want prefix STREAM_DONE: sent=4", line)
	}
}

func TestScenarioDSetAndDumpConfig(t *testing.T) {
	s, _, live := newTestServer(t)
	addr := listenLocal(t, s)

	got := string(sendCommand(t, addr, "set camera.framerate 5\n"))
	if !strings.HasPrefix(got, "OK: changed camera.framerate from 10 to 5") {
		t.Fatalf("set reply = %q", got)
	}

	got = string(sendCommand(t, addr, "dump_config\n"))
	if !strings.Contains(got, `"framerate": 5`) {
		t.Fatalf("dump_config does not reflect change: %s", got)
	}

	got = string(sendCommand(t, addr, "overwrite_config\n"))
	if !strings.HasPrefix(got, "OK: configuration dumped to") {
		t.Fatalf("overwrite_config reply = %q", got)
	}
	onDisk, err := config.Load(live.Path())
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Camera.Framerate != 5 {
		t.Fatalf("on-disk framerate = %d, want 5", onDisk.Camera.Framerate)
	}
}

func TestUnknownCommand(t *testing.T) {
	s, _, _ := newTestServer(t)
	addr := listenLocal(t, s)
	got := string(sendCommand(t, addr, "bogus_verb\n"))
	if got != "UNKNOWN_COMMAND\n" {
		t.Fatalf("got %q, want UNKNOWN_COMMAND", got)
	}
}

func TestHealthCommand(t *testing.T) {
	s, _, _ := newTestServer(t)
	addr := listenLocal(t, s)
	got := string(sendCommand(t, addr, "health\n"))
	if !strings.HasPrefix(got, "RSS=") || !strings.Contains(got, "SWAP=") {
		t.Fatalf("health reply = %q", got)
	}
}

func TestNightLevelNoData(t *testing.T) {
	s, _, _ := newTestServer(t)
	addr := listenLocal(t, s)
	got := string(sendCommand(t, addr, "night_level\n"))
	if got != "NO_DATA\n" {
		t.Fatalf("got %q, want NO_DATA", got)
	}
}
