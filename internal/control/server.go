package control

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warpcomdev/camerad/internal/camera"
	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/frame"
	"github.com/warpcomdev/camerad/internal/health"
	"github.com/warpcomdev/camerad/internal/nightmode"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

const maxCommandBytes = 1024

var commandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "control_commands_total",
	Help: "Control protocol commands handled, by verb",
}, []string{"verb"})

// Server handles one control-protocol connection at a time on
// Config.Network.TriggerPort, per spec.md §4.8.
type Server struct {
	Ring     *ring.Ring
	Adapter  camera.Adapter
	Night    *nightmode.Controller
	Health   *health.Monitor
	Exporter *exporter.Exporter
	Config   *config.Live
	Logger   servicelog.Logger

	// Now is injectable for deterministic age computations in tests.
	Now func() time.Time
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// ListenAndServe accepts connections on addr and handles them one at a
// time (accept, serve, close), until the listener errors (e.g. on
// Close from another goroutine).
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("control: listen %s: %w", addr, err)
	}
	defer listener.Close()
	s.Logger.Info("control server listening", servicelog.String("addr", addr))
	for {
		conn, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("control: accept: %w", err)
		}
		s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, maxCommandBytes)
	n, err := conn.Read(buf)
	if err != nil {
		s.Logger.Warn("control: read failed", servicelog.Error(err))
		return
	}
	line := strings.TrimSpace(string(buf[:n]))
	cmd := ParseCommand(line)
	commandsTotal.WithLabelValues(verbName(cmd.Verb)).Inc()

	if cmd.Verb == ShortStream {
		s.handleShortStream(conn, cmd.Args)
		return
	}

	response := s.dispatch(cmd)
	fmt.Fprintf(conn, "%s\n", response)
}

func verbName(v Verb) string {
	switch v {
	case Save:
		return "save"
	case PastStack:
		return "pastStack"
	case NightLevel:
		return "night_level"
	case Health:
		return "health"
	case Set:
		return "set"
	case DumpConfig:
		return "dump_config"
	case OverwriteConfig:
		return "overwrite_config"
	case ShortStream:
		return "shortstream"
	default:
		return "unknown"
	}
}

func (s *Server) dispatch(cmd Command) string {
	switch cmd.Verb {
	case Save:
		return s.doSave(cmd.Args)
	case PastStack:
		return s.doPastStack(cmd.Args)
	case NightLevel:
		return s.doNightLevel()
	case Health:
		return s.doHealth()
	case Set:
		return s.doSet(cmd.Args)
	case DumpConfig:
		return s.doDumpConfig()
	case OverwriteConfig:
		return s.doOverwriteConfig()
	default:
		return "UNKNOWN_COMMAND"
	}
}

func (s *Server) formats(args []string) []string {
	if len(args) > 0 {
		return args
	}
	return s.Config.Snapshot().Export.Formats
}

func (s *Server) doSave(args []string) string {
	latest := s.Ring.Latest()
	if latest == nil {
		return "NOT_SAVED"
	}
	img, err := s.Adapter.CaptureFullRes(context.Background())
	if err != nil {
		s.Logger.Error("control: save capture failed", servicelog.Error(err))
		return "NOT_SAVED"
	}
	rec := &frame.Record{
		FrameID:   latest.FrameID,
		Timestamp: latest.Timestamp,
		DarkScore: latest.DarkScore,
		NightMode: latest.NightMode,
		Image:     img,
	}
	paths, err := s.Exporter.Save([]*frame.Record{rec}, s.formats(args))
	if err != nil || len(paths) == 0 {
		s.Logger.Error("control: save failed", servicelog.Error(err))
		return "NOT_SAVED"
	}
	age := s.now().Sub(time.Unix(0, int64(latest.Timestamp*float64(time.Second)))).Seconds()
	return fmt.Sprintf("Saved %s (timestamp: %.3f, age: %.3f)", strings.Join(paths, ","), latest.Timestamp, age)
}

func (s *Server) doPastStack(args []string) string {
	cfg := s.Config.Snapshot()
	window := s.Ring.LastSeconds(cfg.Export.SaveBeforeS, float64(cfg.Camera.Framerate))
	if len(window) == 0 {
		return "NO_FRAMES"
	}

	if cfg.Export.StackDarkFrames {
		selection := centered(window, cfg.Export.StackCount)
		paths, err := s.Exporter.StackAndSave(selection, s.formats(args))
		if err != nil || len(paths) == 0 {
			s.Logger.Error("control: pastStack stack failed", servicelog.Error(err))
			return "NOT_SAVED"
		}
		return fmt.Sprintf("Saved stacked image %s stack of %d frames", strings.Join(paths, ","), len(selection))
	}

	paths, err := s.Exporter.Save(window, s.formats(args))
	if err != nil || len(paths) == 0 {
		s.Logger.Error("control: pastStack save failed", servicelog.Error(err))
		return "NOT_SAVED"
	}
	return fmt.Sprintf("Saved %d separate images %s", len(window), strings.Join(paths, ","))
}

// centered returns up to n frames taken from the middle of window.
func centered(window []*frame.Record, n int) []*frame.Record {
	if n <= 0 || n >= len(window) {
		return window
	}
	start := (len(window) - n) / 2
	return window[start : start+n]
}

func (s *Server) doNightLevel() string {
	latest := s.Ring.Latest()
	if latest == nil {
		return "NO_DATA"
	}
	params := s.Night.Params()
	status := "DAY"
	relevant := params.DarkThreshold
	if s.Night.Active() {
		status = "NIGHT"
		relevant = params.BrightThreshold
	}
	return fmt.Sprintf("LEVEL=%.1f relevant threshold=%v dark_threshold: < %v bright_threshold: > %v STATUS=%s",
		latest.DarkScore, relevant, params.DarkThreshold, params.BrightThreshold, status)
}

func (s *Server) doHealth() string {
	sample, err := s.Health.SampleAndLog(s.now())
	if err != nil {
		return "NOT_SAVED"
	}
	return fmt.Sprintf("RSS=%.1fMiB SWAP=%.1f%%", sample.RSSMiB, sample.SwapPercent)
}

func (s *Server) doSet(args []string) string {
	if len(args) != 2 {
		return "ERROR: usage: set <dotted.key> <value>"
	}
	key, rawValue := args[0], args[1]
	old, newVal, err := s.Config.Set(key, rawValue)
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	s.Logger.Info("config changed", servicelog.String("key", key), servicelog.Any("old", old), servicelog.Any("new", newVal))

	// Re-read live configuration and re-apply to the camera if relevant
	// (spec.md §9 open question: update_settings must re-read config,
	// not a stored snapshot).
	if strings.HasPrefix(key, "night.") {
		cfg := s.Config.Snapshot()
		if err := s.Adapter.UpdateSettings(camera.StillSettings{ExposureUs: cfg.Night.ExposureUs, Gain: cfg.Night.Gain}); err != nil {
			s.Logger.Error("control: update_settings failed", servicelog.Error(err))
		}
		s.Night.SetParams(nightmode.Params{
			DarkThreshold: cfg.Night.DarkThreshold, BrightThreshold: cfg.Night.BrightThreshold, MinDarkFrames: cfg.Night.MinDarkFrames,
		})
	}

	return fmt.Sprintf("OK: changed %s from %v to %v", key, old, newVal)
}

func (s *Server) doDumpConfig() string {
	text, err := config.DumpJSON(s.Config.Snapshot())
	if err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return text
}

func (s *Server) doOverwriteConfig() string {
	if err := s.Config.OverwriteToDisk(); err != nil {
		return fmt.Sprintf("ERROR: %v", err)
	}
	return fmt.Sprintf("OK: configuration dumped to %s", s.Config.Path())
}

func (s *Server) handleShortStream(conn net.Conn, args []string) {
	n := s.Ring.Len()
	if len(args) > 0 {
		if parsed, err := strconv.Atoi(args[0]); err == nil && parsed >= 0 {
			n = parsed
		}
	}
	available := s.Ring.Len()
	frames := s.Ring.Last(n)

	w := bufio.NewWriter(conn)
	sent, skipped := 0, 0
	for _, rec := range frames {
		data, err := exporter.EncodeJPEG(rec.Image, 90)
		if err != nil {
			skipped++
			continue
		}
		var header [4]byte
		binary.BigEndian.PutUint32(header[:], uint32(len(data)))
		if _, err := w.Write(header[:]); err != nil {
			return
		}
		if _, err := w.Write(data); err != nil {
			return
		}
		sent++
	}
	var terminator [4]byte
	if _, err := w.Write(terminator[:]); err != nil {
		return
	}
	if err := w.Flush(); err != nil {
		return
	}
	fmt.Fprintf(conn, "STREAM_DONE: sent=%d skipped=%d available=%d\n", sent, skipped, available)
}
