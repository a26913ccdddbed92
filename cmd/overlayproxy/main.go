// Command overlayproxy consumes an upstream camerad MJPEG stream,
// draws the day/night HUD onto each frame, archives snapshots at the
// dual 5-minute/hourly cadence, and re-emits the annotated stream
// behind an optional bearer-token check (spec.md §4.10). Wiring shape
// mirrors cmd/camerad, minus the capture side.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/overlay"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

var (
	flagConfig    = flag.String("config", "", "path to the JSON config file (default: XDG config directory)")
	flagDebug     = flag.Bool("debug", false, "enable debug logging")
	flagLog       = flag.String("log", "", "path to the rotated log file (default: XDG state directory)")
	flagUpstream  = flag.String("upstream", "http://127.0.0.1:8090/stream", "upstream camerad MJPEG stream URL")
	flagPort      = flag.Int("port", 8091, "port to serve the annotated stream on")
	flagArchive   = flag.String("archive-dir", "", "directory for archived snapshots (default: XDG data directory)")
	flagWatermark = flag.String("watermark", "camerad", "watermark text drawn on the annotated stream")
	flagRingSize  = flag.Int("ring-size", 60, "size of the downstream re-emission ring")
)

func defaultConfigPath() string {
	path, err := xdg.ConfigFile("camerad/overlayproxy.json")
	if err != nil {
		return filepath.Join(os.ExpandEnv("$HOME"), ".config/camerad/overlayproxy.json")
	}
	return path
}

func defaultLogPath() string {
	path, err := xdg.StateFile("camerad/overlayproxy.log")
	if err != nil {
		return filepath.Join(os.ExpandEnv("$HOME"), ".local/state/camerad/overlayproxy.log")
	}
	return path
}

func defaultArchiveDir() string {
	path, err := xdg.DataFile("camerad/archive/.keep")
	if err != nil {
		return filepath.Join(os.ExpandEnv("$HOME"), ".local/share/camerad/archive")
	}
	return filepath.Dir(path)
}

func main() {
	flag.Parse()
	godotenv.Load()

	configPath := *flagConfig
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "overlayproxy: create config dir: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
		if err := config.Save(cfg, configPath); err != nil {
			fmt.Fprintf(os.Stderr, "overlayproxy: write default config: %v\n", err)
			os.Exit(1)
		}
	}
	live := config.NewLive(cfg, configPath)

	logPath := *flagLog
	if logPath == "" {
		logPath = defaultLogPath()
	}
	logger := servicelog.New(nil, logPath, *flagDebug)

	archiveDir := *flagArchive
	if archiveDir == "" {
		archiveDir = defaultArchiveDir()
	}
	archiver, err := overlay.NewArchiver(archiveDir, logger)
	if err != nil {
		logger.Fatal("overlayproxy: archiver init failed", servicelog.Error(err))
	}
	defer archiver.Close()

	outputRing := ring.New(*flagRingSize)
	proxy := overlay.New(*flagUpstream, outputRing, archiver, *flagWatermark, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("overlayproxy: shutting down")
		cancel()
	}()

	go proxy.Run(ctx)

	mux := http.NewServeMux()
	mux.Handle("/stream", overlay.Downstream(outputRing, live, logger))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", http.DefaultServeMux)

	addr := fmt.Sprintf(":%d", *flagPort)
	logger.Info("overlayproxy: listening", servicelog.String("addr", addr), servicelog.String("upstream", *flagUpstream))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("overlayproxy: server stopped", servicelog.Error(err))
		os.Exit(1)
	}
}
