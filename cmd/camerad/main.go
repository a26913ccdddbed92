// Command camerad is the always-on camera service of spec.md: it
// drives the capture pipeline, the control protocol, and the MJPEG
// stream, and can install/run itself as a platform service via
// kardianos/service (spec.md §5's "a supervisor restarts it" exit-code
// contract). Wiring order follows the teacher's cmd/driver/main.go
// (logger, then devices, then metrics, then HTTP mux, then serve).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"periph.io/x/periph/host"

	"github.com/warpcomdev/camerad/internal/camera"
	"github.com/warpcomdev/camerad/internal/capacity"
	"github.com/warpcomdev/camerad/internal/capture"
	"github.com/warpcomdev/camerad/internal/config"
	"github.com/warpcomdev/camerad/internal/control"
	"github.com/warpcomdev/camerad/internal/exporter"
	"github.com/warpcomdev/camerad/internal/health"
	"github.com/warpcomdev/camerad/internal/mjpeg"
	"github.com/warpcomdev/camerad/internal/nightmode"
	"github.com/warpcomdev/camerad/internal/ring"
	"github.com/warpcomdev/camerad/internal/servicelog"
)

var (
	flagConfig = flag.String("config", "", "path to the JSON config file (default: XDG config directory)")
	flagDebug  = flag.Bool("debug", false, "enable debug logging")
	flagLog    = flag.String("log", "", "path to the rotated log file (default: XDG state directory)")
)

func defaultConfigPath() string {
	path, err := xdg.ConfigFile("camerad/config.json")
	if err != nil {
		return filepath.Join(os.ExpandEnv("$HOME"), ".config/camerad/config.json")
	}
	return path
}

func defaultLogPath() string {
	path, err := xdg.StateFile("camerad/camerad.log")
	if err != nil {
		return filepath.Join(os.ExpandEnv("$HOME"), ".local/state/camerad/camerad.log")
	}
	return path
}

// program implements kardianos/service.Interface: Start launches the
// service loop in a goroutine and returns immediately, Stop cancels
// it.
type program struct {
	cancel context.CancelFunc
	logger servicelog.Logger
	live   *config.Live
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	go p.run(ctx)
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

func (p *program) run(ctx context.Context) {
	cfg := p.live.Snapshot()

	if _, err := host.Init(); err != nil {
		p.logger.Warn("periph host init failed, status-LED hooks disabled", servicelog.Error(err))
	}

	requested := cfg.Ring.Size
	width, height := cfg.Camera.Width, cfg.Camera.Height
	if cfg.Ring.Downscale.Enable {
		width, height = cfg.Ring.Downscale.Width, cfg.Ring.Downscale.Height
	}
	capacityN, err := capacity.PlanFromSystem(p.logger, width, height, requested)
	if err != nil {
		p.logger.Warn("capacity: falling back to requested ring size", servicelog.Error(err))
		capacityN = requested
	}

	frameRing := ring.New(capacityN)
	adapter := camera.NewSimulated(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.Framerate)
	if err := adapter.StartVideo(); err != nil {
		p.logger.Fatal("camera: start video failed", servicelog.Error(err))
	}
	nightCtrl := nightmode.New(nightmode.Params{
		DarkThreshold: cfg.Night.DarkThreshold, BrightThreshold: cfg.Night.BrightThreshold, MinDarkFrames: cfg.Night.MinDarkFrames,
	}, p.logger)
	healthMon := health.NewMonitor(p.logger, 0)
	exp, err := exporter.New(cfg.Export.BaseDir)
	if err != nil {
		p.logger.Fatal("exporter: init failed", servicelog.Error(err))
	}

	pipeline := capture.New(frameRing, adapter, nightCtrl, healthMon, exp, p.live, p.logger)
	pipeline.Terminate = func(code int) {
		p.logger.Error("capture: terminating", servicelog.Int("exit_code", code))
		os.Exit(code)
	}

	controlServer := &control.Server{
		Ring: frameRing, Adapter: adapter, Night: nightCtrl, Health: healthMon,
		Exporter: exp, Config: p.live, Logger: p.logger,
	}
	go func() {
		if err := controlServer.ListenAndServe(fmt.Sprintf(":%d", cfg.Network.TriggerPort)); err != nil {
			p.logger.Error("control: server stopped", servicelog.Error(err))
		}
	}()

	if cfg.MJPEGServer.Enable {
		mux := http.NewServeMux()
		mux.Handle("/stream", mjpeg.New(frameRing, p.live, p.logger))
		mux.Handle("/metrics", promhttp.Handler())
		mux.Handle("/debug/", http.DefaultServeMux)
		addr := fmt.Sprintf(":%d", cfg.MJPEGServer.Port)
		go func() {
			p.logger.Info("mjpeg: listening", servicelog.String("addr", addr))
			if err := http.ListenAndServe(addr, mux); err != nil {
				p.logger.Error("mjpeg: server stopped", servicelog.Error(err))
			}
		}()
	}

	pipeline.Run(ctx)
}

func main() {
	flag.Parse()
	godotenv.Load()

	configPath := *flagConfig
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "camerad: create config dir: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
		if err := config.Save(cfg, configPath); err != nil {
			fmt.Fprintf(os.Stderr, "camerad: write default config: %v\n", err)
			os.Exit(1)
		}
	}
	live := config.NewLive(cfg, configPath)

	logPath := *flagLog
	if logPath == "" {
		logPath = defaultLogPath()
	}

	svcConfig := &service.Config{
		Name:        "camerad",
		DisplayName: "Camera Service",
		Description: "Always-on camera capture, control, and MJPEG streaming service.",
	}
	prg := &program{live: live}
	svc, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "camerad: service setup failed: %v\n", err)
		os.Exit(1)
	}

	svcLogger, err := svc.Logger(nil)
	if err != nil {
		svcLogger = nil
	}
	prg.logger = servicelog.New(svcLogger, logPath, *flagDebug)

	if len(flag.Args()) > 0 {
		if err := service.Control(svc, flag.Args()[0]); err != nil {
			fmt.Fprintf(os.Stderr, "camerad: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := svc.Run(); err != nil {
		prg.logger.Error("service exited with error", servicelog.Error(err))
		time.Sleep(time.Second) // give the logger time to flush before exit
		os.Exit(1)
	}
}
