// Package health samples resident-set and swap usage and computes the
// escalating-throttle decisions of spec.md §4.6, grounded on the
// /proc-reading idiom of
// Reece-Reklai-learn_go_cam_dashboard/internal/perf/monitor.go.
package health

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warpcomdev/camerad/internal/servicelog"
)

var (
	rssGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "process_rss_mib",
		Help: "Resident set size of this process, in MiB",
	})
	swapGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "system_swap_percent",
		Help: "System-wide swap usage percentage",
	})
)

// Sample holds one (RSS MiB, swap %) reading.
type Sample struct {
	RSSMiB      float64
	SwapPercent float64
}

// Sampler reads process/system memory figures from /proc.
type Sampler struct{}

// Sample reads VmRSS from /proc/self/status and swap usage from
// /proc/meminfo.
func (Sampler) Sample() (Sample, error) {
	rss, err := readRSSMiB("/proc/self/status")
	if err != nil {
		return Sample{}, err
	}
	swap, err := readSwapPercent("/proc/meminfo")
	if err != nil {
		return Sample{}, err
	}
	return Sample{RSSMiB: rss, SwapPercent: swap}, nil
}

func readRSSMiB(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("health: open %s: %w", path, err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "VmRSS:" {
			kib, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				return 0, fmt.Errorf("health: parse VmRSS: %w", err)
			}
			return kib / 1024, nil
		}
	}
	return 0, fmt.Errorf("health: VmRSS not found in %s", path)
}

func readSwapPercent(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("health: read %s: %w", path, err)
	}
	var total, free float64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "SwapTotal:":
			total, _ = strconv.ParseFloat(fields[1], 64)
		case "SwapFree:":
			free, _ = strconv.ParseFloat(fields[1], 64)
		}
	}
	if total == 0 {
		return 0, nil
	}
	return 100 * (total - free) / total, nil
}

// Decision is the outcome of evaluating swap pressure against the
// thresholds of spec.md §4.6 steps 2-3.
type Decision struct {
	Sleep time.Duration
	Skip  bool // true: skip this iteration's capture entirely
}

// Throttle evaluates the swap-pressure escalation: >85% is critical
// (skip the iteration after a GC request and a 3s sleep); >70% is a
// warning (sleep 1.5s but proceed); otherwise no throttle.
func Throttle(swapPercent float64) Decision {
	switch {
	case swapPercent > 85:
		return Decision{Sleep: 3 * time.Second, Skip: true}
	case swapPercent > 70:
		return Decision{Sleep: 1500 * time.Millisecond, Skip: false}
	default:
		return Decision{}
	}
}

// Monitor wraps Sampler with the 60s log-throttle of spec.md §4.6 step 1
// and the hard RSS cap of step 8.
type Monitor struct {
	sampler       Sampler
	logger        servicelog.Logger
	lastLogged    time.Time
	logInterval   time.Duration
	maxRSSMiB     float64
}

// NewMonitor builds a Monitor; maxRSSMiB is the hard cap from
// spec.md §4.6 step 8 (default 350 if zero).
func NewMonitor(logger servicelog.Logger, maxRSSMiB float64) *Monitor {
	if maxRSSMiB <= 0 {
		maxRSSMiB = 350
	}
	if logger == nil {
		logger = servicelog.NewNop()
	}
	return &Monitor{sampler: Sampler{}, logger: logger, logInterval: 60 * time.Second, maxRSSMiB: maxRSSMiB}
}

// SampleAndLog samples memory, updates metrics, and logs at most once
// per logInterval.
func (m *Monitor) SampleAndLog(now time.Time) (Sample, error) {
	sample, err := m.sampler.Sample()
	if err != nil {
		return Sample{}, err
	}
	rssGauge.Set(sample.RSSMiB)
	swapGauge.Set(sample.SwapPercent)
	if now.Sub(m.lastLogged) >= m.logInterval {
		m.logger.Info("health sample",
			servicelog.Float("rss_mib", sample.RSSMiB),
			servicelog.Float("swap_percent", sample.SwapPercent),
		)
		m.lastLogged = now
	}
	return sample, nil
}

// ExceedsCap reports whether the given RSS sample breaches the hard
// memory cap (spec.md §4.6 step 8, exit code 42).
func (m *Monitor) ExceedsCap(sample Sample) bool {
	return sample.RSSMiB > m.maxRSSMiB
}

// MaxRSSMiB returns the configured hard cap.
func (m *Monitor) MaxRSSMiB() float64 {
	return m.maxRSSMiB
}
