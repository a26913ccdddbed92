// Package capacity sizes the ring from available system memory and
// the declared image geometry, the way
// Reece-Reklai-learn_go_cam_dashboard/internal/perf/monitor.go reads
// /proc/meminfo for memory-pressure figures.
package capacity

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/warpcomdev/camerad/internal/servicelog"
)

const budgetFraction = 0.5

// BytesPerImage returns the per-frame memory cost for RGB geometry.
func BytesPerImage(width, height int) int64 {
	return int64(width) * int64(height) * 3
}

// Plan computes the effective ring capacity:
// min(requested, floor(budget / bytesPerImage)), floored at 1.
func Plan(availableBytes uint64, width, height, requested int) int {
	budget := float64(availableBytes) * budgetFraction
	bytesPerImage := BytesPerImage(width, height)
	if bytesPerImage <= 0 {
		return max1(requested)
	}
	byMemory := int(budget / float64(bytesPerImage))
	effective := requested
	if byMemory < effective {
		effective = byMemory
	}
	return max1(effective)
}

func max1(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// DetectAvailable reads MemAvailable from /proc/meminfo, in bytes.
func DetectAvailable() (uint64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, fmt.Errorf("capacity: read meminfo: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[0] != "MemAvailable:" {
			continue
		}
		kib, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("capacity: parse MemAvailable: %w", err)
		}
		return kib * 1024, nil
	}
	return 0, fmt.Errorf("capacity: MemAvailable not found in /proc/meminfo")
}

// PlanFromSystem detects available memory and applies Plan, logging
// the derivation the way spec.md §4.2 requires.
func PlanFromSystem(logger servicelog.Logger, width, height, requested int) (int, error) {
	available, err := DetectAvailable()
	if err != nil {
		return 0, err
	}
	effective := Plan(available, width, height, requested)
	logger.Info("ring capacity planned",
		servicelog.Int("requested", requested),
		servicelog.Any("available_bytes", available),
		servicelog.Any("bytes_per_image", BytesPerImage(width, height)),
		servicelog.Int("effective", effective),
	)
	return effective, nil
}
