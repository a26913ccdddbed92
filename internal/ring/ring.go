// Package ring implements the bounded in-memory frame history: a
// fixed-capacity FIFO of frame records with single-writer/multi-reader
// concurrency, guarded by one mutex spanning exactly one append or one
// slice copy.
package ring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/warpcomdev/camerad/internal/frame"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_appends_total",
		Help: "Total number of frames appended to the ring",
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ring_evictions_total",
		Help: "Total number of frames evicted from the ring",
	})

	ringSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ring_size",
		Help: "Current number of frames held in the ring",
	})
)

// Ring is a fixed-capacity ordered sequence of frame records with FIFO
// eviction. Capacity is fixed at construction and never changes.
type Ring struct {
	mutex    sync.Mutex
	buf      []*frame.Record
	capacity int
	start    int // index of oldest element
	size     int
}

// New builds a Ring with the given capacity. A capacity below 1 is
// rounded up to 1.
func New(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		buf:      make([]*frame.Record, capacity),
		capacity: capacity,
	}
}

// Cap returns the fixed capacity of the ring.
func (r *Ring) Cap() int {
	return r.capacity
}

// Len returns the number of frames currently held.
func (r *Ring) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.size
}

// Append adds a new record, evicting the oldest one if the ring is
// full. O(1), never blocks longer than this single critical section.
func (r *Ring) Append(rec *frame.Record) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	idx := (r.start + r.size) % r.capacity
	if r.size == r.capacity {
		// Full: overwrite oldest slot, advance start.
		r.buf[idx] = rec
		r.start = (r.start + 1) % r.capacity
		evictionsTotal.Inc()
	} else {
		r.buf[idx] = rec
		r.size++
	}
	appendsTotal.Inc()
	ringSize.Set(float64(r.size))
}

// Last returns up to n of the most recent records, in chronological
// order (oldest of the selection first).
func (r *Ring) Last(n int) []*frame.Record {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if n > r.size {
		n = r.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]*frame.Record, n)
	for i := 0; i < n; i++ {
		idx := (r.start + r.size - n + i) % r.capacity
		out[i] = r.buf[idx]
	}
	return out
}

// LastSeconds returns the records captured in the last `seconds *
// fps` frames.
func (r *Ring) LastSeconds(seconds float64, fps float64) []*frame.Record {
	n := int(seconds * fps)
	return r.Last(n)
}

// Latest returns the newest record, or nil if the ring is empty.
func (r *Ring) Latest() *frame.Record {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.size == 0 {
		return nil
	}
	idx := (r.start + r.size - 1) % r.capacity
	return r.buf[idx]
}

// NextFrameID returns the id the next appended record should carry,
// assuming frame ids are assigned by the caller in append order. It is
// a convenience helper over Latest() for callers that own the writer
// side of the ring.
func (r *Ring) NextFrameID() uint64 {
	latest := r.Latest()
	if latest == nil {
		return 0
	}
	return latest.FrameID + 1
}

// Age returns how long ago the given record was captured, relative to
// now.
func Age(rec *frame.Record) time.Duration {
	if rec == nil {
		return 0
	}
	capturedAt := time.Unix(0, int64(rec.Timestamp*float64(time.Second)))
	return time.Since(capturedAt)
}
