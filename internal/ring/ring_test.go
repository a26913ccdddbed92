package ring

import (
	"testing"

	"github.com/warpcomdev/camerad/internal/frame"
)

func record(id uint64, ts float64) *frame.Record {
	return &frame.Record{FrameID: id, Timestamp: ts, DarkScore: 10}
}

func TestAppendCapacity(t *testing.T) {
	r := New(3)
	for i := uint64(0); i < 5; i++ {
		r.Append(record(i, float64(i)))
	}
	if got, want := r.Len(), 3; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	last := r.Last(3)
	if len(last) != 3 {
		t.Fatalf("Last(3) returned %d records, want 3", len(last))
	}
	wantIDs := []uint64{2, 3, 4}
	for i, rec := range last {
		if rec.FrameID != wantIDs[i] {
			t.Fatalf("Last(3)[%d].FrameID = %d, want %d", i, rec.FrameID, wantIDs[i])
		}
	}
}

func TestMonotonicIDs(t *testing.T) {
	r := New(10)
	var last uint64
	for i := uint64(0); i < 20; i++ {
		r.Append(record(i, float64(i)))
		if i > 0 && r.Latest().FrameID <= last {
			t.Fatalf("frame ids not monotonic: %d after %d", r.Latest().FrameID, last)
		}
		last = r.Latest().FrameID
	}
}

func TestLastN(t *testing.T) {
	r := New(5)
	if got := r.Last(3); got != nil {
		t.Fatalf("Last(3) on empty ring = %v, want nil", got)
	}
	for i := uint64(0); i < 2; i++ {
		r.Append(record(i, float64(i)))
	}
	if got := r.Last(10); len(got) != 2 {
		t.Fatalf("Last(10) with 2 stored = %d records, want 2", len(got))
	}
}

func TestLastSeconds(t *testing.T) {
	r := New(100)
	for i := uint64(0); i < 50; i++ {
		r.Append(record(i, float64(i)))
	}
	got := r.LastSeconds(2, 10) // 20 frames
	if len(got) != 20 {
		t.Fatalf("LastSeconds(2, 10) = %d records, want 20", len(got))
	}
}

func TestLatestEmpty(t *testing.T) {
	r := New(4)
	if r.Latest() != nil {
		t.Fatal("Latest() on empty ring should be nil")
	}
}

func TestCapacityFloor(t *testing.T) {
	r := New(0)
	if r.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1 for zero request", r.Cap())
	}
}
