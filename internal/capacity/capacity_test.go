package capacity

import "testing"

func TestPlanCapsAtRequested(t *testing.T) {
	available := uint64(1) << 30 // 1 GiB
	got := Plan(available, 256, 192, 1000)
	if got != 1000 {
		t.Fatalf("Plan() = %d, want 1000", got)
	}
}

func TestPlanCapsAtMemoryBudget(t *testing.T) {
	available := uint64(1) << 30 // 1 GiB
	got := Plan(available, 256, 192, 100000)
	if got >= 100000 {
		t.Fatalf("Plan() = %d, want < 100000", got)
	}
	bytesPerImage := BytesPerImage(256, 192)
	wantMax := int(float64(available) * budgetFraction / float64(bytesPerImage))
	if got != wantMax {
		t.Fatalf("Plan() = %d, want %d", got, wantMax)
	}
}

func TestPlanFloorsAtOne(t *testing.T) {
	got := Plan(1, 4096, 4096, 100)
	if got != 1 {
		t.Fatalf("Plan() = %d, want floor of 1", got)
	}
}
