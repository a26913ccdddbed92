package nightmode

import "testing"

func TestHysteresisSequence(t *testing.T) {
	c := New(Params{DarkThreshold: 35, BrightThreshold: 55, MinDarkFrames: 3}, nil)
	scores := []float64{40, 30, 30, 30, 40, 60, 20, 20}
	want := []Event{None, None, None, Enter, None, Exit, None, None}

	for i, score := range scores {
		got := c.Update(score)
		if got != want[i] {
			t.Fatalf("Update(%v) at step %d = %v, want %v", score, i, got, want[i])
		}
	}
}

func TestEnterRequiresConsecutiveDarkFrames(t *testing.T) {
	c := New(Params{DarkThreshold: 35, BrightThreshold: 55, MinDarkFrames: 3}, nil)
	c.Update(20)
	c.Update(20)
	c.Update(40) // resets streak
	if c.Active() {
		t.Fatal("should not be active yet")
	}
	if got := c.Update(20); got != None {
		t.Fatalf("Update = %v, want None", got)
	}
	if got := c.Update(20); got != None {
		t.Fatalf("Update = %v, want None", got)
	}
	if got := c.Update(20); got != Enter {
		t.Fatalf("Update = %v, want Enter", got)
	}
}

func TestExitOnSingleBrightFrame(t *testing.T) {
	c := New(Params{DarkThreshold: 35, BrightThreshold: 55, MinDarkFrames: 1}, nil)
	c.Update(10)
	if !c.Active() {
		t.Fatal("expected active after one dark frame with MinDarkFrames=1")
	}
	if got := c.Update(60); got != Exit {
		t.Fatalf("Update = %v, want Exit", got)
	}
	if c.Active() {
		t.Fatal("expected inactive after exit")
	}
}
