package clock

import (
	"testing"
	"time"
)

func TestClampBPM(t *testing.T) {
	cases := []struct {
		in, want int
	}{
		{120, 120},
		{59, 60},
		{0, 60},
		{-5, 60},
		{201, 200},
		{1000, 200},
		{60, 60},
		{200, 200},
	}
	for _, c := range cases {
		if got := ClampBPM(c.in); got != c.want {
			t.Errorf("ClampBPM(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestSubdivisionInterval(t *testing.T) {
	cases := []struct {
		bpm, sub int
		want     time.Duration
	}{
		{120, 4, 500 * time.Millisecond},
		{120, 16, 125 * time.Millisecond},
		{120, 32, 62500 * time.Microsecond},
		{60, 8, 500 * time.Millisecond},
		{0, 16, 125 * time.Millisecond},    // invalid bpm falls back to 120
		{5000, 16, 125 * time.Millisecond}, // so does an absurd one
		{120, 0, 125 * time.Millisecond},   // invalid subdivision falls back to 16
		{120, 128, 125 * time.Millisecond},
		{1000, 64, 5 * time.Millisecond}, // 3.75ms floors to 5ms
	}
	for _, c := range cases {
		if got := SubdivisionInterval(c.bpm, c.sub); got != c.want {
			t.Errorf("SubdivisionInterval(%d, %d) = %v, want %v", c.bpm, c.sub, got, c.want)
		}
	}
}

func TestPositionAt(t *testing.T) {
	cases := []struct {
		steps, sub, bpb int
		want            Position
	}{
		{0, 16, 4, Position{1, 1, 1}},
		{1, 16, 4, Position{1, 1, 2}},
		{4, 16, 4, Position{1, 2, 1}},
		{15, 16, 4, Position{1, 4, 4}},
		{16, 16, 4, Position{2, 1, 1}},
		{3, 4, 3, Position{2, 1, 1}},
		{7, 8, 4, Position{1, 4, 2}},
	}
	for _, c := range cases {
		if got := PositionAt(c.steps, c.sub, c.bpb); got != c.want {
			t.Errorf("PositionAt(%d, %d, %d) = %+v, want %+v", c.steps, c.sub, c.bpb, got, c.want)
		}
	}
}

func TestNextDelayAlignsToBoundary(t *testing.T) {
	interval := 125 * time.Millisecond
	cases := []struct {
		elapsed, want time.Duration
	}{
		{0, 125 * time.Millisecond},
		{130 * time.Millisecond, 120 * time.Millisecond},
		{249 * time.Millisecond, 5 * time.Millisecond}, // floor
		{250 * time.Millisecond, 125 * time.Millisecond},
	}
	for _, c := range cases {
		if got := NextDelay(c.elapsed, interval); got != c.want {
			t.Errorf("NextDelay(%v) = %v, want %v", c.elapsed, got, c.want)
		}
	}
}

func TestNextSubdivisionCycles(t *testing.T) {
	s := 4
	seen := []int{}
	for i := 0; i < 5; i++ {
		s = NextSubdivision(s)
		seen = append(seen, s)
	}
	want := []int{8, 16, 32, 4, 8}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("cycle = %v, want %v", seen, want)
		}
	}
	if NextSubdivision(7) != DefaultSubdivision {
		t.Fatal("unknown subdivision should reset to default")
	}
}

func TestRescale(t *testing.T) {
	if got := Rescale(1000*time.Millisecond, 125*time.Millisecond, 250*time.Millisecond); got != 2000*time.Millisecond {
		t.Fatalf("Rescale = %v, want 2s", got)
	}
	if got := Rescale(time.Second, 0, time.Millisecond); got != time.Second {
		t.Fatalf("zero old interval should pass through, got %v", got)
	}
}
