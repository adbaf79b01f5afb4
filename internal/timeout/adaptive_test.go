package timeout

import (
	"testing"
	"time"
)

func TestTimeoutDefaultsToMin(t *testing.T) {
	e := NewEstimator(100*time.Millisecond, 30*time.Second, 10)

	if got := e.Timeout("never-seen"); got != 100*time.Millisecond {
		t.Fatalf("expected min for unknown key, got %v", got)
	}
}

func TestTimeoutIsMeanOfHistory(t *testing.T) {
	e := NewEstimator(100*time.Millisecond, 30*time.Second, 10)
	e.Update("db", 1*time.Second)
	e.Update("db", 3*time.Second)

	if got := e.Timeout("db"); got != 2*time.Second {
		t.Fatalf("expected 2s mean, got %v", got)
	}
}

func TestTimeoutAlwaysClamped(t *testing.T) {
	tests := []struct {
		name    string
		samples []time.Duration
		want    time.Duration
	}{
		{
			name:    "mean below min clamps up",
			samples: []time.Duration{time.Millisecond, 2 * time.Millisecond},
			want:    100 * time.Millisecond,
		},
		{
			name:    "mean above max clamps down",
			samples: []time.Duration{time.Hour},
			want:    5 * time.Second,
		},
		{
			name:    "mean inside range passes through",
			samples: []time.Duration{time.Second},
			want:    time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEstimator(100*time.Millisecond, 5*time.Second, 10)
			for _, s := range tt.samples {
				e.Update("k", s)
			}
			got := e.Timeout("k")
			if got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			if got < 100*time.Millisecond || got > 5*time.Second {
				t.Fatalf("timeout %v escaped [min, max]", got)
			}
		})
	}
}

func TestHistoryIsCapped(t *testing.T) {
	e := NewEstimator(0, time.Minute, 3)
	for i := 0; i < 10; i++ {
		e.Update("k", time.Duration(i)*time.Second)
	}

	if got := e.SampleCount("k"); got != 3 {
		t.Fatalf("expected history capped at 3, got %d", got)
	}
	// Only the last three samples (7s, 8s, 9s) survive; mean is 8s.
	if got := e.Timeout("k"); got != 8*time.Second {
		t.Fatalf("expected 8s mean over retained samples, got %v", got)
	}
}

func TestKeysAreIndependent(t *testing.T) {
	e := NewEstimator(100*time.Millisecond, time.Minute, 10)
	e.Update("fast", 200*time.Millisecond)
	e.Update("slow", 20*time.Second)

	if got := e.Timeout("fast"); got != 200*time.Millisecond {
		t.Fatalf("fast key polluted: %v", got)
	}
	if got := e.Timeout("slow"); got != 20*time.Second {
		t.Fatalf("slow key polluted: %v", got)
	}
}
