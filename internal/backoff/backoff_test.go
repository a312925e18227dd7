package backoff

import (
	"testing"
	"time"
)

func TestDelay_GrowsExponentially(t *testing.T) {
	p := New(time.Second, time.Minute, 0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{6, 32 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestDelay_CapsAtMax(t *testing.T) {
	p := New(time.Second, 10*time.Second, 0)
	for attempt := 5; attempt <= 30; attempt++ {
		if got := p.Delay(attempt); got != 10*time.Second {
			t.Errorf("Delay(%d) = %v, want cap %v", attempt, got, 10*time.Second)
		}
	}
}

func TestDelay_JitterStaysInWindow(t *testing.T) {
	p := New(time.Second, time.Minute, 5*time.Second)
	for i := 0; i < 100; i++ {
		got := p.Delay(1)
		if got < time.Second || got >= 6*time.Second {
			t.Fatalf("Delay(1) = %v, want in [1s, 6s)", got)
		}
	}
}

func TestDelay_ClampsAttemptBelowOne(t *testing.T) {
	p := New(time.Second, time.Minute, 0)
	if got := p.Delay(0); got != time.Second {
		t.Errorf("Delay(0) = %v, want %v", got, time.Second)
	}
}
