package connection

import (
	"testing"
	"time"
)

func TestBackoffDefaultSequence(t *testing.T) {
	b := NewBackoff()
	expected := []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, exp := range expected {
		base := b.Current()
		b.Next()
		if base != exp {
			t.Errorf("attempt %d: base = %v, want %v", i, base, exp)
		}
	}
	if b.Attempts() != len(expected) {
		t.Errorf("Attempts() = %d, want %d", b.Attempts(), len(expected))
	}
}

func TestBackoffJitter(t *testing.T) {
	b := NewBackoff()
	upper := time.Duration(float64(InitialBackoff) * (1 + JitterFactor))

	samples := make([]time.Duration, 20)
	for i := range samples {
		samples[i] = b.Peek()
		if samples[i] < InitialBackoff || samples[i] > upper {
			t.Errorf("sample %d = %v, outside [%v, %v]", i, samples[i], InitialBackoff, upper)
		}
	}
	allSame := true
	for _, s := range samples[1:] {
		if s != samples[0] {
			allSame = false
			break
		}
	}
	if allSame {
		t.Error("jitter did not vary across samples")
	}
}

func TestBackoffReset(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Initial: 10 * time.Millisecond, Max: time.Second})
	for i := 0; i < 4; i++ {
		b.Next()
	}
	if b.Current() != 160*time.Millisecond {
		t.Errorf("Current() = %v, want 160ms", b.Current())
	}
	b.Reset()
	if b.Current() != 10*time.Millisecond || b.Attempts() != 0 {
		t.Errorf("after Reset: current=%v attempts=%d", b.Current(), b.Attempts())
	}
}

func TestBackoffConfigDefaults(t *testing.T) {
	b := NewBackoffWithConfig(BackoffConfig{Multiplier: 0.5, Jitter: -1})
	if b.initial != InitialBackoff || b.max != MaxBackoff || b.multiplier != BackoffMultiplier {
		t.Errorf("defaults not applied: %+v", b)
	}
	if got := b.Peek(); got != InitialBackoff {
		t.Errorf("Peek() = %v, want %v without jitter", got, InitialBackoff)
	}

	b = NewBackoffWithConfig(BackoffConfig{Initial: time.Minute, Max: time.Second})
	if b.max != time.Minute {
		t.Errorf("max = %v, want it raised to initial", b.max)
	}
}

func TestBackoffSequence(t *testing.T) {
	seq := NewBackoff().Sequence()
	if len(seq) != 7 {
		t.Fatalf("Sequence() has %d elements, want 7: %v", len(seq), seq)
	}
	if seq[0] != InitialBackoff {
		t.Errorf("first = %v, want %v", seq[0], InitialBackoff)
	}
	if seq[len(seq)-1] != MaxBackoff {
		t.Errorf("last = %v, want %v", seq[len(seq)-1], MaxBackoff)
	}
}
