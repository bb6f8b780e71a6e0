package gateway

import (
	"testing"
	"time"
)

func TestBackoff_DoublesToCap(t *testing.T) {
	b := NewBackoff(10*time.Second, 10*time.Minute)
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d := b.Next()
		if d < prev {
			t.Fatalf("step %d: %v < previous %v", i, d, prev)
		}
		if d > 10*time.Minute {
			t.Fatalf("step %d: %v exceeds cap", i, d)
		}
		prev = d
	}
	if prev != 10*time.Minute {
		t.Errorf("settled at %v, want cap", prev)
	}
}

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(10*time.Second, time.Minute)
	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, time.Minute, time.Minute}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Errorf("Next() #%d = %v, want %v", i, got, w)
		}
	}
	b.Reset()
	if got := b.Next(); got != 10*time.Second {
		t.Errorf("after Reset: %v, want floor", got)
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(0, 0)
	if b.Floor != DefaultBackoffFloor || b.Cap != DefaultBackoffCap {
		t.Errorf("got %v..%v", b.Floor, b.Cap)
	}
	b = NewBackoff(time.Hour, time.Minute)
	if b.Cap != time.Hour {
		t.Errorf("cap below floor: got %v, want %v", b.Cap, time.Hour)
	}
}
