// SPDX-License-Identifier: MIT

package clock

import (
	"context"
	"testing"
	"time"
)

func TestFakeAdvance(t *testing.T) {
	start := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	f := NewFake(start)

	if !f.Now().Equal(start) {
		t.Fatalf("Now() = %v, want %v", f.Now(), start)
	}

	f.Advance(90 * time.Second)
	if got := f.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now() after Advance = %v", got)
	}
}

func TestFakeSleepAdvancesWithoutBlocking(t *testing.T) {
	f := NewFake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		_ = f.Sleep(context.Background(), time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fake Sleep blocked")
	}
	if got := f.Now(); !got.Equal(time.Unix(0, 0).Add(time.Hour)) {
		t.Fatalf("fake time = %v, want +1h", got)
	}
}

func TestSystemSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := System().Sleep(ctx, time.Minute)
	if err != context.Canceled {
		t.Fatalf("Sleep() = %v, want context.Canceled", err)
	}
}

func TestJitterBounds(t *testing.T) {
	d := time.Second
	for i := 0; i < 200; i++ {
		j := Jitter(d, 0.7, 1.3)
		if j < 700*time.Millisecond || j > 1300*time.Millisecond {
			t.Fatalf("Jitter out of bounds: %v", j)
		}
	}
}
