package app_test

import (
	"testing"
	"time"

	"mane_reservas/internal/app"
)

func TestWaitRotator(t *testing.T) {
	r := app.StartWaitRotator(time.Millisecond)
	if r.Current() == "" {
		t.Fatal("empty message")
	}

	deadline := time.Now().Add(2 * time.Second)
	for r.Current() == app.WaitMessages[0] {
		if time.Now().After(deadline) {
			t.Fatal("rotator never advanced")
		}
		time.Sleep(time.Millisecond)
	}

	r.Stop()
	frozen := r.Current()
	time.Sleep(10 * time.Millisecond)
	if r.Current() != frozen {
		t.Fatal("rotator kept running after Stop")
	}
	r.Stop()
}

func TestWaitRotator_ZeroIntervalUsesDefault(t *testing.T) {
	r := app.StartWaitRotator(0)
	defer r.Stop()
	if got := r.Current(); got != app.WaitMessages[0] {
		t.Fatalf("Current = %q", got)
	}
}
