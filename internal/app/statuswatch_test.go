package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
)

func TestWatchStatus_StopsOnCheckIn(t *testing.T) {
	var (
		mu    sync.Mutex
		polls int
	)
	api := &fakeAPI{status: func(string) (map[string]any, error) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		switch polls {
		case 1:
			return nil, errors.New("connection refused")
		case 2:
			return map[string]any{"status": "awaiting_checkin"}, nil
		}
		return map[string]any{"status": "CHECKED_IN"}, nil
	}}

	var got []app.StatusEvent
	err := app.WatchStatus(context.Background(), api, "r-1", time.Millisecond, func(ev app.StatusEvent) {
		got = append(got, ev)
	})
	if err != nil {
		t.Fatalf("WatchStatus: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("events = %+v", got)
	}
	if !got[0].Reconnecting {
		t.Fatalf("failed poll should report reconnecting: %+v", got[0])
	}
	if got[1].Status != domain.StatusAwaitingCheckIn || got[1].Reconnecting {
		t.Fatalf("second: %+v", got[1])
	}
	if !got[2].CheckedIn {
		t.Fatalf("third: %+v", got[2])
	}
}

func TestWatchStatus_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	api := &fakeAPI{}
	events := 0
	err := app.WatchStatus(ctx, api, "r-1", time.Hour, func(app.StatusEvent) {
		events++
		cancel()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if events != 1 {
		t.Fatalf("events = %d", events)
	}
}
