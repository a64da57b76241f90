package app_test

import (
	"context"
	"testing"
	"time"

	"mane_reservas/internal/adapters/memory"
	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
)

func TestSessions(t *testing.T) {
	clock := newClock()
	s := app.NewSessions(clock)
	w := app.NewWizard(app.Deps{Policy: domain.DefaultPolicy()}, "")

	ctx, cancel := context.WithCancel(context.Background())
	id := s.Add(w, cancel)
	if got, ok := s.Get(id); !ok || got != w {
		t.Fatal("Get after Add")
	}
	if _, ok := s.Get("not-a-uuid"); ok {
		t.Fatal("malformed id should miss")
	}

	clock.Advance(20 * time.Minute)
	idle := s.Add(app.NewWizard(app.Deps{}, ""), nil)
	clock.Advance(20 * time.Minute)
	s.Get(idle)

	if n := s.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("swept %d", n)
	}
	if ctx.Err() == nil {
		t.Fatal("swept session context should be canceled")
	}
	if s.Len() != 1 {
		t.Fatalf("len = %d", s.Len())
	}
	if !s.Delete(idle) || s.Delete(idle) {
		t.Fatal("Delete should report presence once")
	}
}

func TestBookingService_StartAndLookup(t *testing.T) {
	api := &fakeAPI{
		units: []map[string]any{{"id": "aguas-claras", "name": "Mané Mercado — Águas Claras"}},
		lookup: func(code string) (map[string]any, error) {
			return activeRecord("r-1", code), nil
		},
	}
	clock := newClock()
	svc := app.NewBookingService(api, memory.New(), &fakeEvents{}, app.BookingConfig{
		Clock:       clock,
		Location:    saoPaulo,
		Policy:      domain.DefaultPolicy(),
		SnapshotTTL: time.Hour,
		CatalogTTL:  time.Minute,
	})
	ctx := context.Background()

	id, w := svc.Start(ctx, "device-1")
	if got, ok := svc.Sessions.Get(id); !ok || got != w {
		t.Fatal("session not registered")
	}
	if w.Calendar() == nil {
		t.Fatal("session should own a calendar probe")
	}
	if len(w.View().Units) != 1 {
		t.Fatalf("units: %+v", w.View().Units)
	}
	svc.Sessions.Delete(id)

	bp, err := svc.Lookup(ctx, "jt5wk6")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if bp.Code != "JT5WK6" || bp.UnitCode != "MMAC" || bp.CPF != "123.***.***-01" {
		t.Fatalf("pass: %+v", bp)
	}
}
