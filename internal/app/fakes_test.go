package app_test

import (
	"context"
	"sync"
	"time"

	"mane_reservas/internal/adapters/maneapi"
	"mane_reservas/internal/domain"
)

// ---- fakes ----

type fakeAPI struct {
	mu sync.Mutex

	units      []map[string]any
	unitsErr   error
	static     map[string][]map[string]any
	avail      func(unit, date, hhmm string) ([]map[string]any, error)
	create     func(req domain.CreateReservationRequest) (map[string]any, error)
	active     map[string]map[string]any
	status     func(id string) (map[string]any, error)
	lookup     func(code string) (map[string]any, error)
	creates    []domain.CreateReservationRequest
	availCalls []string
	staticHits int
}

func (f *fakeAPI) ListUnits(ctx context.Context) ([]map[string]any, error) {
	return f.units, f.unitsErr
}

func (f *fakeAPI) AreasByUnit(ctx context.Context, unitID string) ([]map[string]any, error) {
	f.mu.Lock()
	f.staticHits++
	f.mu.Unlock()
	return f.static[unitID], nil
}

func (f *fakeAPI) Availability(ctx context.Context, unitID, date, hhmm string) ([]map[string]any, error) {
	f.mu.Lock()
	f.availCalls = append(f.availCalls, unitID+" "+date+" "+hhmm)
	fn := f.avail
	f.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(unitID, date, hhmm)
}

func (f *fakeAPI) CreateReservation(ctx context.Context, req domain.CreateReservationRequest) (map[string]any, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	fn := f.create
	f.mu.Unlock()
	return fn(req)
}

func (f *fakeAPI) ActiveReservation(ctx context.Context, id string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.active[id]; ok {
		return r, nil
	}
	return nil, &maneapi.APIError{Status: 404, Message: "not found"}
}

func (f *fakeAPI) ReservationStatus(ctx context.Context, id string) (map[string]any, error) {
	if f.status == nil {
		return map[string]any{"status": "AWAITING_CHECKIN"}, nil
	}
	return f.status(id)
}

func (f *fakeAPI) LookupByCode(ctx context.Context, code string) (map[string]any, error) {
	return f.lookup(code)
}

func (f *fakeAPI) QRCodeURL(id string) string { return "http://api.test/v1/reservations/" + id + "/qrcode" }

func (f *fakeAPI) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.availCalls...)
}

type fakeEvents struct {
	mu  sync.Mutex
	got []domain.ReservationConfirmedEvent
}

func (e *fakeEvents) PublishReservationConfirmed(ctx context.Context, ev domain.ReservationConfirmedEvent) error {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
	return nil
}

func (e *fakeEvents) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.got)
}

type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// ---- helpers ----

var saoPaulo = time.FixedZone("BRT", -3*3600)

// newClock starts at 2025-03-10 10:00 local.
func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2025, 3, 10, 10, 0, 0, 0, saoPaulo)}
}

func area(id, name string, remaining int) map[string]any {
	return map[string]any{"id": id, "name": name, "available": float64(remaining)}
}

func ptr[T any](v T) *T { return &v }
