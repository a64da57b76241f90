package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"mane_reservas/internal/adapters/maneapi"
	"mane_reservas/internal/adapters/memory"
	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
)

func newManager(api *fakeAPI) (*app.ReservationManager, *app.SnapshotRepository, *fakeEvents) {
	repo := app.NewSnapshotRepository(memory.New(), api, time.Hour)
	ev := &fakeEvents{}
	m := app.NewReservationManager(api, repo, ev, app.NewAvailabilityResolver(api, nil), newClock(), saoPaulo)
	return m, repo, ev
}

func guestSelection() domain.BookingSelection {
	bday := time.Date(1990, 5, 20, 0, 0, 0, 0, saoPaulo)
	return domain.BookingSelection{
		UnitID:   "aguas-claras",
		Adults:   2,
		Children: 1,
		Date:     time.Date(2025, 3, 11, 0, 0, 0, 0, saoPaulo),
		Time:     "12:30",
		AreaID:   "varanda",
		Guest: domain.Guest{
			FullName: " Ana Souza ",
			CPF:      "123.456.789-01",
			Email:    " ana@exemplo.com ",
			Phone:    "(61) 99999-8888",
			Birthday: &bday,
		},
	}
}

func activeRecord(id, code string) map[string]any {
	return map[string]any{
		"id":              id,
		"reservationCode": code,
		"reservationDate": "2025-03-11T15:30:00.000Z",
		"people":          float64(3),
		"kids":            float64(1),
		"unitId":          "aguas-claras",
		"areaId":          "varanda",
		"fullName":        "Ana Souza",
		"cpf":             "12345678901",
		"status":          "AWAITING_CHECKIN",
	}
}

func TestBuildPayload(t *testing.T) {
	m, _, _ := newManager(&fakeAPI{})
	req, err := m.BuildPayload(guestSelection())
	if err != nil {
		t.Fatalf("BuildPayload: %v", err)
	}
	if req.ReservedAt != "2025-03-11T15:30:00.000Z" {
		t.Fatalf("reservationDate = %q", req.ReservedAt)
	}
	if req.BirthdayDate != "1990-05-20T03:00:00.000Z" {
		t.Fatalf("birthdayDate = %q", req.BirthdayDate)
	}
	if req.People != 3 || req.Kids != 1 || req.CPF != "12345678901" || req.Phone != "61999998888" {
		t.Fatalf("unexpected payload: %+v", req)
	}
	if req.FullName != "Ana Souza" || req.Email != "ana@exemplo.com" {
		t.Fatalf("untrimmed fields: %+v", req)
	}
	if req.UTMSource != "site" || req.Source != "site" || req.UTMCampaign != "aguas-claras:varanda" {
		t.Fatalf("attribution: %+v", req)
	}
}

func TestSubmit_SuccessPersistsAndPublishes(t *testing.T) {
	api := &fakeAPI{active: map[string]map[string]any{"r-1": activeRecord("r-1", "JT5WK6")}}
	api.create = func(domain.CreateReservationRequest) (map[string]any, error) {
		return map[string]any{"id": "r-1", "reservationCode": "JT5WK6", "status": "AWAITING_CHECKIN"}, nil
	}
	m, repo, ev := newManager(api)
	ctx := context.Background()

	res, err := m.Submit(ctx, "device-1", guestSelection(), app.Labels{Unit: "Mané Mercado — Águas Claras", Area: "Varanda"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Recovered || res.Record.ID != "r-1" || res.Snapshot.Code != "JT5WK6" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Snapshot.UnitLabel != "Mané Mercado — Águas Claras" || res.Snapshot.AreaName != "Varanda" {
		t.Fatalf("labels not carried: %+v", res.Snapshot)
	}
	if s, ok, _ := repo.Load(ctx, "device-1"); !ok || s.ID != "r-1" || s.QRURL == "" {
		t.Fatalf("snapshot not persisted: %+v", s)
	}
	if ev.count() != 1 || ev.got[0].ReservationID != "r-1" || ev.got[0].Source != "site" {
		t.Fatalf("event not published: %+v", ev.got)
	}
}

func TestSubmit_ConflictIsIdempotent(t *testing.T) {
	api := &fakeAPI{active: map[string]map[string]any{}}
	api.create = func(domain.CreateReservationRequest) (map[string]any, error) {
		if _, exists := api.active["r-1"]; exists {
			return nil, &maneapi.APIError{Status: 409, Code: domain.ActiveReservationCode, ReservationID: "r-1", Message: "already"}
		}
		api.active["r-1"] = activeRecord("r-1", "JT5WK6")
		return map[string]any{"id": "r-1", "reservationCode": "JT5WK6"}, nil
	}
	m, _, ev := newManager(api)
	ctx := context.Background()

	first, err := m.Submit(ctx, "device-1", guestSelection(), app.Labels{})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second, err := m.Submit(ctx, "device-2", guestSelection(), app.Labels{})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}
	if !second.Recovered {
		t.Fatalf("second submit should recover the existing reservation")
	}
	if first.Record.ID != second.Record.ID || first.Snapshot.Code != second.Snapshot.Code {
		t.Fatalf("confirmations differ: %+v vs %+v", first.Snapshot, second.Snapshot)
	}
	if ev.count() != 1 {
		t.Fatalf("recovered confirmation must not publish again, got %d events", ev.count())
	}
}

func TestSubmit_NoCapacityGoesBackToArea(t *testing.T) {
	api := &fakeAPI{create: func(domain.CreateReservationRequest) (map[string]any, error) {
		return nil, &maneapi.APIError{Status: 422, Code: "NO_CAPACITY", Message: "Sem capacidade"}
	}}
	m, _, _ := newManager(api)

	_, err := m.Submit(context.Background(), "device-1", guestSelection(), app.Labels{})
	var se *app.SubmissionError
	if !errors.As(err, &se) || !se.BackToArea || se.Message != app.MsgSubmitNoCapacity {
		t.Fatalf("expected capacity submission error, got %#v", err)
	}
}

func TestSubmit_OtherErrorsSurfaceServerMessage(t *testing.T) {
	api := &fakeAPI{create: func(domain.CreateReservationRequest) (map[string]any, error) {
		return nil, &maneapi.APIError{Status: 400, Message: "CPF inválido"}
	}}
	m, repo, _ := newManager(api)
	ctx := context.Background()

	_, err := m.Submit(ctx, "device-1", guestSelection(), app.Labels{})
	var se *app.SubmissionError
	if !errors.As(err, &se) || se.BackToArea || se.Message != "CPF inválido" {
		t.Fatalf("expected server message, got %#v", err)
	}
	if _, ok, _ := repo.Load(ctx, "device-1"); ok {
		t.Fatalf("failed submit must not persist a snapshot")
	}

	api.create = func(domain.CreateReservationRequest) (map[string]any, error) {
		return nil, errors.New("context deadline exceeded")
	}
	_, err = m.Submit(ctx, "device-1", guestSelection(), app.Labels{})
	if !errors.As(err, &se) || se.Message != app.MsgSubmitGeneric {
		t.Fatalf("transport errors get the generic banner, got %#v", err)
	}
}

func TestSubmit_FetchFailureFallsBackToPayload(t *testing.T) {
	api := &fakeAPI{create: func(domain.CreateReservationRequest) (map[string]any, error) {
		return map[string]any{"id": "r-7", "reservationCode": "ZZ9ZZ9"}, nil
	}}
	m, _, _ := newManager(api)

	res, err := m.Submit(context.Background(), "device-1", guestSelection(), app.Labels{Unit: "Mané Mercado — Arena Brasília", Area: "Salão"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Record.ID != "r-7" || res.Snapshot.Code != "ZZ9ZZ9" || res.Snapshot.TimeStr != "12:30" || res.Snapshot.People != 3 {
		t.Fatalf("local fallback record: %+v", res.Snapshot)
	}
}

func TestLookupByCode(t *testing.T) {
	api := &fakeAPI{
		units:  []map[string]any{{"id": "aguas-claras", "name": "Mané Mercado — Águas Claras"}},
		static: map[string][]map[string]any{"aguas-claras": {{"id": "varanda", "name": "Varanda"}}},
		lookup: func(code string) (map[string]any, error) {
			if code != "JT5WK6" {
				return nil, &maneapi.APIError{Status: 404}
			}
			r := activeRecord("r-1", "")
			delete(r, "unitId")
			delete(r, "areaId")
			r["utm_campaign"] = "aguas-claras:varanda"
			return r, nil
		},
	}
	m, _, _ := newManager(api)
	ctx := context.Background()

	rec, snap, err := m.LookupByCode(ctx, " jt5wk6 ")
	if err != nil {
		t.Fatalf("LookupByCode: %v", err)
	}
	if rec.HumanCode != "JT5WK6" || snap.UnitLabel != "Mané Mercado — Águas Claras" || snap.AreaName != "Varanda" {
		t.Fatalf("labels from ids: rec=%+v snap=%+v", rec, snap)
	}

	if _, _, err := m.LookupByCode(ctx, "NOPE00"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := m.LookupByCode(ctx, "  "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
