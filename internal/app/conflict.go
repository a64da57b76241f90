package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"mane_reservas/internal/domain"
)

const (
	MsgSubmitGeneric    = "Não foi possível concluir sua reserva agora. Tente novamente."
	MsgSubmitNoCapacity = "Essa área não possui vagas para a quantidade escolhida. Ajuste o total ou escolha outra área."
	MsgLookupNotFound   = "Reserva não encontrada."
	MsgLookupFailed     = "Falha ao consultar reserva."
	MsgLookupEmpty      = "Informe o código da reserva"

	attributionSource = "site"
	isoMillis         = "2006-01-02T15:04:05.000Z"
	defaultUnitLabel  = "Mané Mercado"
)

// backendError is what the transport returns for a non-2xx answer.
type backendError interface {
	error
	Detail() string
	ActiveReservationConflict() (string, bool)
}

// SubmissionError is a step-scoped failure shown as a banner. BackToArea asks
// the wizard to return to the area step (server-side capacity rejection).
type SubmissionError struct {
	Message    string
	BackToArea bool
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Labels are the display names of the chosen unit and area at submit time.
type Labels struct {
	Unit string
	Area string
}

// SubmitResult is the reservation the wizard confirms with. Recovered is set
// when the backend already held an active reservation for the guest.
type SubmitResult struct {
	Record    domain.ReservationRecord
	Snapshot  domain.Snapshot
	Recovered bool
}

// ReservationManager creates reservations, turns the "already has an active
// reservation" conflict into a successful confirmation, and reconciles local
// state with the server record.
type ReservationManager struct {
	api    domain.ReservationAPI
	snaps  *SnapshotRepository
	events domain.EventPublisher
	res    *AvailabilityResolver
	clock  Clock
	loc    *time.Location
}

func NewReservationManager(api domain.ReservationAPI, snaps *SnapshotRepository, events domain.EventPublisher, res *AvailabilityResolver, clock Clock, loc *time.Location) *ReservationManager {
	return &ReservationManager{api: api, snaps: snaps, events: events, res: res, clock: clock, loc: loc}
}

// BuildPayload normalizes the selection into the wire payload.
func (m *ReservationManager) BuildPayload(sel domain.BookingSelection) (domain.CreateReservationRequest, error) {
	at, err := JoinDateTime(sel.Date, sel.Time, m.loc)
	if err != nil {
		return domain.CreateReservationRequest{}, err
	}
	req := domain.CreateReservationRequest{
		FullName:    strings.TrimSpace(sel.Guest.FullName),
		CPF:         OnlyDigits(sel.Guest.CPF),
		People:      sel.PartySize(),
		Kids:        max(sel.Children, 0),
		ReservedAt:  at.UTC().Format(isoMillis),
		Email:       strings.TrimSpace(sel.Guest.Email),
		Phone:       OnlyDigits(sel.Guest.Phone),
		UnitID:      sel.UnitID,
		AreaID:      sel.AreaID,
		UTMSource:   attributionSource,
		UTMCampaign: sel.UnitID + ":" + sel.AreaID,
		Source:      attributionSource,
	}
	if b := sel.Guest.Birthday; b != nil && !b.IsZero() {
		req.BirthdayDate = StartOfDay(b.In(m.loc)).UTC().Format(isoMillis)
	}
	return req, nil
}

// Submit posts the reservation. On success and on the active-reservation
// conflict the authoritative record is persisted as the snapshot under key.
// Any other failure comes back as a *SubmissionError.
func (m *ReservationManager) Submit(ctx context.Context, key string, sel domain.BookingSelection, labels Labels) (SubmitResult, error) {
	req, err := m.BuildPayload(sel)
	if err != nil {
		return SubmitResult{}, &SubmissionError{Message: MsgSubmitGeneric, Err: err}
	}

	raw, err := m.api.CreateReservation(ctx, req)
	if err != nil {
		return m.recover(ctx, key, labels, err)
	}

	c := mapCreated(raw)
	if c.ID == "" {
		return SubmitResult{}, &SubmissionError{Message: MsgSubmitGeneric, Err: fmt.Errorf("create reservation: response without id")}
	}

	rec, err := m.Fetch(ctx, c.ID)
	if err != nil {
		log.Warn().Err(err).Str("reservation_id", c.ID).Msg("authoritative fetch failed; using local payload")
		rec = m.localRecord(c, req)
	}
	if rec.HumanCode == "" {
		rec.HumanCode = c.Code
	}
	if rec.Status == "" {
		rec.Status = c.Status
	}
	fillLabels(&rec, labels)

	out := SubmitResult{Record: rec, Snapshot: m.persist(ctx, key, rec)}
	m.publish(ctx, rec)
	log.Info().Str("reservation_id", rec.ID).Str("code", rec.HumanCode).Str("unit", rec.UnitID).Msg("reservation created")
	return out, nil
}

func (m *ReservationManager) recover(ctx context.Context, key string, labels Labels, err error) (SubmitResult, error) {
	var be backendError
	hasBackend := errors.As(err, &be)

	if hasBackend {
		if id, ok := be.ActiveReservationConflict(); ok {
			rec, ferr := m.Fetch(ctx, id)
			if ferr != nil {
				return SubmitResult{}, &SubmissionError{Message: MsgSubmitGeneric, Err: ferr}
			}
			fillLabels(&rec, labels)
			log.Info().Str("reservation_id", id).Msg("guest already holds an active reservation; reusing it")
			return SubmitResult{Record: rec, Snapshot: m.persist(ctx, key, rec), Recovered: true}, nil
		}
	}
	if errors.Is(err, domain.ErrNoCapacity) {
		return SubmitResult{}, &SubmissionError{Message: MsgSubmitNoCapacity, BackToArea: true, Err: err}
	}
	msg := MsgSubmitGeneric
	if hasBackend && strings.TrimSpace(be.Detail()) != "" {
		msg = be.Detail()
	}
	log.Warn().Err(err).Msg("reservation submission failed")
	return SubmitResult{}, &SubmissionError{Message: msg, Err: err}
}

// Fetch loads the authoritative record of an active reservation.
func (m *ReservationManager) Fetch(ctx context.Context, id string) (domain.ReservationRecord, error) {
	raw, err := m.api.ActiveReservation(ctx, id)
	if err != nil {
		return domain.ReservationRecord{}, fmt.Errorf("fetch reservation %s: %w", id, err)
	}
	rec := mapReservation(raw)
	if rec.ID == "" {
		rec.ID = id
	}
	return rec, nil
}

// LookupByCode finds a reservation by its human code.
func (m *ReservationManager) LookupByCode(ctx context.Context, code string) (domain.ReservationRecord, domain.Snapshot, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return domain.ReservationRecord{}, domain.Snapshot{}, ValidationErrors{"code": MsgLookupEmpty}
	}
	raw, err := m.api.LookupByCode(ctx, code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ReservationRecord{}, domain.Snapshot{}, fmt.Errorf("%s: %w", MsgLookupNotFound, err)
		}
		return domain.ReservationRecord{}, domain.Snapshot{}, fmt.Errorf("%s: %w", MsgLookupFailed, err)
	}
	rec := mapReservation(raw)
	if rec.HumanCode == "" {
		rec.HumanCode = code
	}
	if rec.UnitLabel == "" || rec.AreaLabel == "" {
		l := m.labelsFor(ctx, rec.UnitID, rec.AreaID)
		fillLabels(&rec, l)
	}
	if rec.UnitLabel == "" {
		rec.UnitLabel = defaultUnitLabel
	}
	return rec, SnapshotFromRecord(rec, m.api.QRCodeURL(rec.ID), m.loc), nil
}

// labelsFor resolves display names from the unit list and static areas.
func (m *ReservationManager) labelsFor(ctx context.Context, unitID, areaID string) Labels {
	var l Labels
	if m.res == nil || unitID == "" {
		return l
	}
	if units, err := m.res.Units(ctx); err == nil {
		for _, u := range units {
			if u.ID == unitID {
				l.Unit = u.Name
			}
		}
	}
	if areaID != "" {
		if areas, err := m.res.StaticAreas(ctx, unitID); err == nil {
			if a, ok := FindArea(areas, areaID); ok {
				l.Area = a.Name
			}
		}
	}
	return l
}

func (m *ReservationManager) persist(ctx context.Context, key string, rec domain.ReservationRecord) domain.Snapshot {
	snap := SnapshotFromRecord(rec, m.api.QRCodeURL(rec.ID), m.loc)
	if key == "" {
		return snap
	}
	if err := m.snaps.Save(ctx, key, snap); err != nil {
		log.Warn().Err(err).Str("reservation_id", rec.ID).Msg("persist snapshot failed")
	}
	return snap
}

func (m *ReservationManager) publish(ctx context.Context, rec domain.ReservationRecord) {
	if m.events == nil {
		return
	}
	ev := domain.ReservationConfirmedEvent{
		ReservationID: rec.ID,
		Code:          rec.HumanCode,
		UnitID:        rec.UnitID,
		UnitLabel:     rec.UnitLabel,
		AreaID:        rec.AreaID,
		AreaLabel:     rec.AreaLabel,
		ReservedFor:   rec.ReservationInstant.UTC().Format(time.RFC3339),
		People:        rec.PartySize,
		Kids:          rec.ChildCount,
		Status:        string(rec.Status),
		Source:        attributionSource,
		ConfirmedAt:   m.clock.Now().UTC().Format(time.RFC3339),
	}
	if err := m.events.PublishReservationConfirmed(ctx, ev); err != nil {
		log.Warn().Err(err).Str("reservation_id", rec.ID).Msg("publish reservation.confirmed failed")
	}
}

func (m *ReservationManager) localRecord(c created, req domain.CreateReservationRequest) domain.ReservationRecord {
	rec := domain.ReservationRecord{
		ID:         c.ID,
		HumanCode:  c.Code,
		UnitID:     req.UnitID,
		AreaID:     req.AreaID,
		PartySize:  req.People,
		ChildCount: req.Kids,
		GuestName:  req.FullName,
		GuestCPF:   req.CPF,
		GuestEmail: req.Email,
		GuestPhone: req.Phone,
		Status:     c.Status,
	}
	if t, ok := parseInstant(req.ReservedAt); ok {
		rec.ReservationInstant = t
	}
	return rec
}

func fillLabels(rec *domain.ReservationRecord, l Labels) {
	if rec.UnitLabel == "" {
		rec.UnitLabel = l.Unit
	}
	if rec.AreaLabel == "" {
		rec.AreaLabel = l.Area
	}
}
