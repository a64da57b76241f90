package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"mane_reservas/internal/domain"
)

const (
	snapshotDateLayout = "02/01/2006"
	snapshotTimeLayout = "15:04"
)

// definitiveError is implemented by backend errors that will not change on
// retry (4xx answers).
type definitiveError interface {
	error
	Definitive() bool
}

// SnapshotRepository is the only way in or out of the persisted reservation
// snapshot. Callers never touch the storage medium.
type SnapshotRepository struct {
	cache domain.Cache
	api   domain.ReservationAPI
	ttl   time.Duration
}

func NewSnapshotRepository(c domain.Cache, api domain.ReservationAPI, ttl time.Duration) *SnapshotRepository {
	return &SnapshotRepository{cache: c, api: api, ttl: ttl}
}

func slotKey(key string) string { return "last:" + key }

// Load returns the stored snapshot. A corrupt or id-less slot is cleared and
// reported as a miss.
func (r *SnapshotRepository) Load(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	var s domain.Snapshot
	ok, err := r.cache.Get(ctx, slotKey(key), &s)
	if err != nil && !ok {
		return domain.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		return domain.Snapshot{}, false, nil
	}
	if err != nil || s.ID == "" {
		log.Warn().Err(err).Str("key", key).Msg("discarding unreadable snapshot")
		_ = r.cache.Del(ctx, slotKey(key))
		return domain.Snapshot{}, false, nil
	}
	return s, true, nil
}

func (r *SnapshotRepository) Save(ctx context.Context, key string, s domain.Snapshot) error {
	if s.ID == "" {
		return fmt.Errorf("save snapshot: empty id")
	}
	return r.cache.Set(ctx, slotKey(key), s, int(r.ttl.Seconds()))
}

func (r *SnapshotRepository) Clear(ctx context.Context, key string) error {
	return r.cache.Del(ctx, slotKey(key))
}

// ValidateAgainstServer trusts the stored snapshot only if the backend still
// reports the reservation active. Definitive rejections and inactive statuses
// clear the slot; transport failures keep it and return the error (fail open).
func (r *SnapshotRepository) ValidateAgainstServer(ctx context.Context, key string) (domain.Snapshot, bool, error) {
	s, ok, err := r.Load(ctx, key)
	if err != nil || !ok {
		return domain.Snapshot{}, false, err
	}

	raw, err := r.api.ReservationStatus(ctx, s.ID)
	if err != nil {
		var de definitiveError
		if errors.Is(err, domain.ErrNotFound) || (errors.As(err, &de) && de.Definitive()) {
			log.Info().Str("reservation_id", s.ID).Msg("snapshot no longer known by server; clearing")
			return domain.Snapshot{}, false, r.Clear(ctx, key)
		}
		return domain.Snapshot{}, false, fmt.Errorf("validate snapshot %s: %w", s.ID, err)
	}

	st := domain.NormalizeStatus(lookupStr(raw, "status"))
	if !st.Active() {
		log.Info().Str("reservation_id", s.ID).Str("status", string(st)).Msg("snapshot reservation inactive; clearing")
		return domain.Snapshot{}, false, r.Clear(ctx, key)
	}
	return s, true, nil
}

// SnapshotFromRecord denormalizes a record for display after a reload.
func SnapshotFromRecord(rec domain.ReservationRecord, qrURL string, loc *time.Location) domain.Snapshot {
	s := domain.Snapshot{
		ID:        rec.ID,
		Code:      rec.HumanCode,
		QRURL:     qrURL,
		UnitLabel: rec.UnitLabel,
		AreaName:  rec.AreaLabel,
		People:    rec.PartySize,
		Kids:      rec.ChildCount,
		FullName:  rec.GuestName,
		CPF:       rec.GuestCPF,
		EmailHint: rec.GuestEmail,
	}
	if !rec.ReservationInstant.IsZero() {
		at := rec.ReservationInstant.In(loc)
		s.ReservationAt = at
		s.DateStr = at.Format(snapshotDateLayout)
		s.TimeStr = at.Format(snapshotTimeLayout)
	}
	return s
}
