package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mane_reservas/internal/domain"
)

type StatusEvent struct {
	Status       domain.ReservationStatus `json:"status,omitempty"`
	Reconnecting bool                     `json:"reconnecting"`
	CheckedIn    bool                     `json:"checkedIn"`
}

type statusSource interface {
	ReservationStatus(ctx context.Context, id string) (map[string]any, error)
}

// WatchStatus polls the reservation status until it is checked in or ctx is
// done. Failed polls report Reconnecting and keep going.
func WatchStatus(ctx context.Context, api statusSource, id string, every time.Duration, emit func(StatusEvent)) error {
	if every <= 0 {
		every = 5 * time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		raw, err := api.ReservationStatus(ctx, id)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Debug().Err(err).Str("reservation_id", id).Msg("status poll failed")
			emit(StatusEvent{Reconnecting: true})
		default:
			st := domain.NormalizeStatus(lookupStr(raw, "status"))
			if st == domain.StatusCheckedIn {
				emit(StatusEvent{Status: st, CheckedIn: true})
				return nil
			}
			emit(StatusEvent{Status: st})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
