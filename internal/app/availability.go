package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mane_reservas/internal/domain"
)

const dateLayout = "2006-01-02"

// AvailabilityResolver answers capacity questions against the backend.
type AvailabilityResolver struct {
	api     domain.ReservationAPI
	catalog *Catalog
}

// NewAvailabilityResolver with a nil catalog reads static lists uncached.
func NewAvailabilityResolver(api domain.ReservationAPI, cat *Catalog) *AvailabilityResolver {
	if cat == nil {
		cat = NewCatalog(api, nil, 0)
	}
	return &AvailabilityResolver{api: api, catalog: cat}
}

func (r *AvailabilityResolver) Units(ctx context.Context) ([]domain.Unit, error) {
	return r.catalog.Units(ctx)
}

// StaticAreas returns the metadata-only area list of a unit.
func (r *AvailabilityResolver) StaticAreas(ctx context.Context, unitID string) ([]domain.Area, error) {
	return r.catalog.StaticAreas(ctx, unitID)
}

// Scoped fetches remaining capacity per area for unit/day/time and merges the
// static metadata into it. A metadata failure only costs the decorations.
func (r *AvailabilityResolver) Scoped(ctx context.Context, unitID string, day time.Time, hhmm string) ([]domain.Area, error) {
	var (
		static []domain.Area
		avail  []domain.Area
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := r.StaticAreas(gctx, unitID)
		if err != nil {
			log.Warn().Err(err).Str("unit", unitID).Msg("static areas unavailable; using availability only")
			return nil
		}
		static = s
		return nil
	})
	g.Go(func() error {
		raw, err := r.api.Availability(gctx, unitID, day.Format(dateLayout), hhmm)
		if err != nil {
			return fmt.Errorf("availability %s %s %s: %w", unitID, day.Format(dateLayout), hhmm, err)
		}
		avail = mapAvailability(raw)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return mergeAreas(static, avail), nil
}

// HasCapacity reports whether any area can take party at unit/day/time.
func (r *AvailabilityResolver) HasCapacity(ctx context.Context, unitID string, day time.Time, hhmm string, party int) (bool, error) {
	raw, err := r.api.Availability(ctx, unitID, day.Format(dateLayout), hhmm)
	if err != nil {
		return false, err
	}
	for _, a := range mapAvailability(raw) {
		if a.Fits(party) {
			return true, nil
		}
	}
	return false, nil
}

// Reselect keeps current when it still fits party, otherwise picks the first
// area that does; "" when none fits.
func Reselect(areas []domain.Area, current string, party int) string {
	for _, a := range areas {
		if a.ID == current && a.Fits(party) {
			return current
		}
	}
	for _, a := range areas {
		if a.Fits(party) {
			return a.ID
		}
	}
	return ""
}

// FindArea returns the area with id, if listed.
func FindArea(areas []domain.Area, id string) (domain.Area, bool) {
	for _, a := range areas {
		if a.ID == id {
			return a, true
		}
	}
	return domain.Area{}, false
}
