package app

import (
	"context"
	"fmt"
	"time"

	"mane_reservas/internal/domain"
)

// Catalog serves the session-immutable lists (units, static areas) through a
// read-through cache shared by every session.
type Catalog struct {
	api      domain.ReservationAPI
	cache    domain.Cache
	cacheTTL time.Duration
}

// NewCatalog with a nil cache always goes to the backend.
func NewCatalog(api domain.ReservationAPI, c domain.Cache, ttl time.Duration) *Catalog {
	return &Catalog{api: api, cache: c, cacheTTL: ttl}
}

func (s *Catalog) Units(ctx context.Context) ([]domain.Unit, error) {
	const key = "catalog:units"
	var out []domain.Unit
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}
	raw, err := s.api.ListUnits(ctx)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	out = mapUnits(raw)
	if s.cache != nil && len(out) > 0 {
		_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	}
	return out, nil
}

func (s *Catalog) StaticAreas(ctx context.Context, unitID string) ([]domain.Area, error) {
	key := "catalog:areas:" + unitID
	var out []domain.Area
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &out); ok {
			return out, nil
		}
	}
	raw, err := s.api.AreasByUnit(ctx, unitID)
	if err != nil {
		return nil, fmt.Errorf("areas by unit %s: %w", unitID, err)
	}
	out = mapAreasStatic(raw)
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, out, int(s.cacheTTL.Seconds()))
	}
	// copy so callers can't mutate what the next session sees
	return append([]domain.Area(nil), out...), nil
}
