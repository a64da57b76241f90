package domain

import "context"

// ReservationAPI is the booking backend. Read paths return raw payloads;
// normalization happens in the app layer.
type ReservationAPI interface {
	ListUnits(ctx context.Context) ([]map[string]any, error)
	AreasByUnit(ctx context.Context, unitID string) ([]map[string]any, error)
	Availability(ctx context.Context, unitID, date, hhmm string) ([]map[string]any, error)
	CreateReservation(ctx context.Context, req CreateReservationRequest) (map[string]any, error)
	ActiveReservation(ctx context.Context, id string) (map[string]any, error)
	ReservationStatus(ctx context.Context, id string) (map[string]any, error)
	LookupByCode(ctx context.Context, code string) (map[string]any, error)
	QRCodeURL(id string) string
}

// Cache is a key-value slot holding JSON values.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// EventPublisher fans reservation events out to downstream consumers.
type EventPublisher interface {
	PublishReservationConfirmed(ctx context.Context, ev ReservationConfirmedEvent) error
}
