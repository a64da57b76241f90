package maneapi

import (
	"fmt"
	"net/http"
	"strings"

	"mane_reservas/internal/domain"
)

// APIError is a non-2xx answer from the backend, with whatever the payload
// told us about it.
type APIError struct {
	Status        int
	Code          string
	Message       string
	ReservationID string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("mane api %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("mane api %d: %s", e.Status, e.Message)
}

// Is maps HTTP statuses onto the domain sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case domain.ErrNotFound:
		return e.Status == http.StatusNotFound || e.Status == http.StatusGone
	case domain.ErrConflict:
		return e.Status == http.StatusConflict
	case domain.ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case domain.ErrForbidden:
		return e.Status == http.StatusForbidden
	case domain.ErrNoCapacity:
		return strings.Contains(strings.ToUpper(e.Code), "NO_CAPACITY") ||
			strings.Contains(strings.ToUpper(e.Message), "NO_CAPACITY") ||
			strings.Contains(strings.ToLower(e.Message), "capacidade")
	}
	return false
}

// Detail is the human-readable message the backend sent.
func (e *APIError) Detail() string { return e.Message }

// Definitive reports whether the answer is a client-side rejection that will
// not change on retry (4xx).
func (e *APIError) Definitive() bool { return e.Status >= 400 && e.Status < 500 }

// ActiveReservationConflict reports whether the error is the "guest already
// has an active reservation" conflict and returns the existing reservation id.
func (e *APIError) ActiveReservationConflict() (string, bool) {
	if e.Status != http.StatusConflict || e.ReservationID == "" {
		return "", false
	}
	if e.Code != "" && !strings.EqualFold(e.Code, domain.ActiveReservationCode) {
		return "", false
	}
	return e.ReservationID, true
}

// apiErrorFrom builds an APIError from a decoded error payload (may be nil).
func apiErrorFrom(status int, payload map[string]any, raw string) *APIError {
	e := &APIError{Status: status}
	if payload != nil {
		e.Message = firstString(payload, "error.message", "message", "error")
		e.Code = firstString(payload, "errorCode", "code", "error.code")
		e.ReservationID = firstString(payload,
			"reservationId", "existingReservationId", "error.reservationId", "data.reservationId")
	}
	if e.Message == "" {
		e.Message = strings.TrimSpace(raw)
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if e.Message == "" {
		e.Message = "Erro na requisição"
	}
	return e
}

func firstString(m map[string]any, paths ...string) string {
	for _, p := range paths {
		cur := any(m)
		for _, part := range strings.Split(p, ".") {
			obj, ok := cur.(map[string]any)
			if !ok {
				cur = nil
				break
			}
			cur = obj[part]
		}
		switch v := cur.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return fmt.Sprintf("%.0f", v)
		}
	}
	return ""
}
