package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrValidation   = errors.New("validation failed")

	// ErrNoCapacity means the chosen area cannot take the party anymore.
	ErrNoCapacity = errors.New("no capacity")
	// ErrInvalidTransition is returned when a wizard transition is not allowed
	// from the current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrLargeGroup vetoes the first step for parties above the threshold.
	ErrLargeGroup = errors.New("large group")
	// ErrBusy is returned while a submission is already in flight.
	ErrBusy = errors.New("submission in flight")
	// ErrAreasLoading blocks the area step until the list for the current
	// inputs has arrived.
	ErrAreasLoading = errors.New("area list loading")
)

// ActiveReservationCode is the backend error code returned with a 409 when the
// guest already holds an active reservation.
const ActiveReservationCode = "ALREADY_HAS_ACTIVE_RESERVATION"
