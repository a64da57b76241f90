package domain

import (
	"strings"
	"time"
)

type ReservationStatus string

const (
	StatusPending         ReservationStatus = "PENDING"
	StatusConfirmed       ReservationStatus = "CONFIRMED"
	StatusAwaitingCheckIn ReservationStatus = "AWAITING_CHECKIN"
	StatusCheckedIn       ReservationStatus = "CHECKED_IN"
)

// NormalizeStatus upper-cases and trims a status coming from the backend.
func NormalizeStatus(s string) ReservationStatus {
	return ReservationStatus(strings.ToUpper(strings.TrimSpace(s)))
}

// Active reports whether the reservation is neither checked in nor expired.
func (s ReservationStatus) Active() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusAwaitingCheckIn:
		return true
	}
	return false
}

// ReservationRecord is the authoritative server-side reservation.
type ReservationRecord struct {
	ID                 string            `json:"id"`
	HumanCode          string            `json:"code"`
	UnitID             string            `json:"unitId"`
	UnitLabel          string            `json:"unitLabel"`
	AreaID             string            `json:"areaId"`
	AreaLabel          string            `json:"areaLabel"`
	ReservationInstant time.Time         `json:"reservationInstant"`
	PartySize          int               `json:"partySize"`
	ChildCount         int               `json:"childCount"`
	GuestName          string            `json:"guestName"`
	GuestCPF           string            `json:"guestCpf"`
	GuestEmail         string            `json:"guestEmail"`
	GuestPhone         string            `json:"guestPhone"`
	Status             ReservationStatus `json:"status"`
}

// Snapshot is the locally persisted copy of a reservation used to resume the
// confirmation view after a reload. It is advisory: never trusted before the
// server confirms the reservation is still active.
type Snapshot struct {
	ID            string    `json:"id"`
	Code          string    `json:"code"`
	QRURL         string    `json:"qrUrl"`
	UnitLabel     string    `json:"unitLabel"`
	AreaName      string    `json:"areaName"`
	DateStr       string    `json:"dateStr"` // DD/MM/YYYY
	TimeStr       string    `json:"timeStr"` // HH:MM
	People        int       `json:"people"`
	Kids          int       `json:"kids,omitempty"`
	FullName      string    `json:"fullName,omitempty"`
	CPF           string    `json:"cpf,omitempty"`
	EmailHint     string    `json:"emailHint,omitempty"`
	ReservationAt time.Time `json:"reservationAt"`
}

// ReservationConfirmedEvent is published once a new reservation is confirmed.
type ReservationConfirmedEvent struct {
	ReservationID string `json:"reservation_id"`
	Code          string `json:"code"`
	UnitID        string `json:"unit_id"`
	UnitLabel     string `json:"unit_label"`
	AreaID        string `json:"area_id"`
	AreaLabel     string `json:"area_label"`
	ReservedFor   string `json:"reserved_for"`
	People        int    `json:"people"`
	Kids          int    `json:"kids"`
	Status        string `json:"status"`
	Source        string `json:"source"`
	ConfirmedAt   string `json:"confirmed_at"`
}
