package domain

import "time"

// Guest holds the contact fields typed in the guest step.
type Guest struct {
	FullName string     `json:"fullName"`
	CPF      string     `json:"cpf"` // digits only
	Email    string     `json:"email"`
	Phone    string     `json:"phone"` // digits only
	Birthday *time.Time `json:"birthday,omitempty"`
}

// BookingSelection is the mutable state owned by the booking wizard.
type BookingSelection struct {
	UnitID   string    `json:"unitId"`
	Adults   int       `json:"adults"`
	Children int       `json:"children"`
	Date     time.Time `json:"date"` // midnight in the venue location, zero when unset
	Time     string    `json:"time"` // HH:MM
	AreaID   string    `json:"areaId"`
	Guest    Guest     `json:"guest"`
}

// PartySize is adults + children, never below 1.
func (s BookingSelection) PartySize() int {
	n := s.Adults + s.Children
	if n < 1 {
		return 1
	}
	return n
}

// HasDate reports whether a date was picked.
func (s BookingSelection) HasDate() bool { return !s.Date.IsZero() }

// CreateReservationRequest is the wire payload of POST /v1/reservations/public.
type CreateReservationRequest struct {
	FullName     string `json:"fullName"`
	CPF          string `json:"cpf"`
	People       int    `json:"people"`
	Kids         int    `json:"kids"`
	ReservedAt   string `json:"reservationDate"`
	BirthdayDate string `json:"birthdayDate,omitempty"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	UnitID       string `json:"unitId"`
	AreaID       string `json:"areaId"`
	UTMSource    string `json:"utm_source"`
	UTMCampaign  string `json:"utm_campaign"`
	Source       string `json:"source"`
}
