package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"mane_reservas/internal/domain"
)

// Inline validation messages, keyed by field.
const (
	MsgSelectUnit   = "Selecione a unidade"
	MsgSlotInvalid  = "Escolha um horário válido da lista"
	MsgDatePast     = "Selecione uma data a partir de hoje"
	MsgTimePast     = "Esse horário já passou. Escolha outro."
	MsgEmailInvalid = "Informe um e-mail válido"
	MsgPhoneInvalid = "Informe um telefone válido"
	MsgCPFInvalid   = "Informe um CPF com 11 dígitos"
	MsgNameShort    = "Informe seu nome completo"
	MsgBirthday     = "Informe sua data de nascimento"
)

// ValidationErrors maps a field name to its inline message.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+v[k])
	}
	return "validation: " + strings.Join(parts, "; ")
}

func (v ValidationErrors) Is(target error) bool { return target == domain.ErrValidation }

func (v ValidationErrors) Empty() bool { return len(v) == 0 }

var fieldValidator = validator.New()

// OnlyDigits drops everything that is not 0-9.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsAllowedSlot reports whether hhmm is one of the configured slots.
func IsAllowedSlot(slots []string, hhmm string) bool {
	for _, s := range slots {
		if s == hhmm {
			return true
		}
	}
	return false
}

// ParseHHMM parses "HH:MM" into hours and minutes.
func ParseHHMM(hhmm string) (int, int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(hhmm), ":")
	if !ok {
		return 0, 0, fmt.Errorf("time %q: want HH:MM", hhmm)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("time %q: bad hour", hhmm)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("time %q: bad minute", hhmm)
	}
	return hh, mm, nil
}

// OutsideWindow reports whether hhmm falls outside [openAt, closeAt].
// Unparseable input is not considered outside; slot membership rejects it.
func OutsideWindow(hhmm, openAt, closeAt string) bool {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return false
	}
	oh, om, err1 := ParseHHMM(openAt)
	ch, cm, err2 := ParseHHMM(closeAt)
	if err1 != nil || err2 != nil {
		return false
	}
	v := h*60 + m
	return v < oh*60+om || v > ch*60+cm
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, 0, 0, 0, 0, t.Location())
}

// IsPastDay reports whether day is before the day of now.
func IsPastDay(day, now time.Time) bool {
	return StartOfDay(day.In(now.Location())).Before(StartOfDay(now))
}

// JoinDateTime combines a calendar day with "HH:MM" in loc.
func JoinDateTime(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	h, m, err := ParseHHMM(hhmm)
	if err != nil {
		return time.Time{}, err
	}
	y, mo, d := day.In(loc).Date()
	return time.Date(y, mo, d, h, m, 0, 0, loc), nil
}

// IsPast reports whether day at hhmm is already behind now.
func IsPast(day time.Time, hhmm string, now time.Time) bool {
	at, err := JoinDateTime(day, hhmm, now.Location())
	if err != nil {
		return false
	}
	return !at.After(now)
}

func IsValidEmail(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && fieldValidator.Var(v, "email") == nil
}

// IsValidPhone accepts Brazilian landline (10) or mobile (11) digit counts.
func IsValidPhone(v string) bool {
	n := len(OnlyDigits(v))
	return n == 10 || n == 11
}

func IsValidCPF(v string) bool { return len(OnlyDigits(v)) == 11 }

// CoerceInt clamps v into [lo, hi].
func CoerceInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if hi >= lo && v > hi {
		return hi
	}
	return v
}

// MaskCPFInput formats typed digits progressively as 000.000.000-00.
func MaskCPFInput(v string) string {
	d := OnlyDigits(v)
	if len(d) > 11 {
		d = d[:11]
	}
	var b strings.Builder
	for i, r := range d {
		switch i {
		case 3, 6:
			b.WriteByte('.')
		case 9:
			b.WriteByte('-')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// MaskPhoneInput formats typed digits as (61) 9999-9999 or (61) 99999-9999.
func MaskPhoneInput(v string) string {
	d := OnlyDigits(v)
	if len(d) > 11 {
		d = d[:11]
	}
	if len(d) <= 2 {
		return d
	}
	head := 4
	if len(d) == 11 {
		head = 5
	}
	rest := d[2:]
	if len(rest) <= head {
		return "(" + d[:2] + ") " + rest
	}
	return "(" + d[:2] + ") " + rest[:head] + "-" + rest[head:]
}
