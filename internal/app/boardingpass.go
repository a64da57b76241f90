package app

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"mane_reservas/internal/domain"
)

const placeholder = "—"

const (
	ColorPositive = "positive"
	ColorAlert    = "alert"
)

var (
	reMane        = regexp.MustCompile(`mane\s+mercado`)
	reAguasClaras = regexp.MustCompile(`aguas\s+claras`)
	reArena       = regexp.MustCompile(`\barena\b`)
	reSaoPaulo    = regexp.MustCompile(`sao\s+paulo`)
)

// NormalizeLabel strips accents and lowercases.
func NormalizeLabel(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// UnitCode is the fixed 4-character venue code shown on the pass.
func UnitCode(label string) string {
	n := NormalizeLabel(label)
	if reMane.MatchString(n) {
		switch {
		case reAguasClaras.MatchString(n):
			return "MMAC"
		case reArena.MatchString(n):
			return "MMAR"
		case reSaoPaulo.MatchString(n):
			return "MMSP"
		}
		parts := strings.Fields(n)
		return "MM" + strings.ToUpper(firstRunes(parts[len(parts)-1], 2))
	}

	var b strings.Builder
	for _, r := range n {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return placeholder
	}
	return strings.ToUpper(firstRunes(b.String(), 4))
}

// AreaAcronym is an up-to-3-letter code for the seating area.
func AreaAcronym(label string) string {
	n := strings.NewReplacer("—", " ", "–", " ", "-", " ").Replace(NormalizeLabel(label))
	parts := strings.Fields(n)
	switch len(parts) {
	case 0:
		return placeholder
	case 1:
		return strings.ToUpper(firstRunes(parts[0], 3))
	}
	code := firstRunes(parts[0], 1) + firstRunes(parts[1], 1)
	if len(parts) > 2 {
		code += firstRunes(parts[2], 1)
	}
	return strings.ToUpper(code)
}

// MaskCPF renders NNN.***.***-NN for exactly 11 digits, the placeholder otherwise.
func MaskCPF(v string) string {
	d := OnlyDigits(v)
	if len(d) != 11 {
		return placeholder
	}
	return d[:3] + ".***.***-" + d[9:]
}

func firstRunes(s string, n int) string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	return string(r)
}

// FormatCountdown renders ms as HH:MM:SS, prefixed with "Nd " when at least a
// day remains. Negative values render as zero.
func FormatCountdown(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	total := ms / 1000
	days := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	s := total % 60
	if days > 0 {
		return fmt.Sprintf("%dd %02d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

type Countdown struct {
	RemainingMs int64  `json:"remainingMs"` // signed
	Display     string `json:"display"`
	Label       string `json:"label"`
	Open        bool   `json:"open"`
}

type Countdowns struct {
	Reservation Countdown `json:"reservation"`
	Tolerance   Countdown `json:"tolerance"`
	Admission   Countdown `json:"admission"`
}

func countdown(deadline, now time.Time, openLabel, closedLabel string) Countdown {
	ms := deadline.Sub(now).Milliseconds()
	c := Countdown{RemainingMs: ms, Display: FormatCountdown(ms), Open: ms > 0, Label: closedLabel}
	if c.Open {
		c.Label = openLabel
	}
	return c
}

// ComputeCountdowns derives the three rolling deadlines from the reservation
// instant: the instant itself, +tolerance, +admission window.
func ComputeCountdowns(at, now time.Time, p domain.Policy) Countdowns {
	return Countdowns{
		Reservation: countdown(at, now, "faltam", "reservada"),
		Tolerance:   countdown(at.Add(p.Tolerance), now, "válida", "encerrada"),
		Admission:   countdown(at.Add(p.AdmissionWindow), now, "aberto", "fechado"),
	}
}

type BoardingPass struct {
	ID          string      `json:"id"`
	Code        string      `json:"code"`
	QRURL       string      `json:"qrUrl"`
	UnitLabel   string      `json:"unitLabel"`
	UnitCode    string      `json:"unitCode"`
	AreaName    string      `json:"areaName"`
	AreaCode    string      `json:"areaCode"`
	DateStr     string      `json:"date"`
	TimeStr     string      `json:"time"`
	People      int         `json:"people"`
	Kids        int         `json:"kids"`
	FullName    string      `json:"fullName,omitempty"`
	CPF         string      `json:"cpf"`
	EmailHint   string      `json:"emailHint,omitempty"`
	Header      string      `json:"header,omitempty"`
	HeaderColor string      `json:"headerColor,omitempty"`
	Countdowns  *Countdowns `json:"countdowns,omitempty"`
}

// ReservationInstant is the snapshot's instant, or its DD/MM/YYYY + HH:MM
// strings read in loc when the instant was not stored.
func ReservationInstant(s domain.Snapshot, loc *time.Location) (time.Time, bool) {
	if !s.ReservationAt.IsZero() {
		return s.ReservationAt, true
	}
	t, err := time.ParseInLocation(snapshotDateLayout+" "+snapshotTimeLayout, s.DateStr+" "+s.TimeStr, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// BuildBoardingPass derives everything the pass shows at now. Without a
// known instant the header and countdowns are left out.
func BuildBoardingPass(s domain.Snapshot, now time.Time, p domain.Policy) BoardingPass {
	bp := BoardingPass{
		ID:        s.ID,
		Code:      s.Code,
		QRURL:     s.QRURL,
		UnitLabel: s.UnitLabel,
		UnitCode:  UnitCode(s.UnitLabel),
		AreaName:  s.AreaName,
		AreaCode:  AreaAcronym(s.AreaName),
		DateStr:   s.DateStr,
		TimeStr:   s.TimeStr,
		People:    s.People,
		Kids:      s.Kids,
		FullName:  s.FullName,
		CPF:       MaskCPF(s.CPF),
		EmailHint: s.EmailHint,
	}
	if bp.UnitLabel == "" {
		bp.UnitLabel = placeholder
	}
	if bp.AreaName == "" {
		bp.AreaName = placeholder
	}

	at, ok := ReservationInstant(s, now.Location())
	if !ok {
		return bp
	}
	cd := ComputeCountdowns(at, now, p)
	bp.Countdowns = &cd
	if cd.Reservation.Open {
		bp.Header = "Falta " + cd.Reservation.Display + " para sua reserva"
		bp.HeaderColor = ColorPositive
	} else {
		bp.Header = "Sua reserva é agora (" + at.In(now.Location()).Format(snapshotTimeLayout) + ")"
		bp.HeaderColor = ColorAlert
	}
	return bp
}

// TickBoardingPass emits a frame now and then once per every until ctx is
// done or emit returns false. The ticker is stopped on return.
func TickBoardingPass(ctx context.Context, clock Clock, every time.Duration, s domain.Snapshot, p domain.Policy, loc *time.Location, emit func(BoardingPass) bool) {
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()

	if !emit(BuildBoardingPass(s, clock.Now().In(loc), p)) {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !emit(BuildBoardingPass(s, clock.Now().In(loc), p)) {
				return
			}
		}
	}
}
