package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"mane_reservas/internal/adapters/observability"
	"mane_reservas/internal/domain"
)

// State is a step of the booking wizard.
type State int

const (
	StateDateTime State = iota
	StateArea
	StateGuestInfo
	StateConfirmed
)

var stateNames = [...]string{"datetime", "area", "guest_info", "confirmed"}

// progressTargets is the progress bar value on entering each state.
var progressTargets = [...]int{33, 66, 100, 100}

func (s State) String() string {
	if s < StateDateTime || s > StateConfirmed {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

const (
	MsgPickDateTime  = "Selecione data e horário."
	MsgDateInvalid   = "Data inválida. Selecione uma data a partir de hoje."
	MsgContact       = "Preencha um e-mail e telefone válidos."
	MsgPickUnitArea  = "Selecione a unidade e a área."
	MsgAreasFailed   = "Falha ao carregar disponibilidade."
	MsgUnitsFailed   = "Falha ao carregar unidades."
	MsgLargeGroup    = "Para grupos grandes, fale com a nossa equipe para organizar sua reserva."
	MsgAreaNotListed = "Área indisponível para a data e horário escolhidos."
	MsgAreasLoading  = "Carregando disponibilidade..."
)

func windowMessage(p domain.Policy) string {
	return fmt.Sprintf("Horário disponível entre %s e %s", p.OpenAt, p.CloseAt)
}

// Deps are the collaborators of a wizard.
type Deps struct {
	Resolver  *AvailabilityResolver
	Manager   *ReservationManager
	Snapshots *SnapshotRepository
	Probe     *CalendarProbe // optional
	Clock     Clock
	Location  *time.Location
	Policy    domain.Policy
}

// Wizard is the booking state machine:
// DateTime -> Area -> GuestInfo -> Confirmed, with Back from Area and
// GuestInfo, and a direct jump to Confirmed when a cached reservation is
// still active on mount.
//
// Every async fetch captures gen under mu and commits only if gen is
// unchanged, so the last relevant request wins.
type Wizard struct {
	d   Deps
	key string

	mu           sync.Mutex
	state        State
	sel          domain.BookingSelection
	units        []domain.Unit
	unitsErr     string
	areas        []domain.Area
	areasScoped  bool
	areasLoading bool
	areasErr     string
	gen          uint64
	banner       string
	largeGroup   bool
	sending      bool
	waiter       *WaitRotator
	confirmed    *domain.Snapshot
	record       *domain.ReservationRecord
	recovered    bool
}

// NewWizard starts at DateTime with two adults, as the booking page does.
// key identifies the device slot the reservation snapshot is persisted under.
func NewWizard(d Deps, key string) *Wizard {
	if d.Clock == nil {
		d.Clock = SystemClock{}
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Wizard{
		d:   d,
		key: key,
		sel: domain.BookingSelection{Adults: 2},
	}
}

func (w *Wizard) now() time.Time { return w.d.Clock.Now().In(w.d.Location) }

// Mount loads the unit list and resumes a still-active cached reservation.
// Neither failure is fatal: the wizard stays usable on DateTime.
func (w *Wizard) Mount(ctx context.Context) error {
	var errs []error

	units, err := w.d.Resolver.Units(ctx)
	w.mu.Lock()
	if err != nil {
		w.unitsErr = MsgUnitsFailed
		errs = append(errs, err)
	} else {
		w.units = units
		w.unitsErr = ""
	}
	w.mu.Unlock()

	if w.key != "" && w.d.Snapshots != nil {
		snap, ok, err := w.d.Snapshots.ValidateAgainstServer(ctx, w.key)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", w.key).Msg("snapshot validation failed; starting fresh")
			errs = append(errs, err)
		case ok:
			w.mu.Lock()
			w.confirmed = &snap
			w.transitionLocked(StateConfirmed)
			w.mu.Unlock()
		}
	}
	return errors.Join(errs...)
}

func (w *Wizard) transitionLocked(to State) {
	from := w.state
	w.state = to
	observability.ObserveTransition(from.String(), to.String())
	log.Debug().Str("from", from.String()).Str("state", to.String()).Str("unit", w.sel.UnitID).Msg("wizard transition")
}

func (w *Wizard) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Calendar is the session's lazy calendar probe, nil when none is wired.
func (w *Wizard) Calendar() *CalendarProbe { return w.d.Probe }

func (w *Wizard) Selection() domain.BookingSelection {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.sel
}

// ---- selection setters ----

// SelectionPatch carries the fields a client changes; nil means untouched.
type SelectionPatch struct {
	UnitID   *string     `json:"unitId,omitempty"`
	Adults   *int        `json:"adults,omitempty"`
	Children *int        `json:"children,omitempty"`
	Date     *string     `json:"date,omitempty"` // YYYY-MM-DD
	Time     *string     `json:"time,omitempty"`
	AreaID   *string     `json:"areaId,omitempty"`
	Guest    *GuestPatch `json:"guest,omitempty"`
}

type GuestPatch struct {
	FullName *string `json:"fullName,omitempty"`
	CPF      *string `json:"cpf,omitempty"`
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Birthday *string `json:"birthday,omitempty"` // YYYY-MM-DD, "" clears
}

// Apply applies a patch and re-resolves areas when unit, date, time or party
// changed. Area selection is applied after the refresh.
func (w *Wizard) Apply(ctx context.Context, p SelectionPatch) error {
	w.mu.Lock()
	if w.sending {
		w.mu.Unlock()
		return domain.ErrBusy
	}
	before := w.inputsLocked()
	if p.UnitID != nil {
		w.sel.UnitID = strings.TrimSpace(*p.UnitID)
	}
	if p.Adults != nil {
		w.sel.Adults = CoerceInt(*p.Adults, 1, w.d.Policy.MaxAdults)
	}
	if p.Children != nil {
		w.sel.Children = CoerceInt(*p.Children, 0, w.d.Policy.MaxChildren)
	}
	if p.Date != nil {
		if *p.Date == "" {
			w.sel.Date = time.Time{}
		} else {
			d, err := time.ParseInLocation(dateLayout, *p.Date, w.d.Location)
			if err != nil {
				w.mu.Unlock()
				return ValidationErrors{"date": MsgPickDateTime}
			}
			w.sel.Date = d
		}
	}
	if p.Time != nil {
		w.sel.Time = strings.TrimSpace(*p.Time)
	}
	if g := p.Guest; g != nil {
		if err := w.applyGuestLocked(*g); err != nil {
			w.mu.Unlock()
			return err
		}
	}
	changed := w.inputsLocked() != before
	if changed {
		w.bumpLocked(before.unit)
	}
	w.mu.Unlock()

	if changed {
		if err := w.RefreshAreas(ctx); err != nil {
			return err
		}
	}
	if p.AreaID != nil {
		return w.SelectArea(*p.AreaID)
	}
	return nil
}

func (w *Wizard) applyGuestLocked(g GuestPatch) error {
	if g.FullName != nil {
		w.sel.Guest.FullName = *g.FullName
	}
	if g.CPF != nil {
		w.sel.Guest.CPF = OnlyDigits(*g.CPF)
	}
	if g.Email != nil {
		w.sel.Guest.Email = strings.TrimSpace(*g.Email)
	}
	if g.Phone != nil {
		w.sel.Guest.Phone = OnlyDigits(*g.Phone)
	}
	if g.Birthday != nil {
		if *g.Birthday == "" {
			w.sel.Guest.Birthday = nil
		} else {
			b, err := time.ParseInLocation(dateLayout, *g.Birthday, w.d.Location)
			if err != nil {
				return ValidationErrors{"birthday": MsgBirthday}
			}
			w.sel.Guest.Birthday = &b
		}
	}
	return nil
}

type availInputs struct {
	unit  string
	day   string
	time  string
	party int
}

func (w *Wizard) inputsLocked() availInputs {
	day := ""
	if w.sel.HasDate() {
		day = w.sel.Date.Format(dateLayout)
	}
	return availInputs{unit: w.sel.UnitID, day: day, time: w.sel.Time, party: w.sel.PartySize()}
}

// bumpLocked invalidates in-flight fetches and retargets the calendar probe.
// Area ids are scoped to a unit, so a unit change also drops the list and the
// chosen area.
func (w *Wizard) bumpLocked(prevUnit string) {
	w.gen++
	w.areasLoading = w.sel.UnitID != ""
	if w.sel.UnitID != prevUnit {
		w.areas, w.areasScoped, w.areasErr = nil, false, ""
		w.sel.AreaID = ""
	}
	if w.d.Probe != nil {
		w.d.Probe.SetInputs(ProbeInputs{UnitID: w.sel.UnitID, Time: w.committedTimeLocked(), Party: w.sel.PartySize()})
	}
}

// committedTimeLocked is the time the probe should test: the chosen slot when
// it is valid, otherwise none (probe falls back to its candidate times).
func (w *Wizard) committedTimeLocked() string {
	if IsAllowedSlot(w.d.Policy.Slots, w.sel.Time) {
		return w.sel.Time
	}
	return ""
}

// SelectArea picks an area. Areas that cannot take the party are rejected.
func (w *Wizard) SelectArea(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id == "" {
		w.sel.AreaID = ""
		return nil
	}
	a, ok := FindArea(w.areas, id)
	if !ok {
		return ValidationErrors{"areaId": MsgAreaNotListed}
	}
	if !a.Fits(w.sel.PartySize()) {
		return fmt.Errorf("area %s: %w", id, domain.ErrNoCapacity)
	}
	w.sel.AreaID = id
	return nil
}

// RefreshAreas reloads the area list for the current inputs: static metadata
// until a date and time are chosen, then the merged availability. The result
// is dropped if the inputs changed while the fetch was in flight.
func (w *Wizard) RefreshAreas(ctx context.Context) error {
	w.mu.Lock()
	gen := w.gen
	sel := w.sel
	if sel.UnitID == "" {
		w.areas, w.areasScoped, w.areasLoading, w.areasErr = nil, false, false, ""
		w.sel.AreaID = ""
		w.mu.Unlock()
		return nil
	}
	w.areasLoading = true
	w.mu.Unlock()

	scoped := sel.HasDate() && sel.Time != ""
	var (
		areas []domain.Area
		err   error
	)
	if scoped {
		areas, err = w.d.Resolver.Scoped(ctx, sel.UnitID, sel.Date, sel.Time)
	} else {
		areas, err = w.d.Resolver.StaticAreas(ctx, sel.UnitID)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if gen != w.gen {
		log.Debug().Str("unit", sel.UnitID).Msg("discarding stale area list")
		return nil
	}
	w.areasLoading = false
	if err != nil {
		w.areas, w.areasScoped = nil, false
		w.sel.AreaID = ""
		w.areasErr = MsgAreasFailed
		log.Warn().Err(err).Str("unit", sel.UnitID).Str("time", sel.Time).Msg("area refresh failed")
		return err
	}
	w.areas, w.areasScoped, w.areasErr = areas, scoped, ""
	if scoped {
		w.sel.AreaID = Reselect(areas, w.sel.AreaID, w.sel.PartySize())
	} else if _, ok := FindArea(areas, w.sel.AreaID); !ok {
		w.sel.AreaID = ""
	}
	return nil
}

// ---- guards ----

// dateTimeErrorsLocked are the inline errors of the first step.
func (w *Wizard) dateTimeErrorsLocked() ValidationErrors {
	v := ValidationErrors{}
	now := w.now()
	if w.sel.UnitID == "" {
		v["unitId"] = MsgSelectUnit
	}
	if w.sel.HasDate() && IsPastDay(w.sel.Date, now) {
		v["date"] = MsgDatePast
	}
	if t := w.sel.Time; t != "" {
		switch {
		case !IsAllowedSlot(w.d.Policy.Slots, t):
			v["time"] = MsgSlotInvalid
		case OutsideWindow(t, w.d.Policy.OpenAt, w.d.Policy.CloseAt):
			v["time"] = windowMessage(w.d.Policy)
		case w.sel.HasDate() && !IsPastDay(w.sel.Date, now) && IsPast(w.sel.Date, t, now):
			v["time"] = MsgTimePast
		}
	}
	return v
}

func (w *Wizard) guestErrorsLocked() ValidationErrors {
	v := ValidationErrors{}
	g := w.sel.Guest
	if len([]rune(strings.TrimSpace(g.FullName))) < 3 {
		v["fullName"] = MsgNameShort
	}
	if !IsValidCPF(g.CPF) {
		v["cpf"] = MsgCPFInvalid
	}
	if !IsValidEmail(g.Email) {
		v["email"] = MsgEmailInvalid
	}
	if !IsValidPhone(g.Phone) {
		v["phone"] = MsgPhoneInvalid
	}
	if w.d.Policy.BirthdayRequired && g.Birthday == nil {
		v["birthday"] = MsgBirthday
	}
	return v
}

func (w *Wizard) canContinueLocked() bool {
	switch w.state {
	case StateDateTime:
		return w.sel.UnitID != "" && w.sel.HasDate() && w.sel.Time != "" &&
			w.sel.PartySize() >= 1 && w.dateTimeErrorsLocked().Empty()
	case StateArea:
		return !w.areasLoading && w.areaFitsLocked()
	case StateGuestInfo:
		return !w.sending && !w.areasLoading && w.guestErrorsLocked().Empty()
	}
	return false
}

// areaFitsLocked reports whether the chosen area is in the settled list and
// still takes the party.
func (w *Wizard) areaFitsLocked() bool {
	a, ok := FindArea(w.areas, w.sel.AreaID)
	return ok && a.Fits(w.sel.PartySize())
}

func (w *Wizard) CanContinue() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.canContinueLocked()
}

// ---- transitions ----

// Next moves forward from DateTime or Area. GuestInfo moves on via Submit.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sending {
		return domain.ErrBusy
	}
	switch w.state {
	case StateDateTime:
		if !w.canContinueLocked() {
			v := w.dateTimeErrorsLocked()
			if !w.sel.HasDate() || w.sel.Time == "" {
				v["dateTime"] = MsgPickDateTime
			}
			return v
		}
		if w.sel.PartySize() > w.d.Policy.LargeGroupThreshold {
			w.largeGroup = true
			return domain.ErrLargeGroup
		}
		w.banner = ""
		w.transitionLocked(StateArea)
		return nil
	case StateArea:
		if w.areasLoading {
			return fmt.Errorf("area step: %w", domain.ErrAreasLoading)
		}
		if !w.canContinueLocked() {
			if w.sel.AreaID == "" {
				return ValidationErrors{"areaId": MsgPickUnitArea}
			}
			return fmt.Errorf("area %s: %w", w.sel.AreaID, domain.ErrNoCapacity)
		}
		w.transitionLocked(StateGuestInfo)
		return nil
	}
	return fmt.Errorf("next from %s: %w", w.state, domain.ErrInvalidTransition)
}

// Back steps from Area to DateTime and from GuestInfo to Area.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sending {
		return domain.ErrBusy
	}
	switch w.state {
	case StateArea:
		w.transitionLocked(StateDateTime)
		return nil
	case StateGuestInfo:
		w.transitionLocked(StateArea)
		return nil
	}
	return fmt.Errorf("back from %s: %w", w.state, domain.ErrInvalidTransition)
}

// DismissLargeGroup closes the large-group contact notice.
func (w *Wizard) DismissLargeGroup() {
	w.mu.Lock()
	w.largeGroup = false
	w.mu.Unlock()
}

// precheckLocked re-validates everything at submit time. Date and time
// failures send the wizard back to DateTime.
func (w *Wizard) precheckLocked() error {
	now := w.now()
	back := func(msg string) error {
		w.banner = msg
		w.transitionLocked(StateDateTime)
		return &SubmissionError{Message: msg}
	}
	switch {
	case !w.sel.HasDate() || w.sel.Time == "":
		return back(MsgPickDateTime)
	case IsPastDay(w.sel.Date, now):
		return back(MsgDateInvalid)
	case OutsideWindow(w.sel.Time, w.d.Policy.OpenAt, w.d.Policy.CloseAt):
		return back("Horário indisponível. " + windowMessage(w.d.Policy) + ".")
	case !IsAllowedSlot(w.d.Policy.Slots, w.sel.Time):
		return back(MsgSlotInvalid)
	case IsPast(w.sel.Date, w.sel.Time, now):
		return back(MsgTimePast)
	}
	if v := w.guestErrorsLocked(); !v.Empty() {
		if _, bad := v["email"]; bad {
			w.banner = MsgContact
		} else if _, bad := v["phone"]; bad {
			w.banner = MsgContact
		}
		return v
	}
	if w.areasLoading {
		w.banner = MsgAreasLoading
		return fmt.Errorf("submit: %w", domain.ErrAreasLoading)
	}
	if w.sel.UnitID == "" || !w.areaFitsLocked() {
		w.banner = MsgPickUnitArea
		w.transitionLocked(StateArea)
		return &SubmissionError{Message: MsgPickUnitArea, BackToArea: true}
	}
	return nil
}

func (w *Wizard) labelsLocked() Labels {
	var l Labels
	for _, u := range w.units {
		if u.ID == w.sel.UnitID {
			l.Unit = u.Name
			if l.Unit == "" {
				l.Unit = u.Slug
			}
		}
	}
	if l.Unit == "" {
		l.Unit = w.sel.UnitID
	}
	if a, ok := FindArea(w.areas, w.sel.AreaID); ok {
		l.Area = a.Name
	}
	return l
}

// Submit creates the reservation from GuestInfo. Success and the active
// reservation conflict both end on Confirmed; a capacity rejection goes back
// to Area; anything else stays on GuestInfo with a banner.
func (w *Wizard) Submit(ctx context.Context) error {
	w.mu.Lock()
	if w.sending {
		w.mu.Unlock()
		return domain.ErrBusy
	}
	if w.state != StateGuestInfo {
		st := w.state
		w.mu.Unlock()
		return fmt.Errorf("submit from %s: %w", st, domain.ErrInvalidTransition)
	}
	w.banner = ""
	if err := w.precheckLocked(); err != nil {
		w.mu.Unlock()
		return err
	}
	w.sending = true
	w.waiter = StartWaitRotator(w.d.Policy.WaitMessageEvery)
	sel, labels := w.sel, w.labelsLocked()
	w.mu.Unlock()

	res, err := w.d.Manager.Submit(ctx, w.key, sel, labels)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.sending = false
	if w.waiter != nil {
		w.waiter.Stop()
		w.waiter = nil
	}
	if err != nil {
		var se *SubmissionError
		if errors.As(err, &se) {
			w.banner = se.Message
			if se.BackToArea {
				w.transitionLocked(StateArea)
			}
		} else {
			w.banner = MsgSubmitGeneric
		}
		return err
	}
	w.record = &res.Record
	w.confirmed = &res.Snapshot
	w.recovered = res.Recovered
	w.transitionLocked(StateConfirmed)
	return nil
}

// ---- read side ----

type AreaView struct {
	domain.Area
	Left       int  `json:"left"`
	Selectable bool `json:"selectable"`
	Selected   bool `json:"selected"`
	SoldOut    bool `json:"soldOut"`
}

type View struct {
	State        State                   `json:"state"`
	Step         int                     `json:"step"`
	Progress     int                     `json:"progress"`
	Selection    domain.BookingSelection `json:"selection"`
	PartySize    int                     `json:"partySize"`
	CPFDisplay   string                  `json:"cpfDisplay,omitempty"`
	PhoneDisplay string                  `json:"phoneDisplay,omitempty"`
	Units        []domain.Unit           `json:"units"`
	UnitsError   string                  `json:"unitsError,omitempty"`
	Areas        []AreaView              `json:"areas"`
	AreasScoped  bool                    `json:"areasScoped"`
	AreasLoading bool                    `json:"areasLoading"`
	AreasError   string                  `json:"areasError,omitempty"`
	Errors       ValidationErrors        `json:"errors,omitempty"`
	Banner       string                  `json:"banner,omitempty"`
	CanContinue  bool                    `json:"canContinue"`
	LargeGroup   bool                    `json:"largeGroup"`
	LargeGroupAt int                     `json:"largeGroupThreshold"`
	ContactNote  string                  `json:"contactNote,omitempty"`
	Sending      bool                    `json:"sending"`
	WaitMessage  string                  `json:"waitMessage,omitempty"`
	Slots        []string                `json:"slots"`
	Reservation  *domain.Snapshot        `json:"reservation,omitempty"`
	Recovered    bool                    `json:"recovered,omitempty"`
}

// View is a consistent copy of everything a client renders.
func (w *Wizard) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()

	party := w.sel.PartySize()
	v := View{
		State:        w.state,
		Step:         int(w.state),
		Progress:     progressTargets[w.state],
		Selection:    w.sel,
		PartySize:    party,
		CPFDisplay:   MaskCPFInput(w.sel.Guest.CPF),
		PhoneDisplay: MaskPhoneInput(w.sel.Guest.Phone),
		Units:        append([]domain.Unit(nil), w.units...),
		UnitsError:   w.unitsErr,
		AreasScoped:  w.areasScoped,
		AreasLoading: w.areasLoading,
		AreasError:   w.areasErr,
		Banner:       w.banner,
		CanContinue:  w.canContinueLocked(),
		LargeGroup:   w.largeGroup,
		LargeGroupAt: w.d.Policy.LargeGroupThreshold,
		Sending:      w.sending,
		Slots:        w.d.Policy.Slots,
		Recovered:    w.recovered,
	}
	v.Areas = make([]AreaView, 0, len(w.areas))
	for _, a := range w.areas {
		fits := a.Fits(party)
		v.Areas = append(v.Areas, AreaView{
			Area:       a,
			Left:       a.Left(),
			Selectable: fits,
			Selected:   a.ID == w.sel.AreaID,
			SoldOut:    !fits,
		})
	}
	switch w.state {
	case StateDateTime:
		v.Errors = w.dateTimeErrorsLocked()
	case StateGuestInfo:
		v.Errors = w.guestErrorsLocked()
	}
	if w.largeGroup {
		v.ContactNote = MsgLargeGroup
	}
	if w.waiter != nil {
		v.WaitMessage = w.waiter.Current()
	}
	if w.confirmed != nil {
		s := *w.confirmed
		v.Reservation = &s
	}
	return v
}

// Confirmed returns the confirmed reservation snapshot.
func (w *Wizard) Confirmed() (domain.Snapshot, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateConfirmed || w.confirmed == nil {
		return domain.Snapshot{}, false
	}
	return *w.confirmed, true
}

// Record is the authoritative record behind a confirmation made in this
// session; resumed confirmations only carry the snapshot.
func (w *Wizard) Record() (domain.ReservationRecord, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.record == nil {
		return domain.ReservationRecord{}, false
	}
	return *w.record, true
}

// Pass derives the boarding pass at the wizard clock's now.
func (w *Wizard) Pass() (BoardingPass, bool) {
	s, ok := w.Confirmed()
	if !ok {
		return BoardingPass{}, false
	}
	return BuildBoardingPass(s, w.now(), w.d.Policy), true
}
