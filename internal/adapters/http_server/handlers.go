package httpserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
)

const (
	defaultCalendarDays = 14
	maxCalendarDays     = 62

	// calendarBudget is the share of requestTimeout a synchronous calendar
	// may spend probing.
	calendarBudget = requestTimeout * 2 / 3
)

// syncCalendarDays is the longest range /v1/calendar can probe inside
// calendarBudget when every candidate time of every day has to be tried.
func syncCalendarDays(p domain.Policy) int {
	perDay := p.ProbeDelay * time.Duration(len(p.ProbeTimes))
	if perDay <= 0 {
		return maxCalendarDays
	}
	n := int(calendarBudget / perDay)
	switch {
	case n < 1:
		return 1
	case n > maxCalendarDays:
		return maxCalendarDays
	}
	return n
}

// Handlers exposes the booking service to browser and kiosk clients.
// Tick is the boarding pass stream period (1s when zero).
type Handlers struct {
	Svc  *app.BookingService
	Tick time.Duration
}

type problem struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/units", h.listUnits)
	s.mux.Get("/v1/calendar", h.calendar)
	s.mux.Get("/v1/reservations/lookup", h.lookup)

	s.mux.Route("/v1/wizard", func(r chi.Router) {
		r.Post("/", h.startWizard)
		r.Get("/{id}", h.getWizard)
		r.Delete("/{id}", h.deleteWizard)
		r.Patch("/{id}/selection", h.patchSelection)
		r.Post("/{id}/next", h.next)
		r.Post("/{id}/back", h.back)
		r.Post("/{id}/submit", h.submit)
		r.Post("/{id}/dismiss-large-group", h.dismissLargeGroup)
		r.Get("/{id}/calendar", h.wizardCalendar)
		r.Get("/{id}/pass", h.pass)
		r.Get("/{id}/pass/stream", h.passStream)
	})
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	writeProblemDoc(w, problem{Type: "about:blank", Title: title, Status: status, Detail: detail})
}

func writeProblemDoc(w http.ResponseWriter, p problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// writeError maps booking errors onto problem documents.
func writeError(w http.ResponseWriter, err error) {
	var (
		ve app.ValidationErrors
		se *app.SubmissionError
	)
	switch {
	case errors.As(err, &ve):
		writeProblemDoc(w, problem{Type: "about:blank", Title: "Validation Failed", Status: http.StatusUnprocessableEntity, Errors: ve})
	case errors.As(err, &se):
		switch {
		case se.BackToArea:
			writeProblem(w, http.StatusConflict, "No Capacity", se.Message)
		case se.Err == nil:
			writeProblem(w, http.StatusUnprocessableEntity, "Submission Rejected", se.Message)
		default:
			writeProblem(w, http.StatusBadGateway, "Submission Failed", se.Message)
		}
	case errors.Is(err, domain.ErrLargeGroup):
		writeProblem(w, http.StatusUnprocessableEntity, "Large Group", app.MsgLargeGroup)
	case errors.Is(err, domain.ErrBusy):
		writeProblem(w, http.StatusConflict, "Busy", "submission in flight")
	case errors.Is(err, domain.ErrAreasLoading):
		writeProblem(w, http.StatusConflict, "Areas Loading", app.MsgAreasLoading)
	case errors.Is(err, domain.ErrInvalidTransition):
		writeProblem(w, http.StatusConflict, "Invalid Transition", err.Error())
	case errors.Is(err, domain.ErrNoCapacity):
		writeProblem(w, http.StatusConflict, "No Capacity", app.MsgSubmitNoCapacity)
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		log.Warn().Err(err).Msg("upstream failure")
		writeProblem(w, http.StatusBadGateway, "Bad Gateway", err.Error())
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	return `W/"` + hex.EncodeToString(sum[:]) + `"`, body
}

func (h *Handlers) listUnits(w http.ResponseWriter, r *http.Request) {
	units, err := h.Svc.Resolver.Units(r.Context())
	if err != nil {
		log.Warn().Err(err).Msg("list units failed")
		writeProblem(w, http.StatusBadGateway, "Bad Gateway", app.MsgUnitsFailed)
		return
	}

	etag, body := calcETagAndBody(units)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write units body")
	}
}

// ---- wizard sessions ----

type startRequest struct {
	SnapshotKey string `json:"snapshotKey"`
}

type startResponse struct {
	ID   string   `json:"id"`
	View app.View `json:"view"`
}

func (h *Handlers) startWizard(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body must be JSON")
		return
	}
	id, wz := h.Svc.Start(r.Context(), strings.TrimSpace(req.SnapshotKey))
	w.Header().Set("Location", "/v1/wizard/"+id)
	writeJSON(w, http.StatusCreated, startResponse{ID: id, View: wz.View()})
}

func (h *Handlers) wizard(w http.ResponseWriter, r *http.Request) (*app.Wizard, bool) {
	wz, ok := h.Svc.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not Found", "wizard session not found")
	}
	return wz, ok
}

func (h *Handlers) getWizard(w http.ResponseWriter, r *http.Request) {
	if wz, ok := h.wizard(w, r); ok {
		writeJSON(w, http.StatusOK, wz.View())
	}
}

func (h *Handlers) deleteWizard(w http.ResponseWriter, r *http.Request) {
	if !h.Svc.Sessions.Delete(chi.URLParam(r, "id")) {
		writeProblem(w, http.StatusNotFound, "Not Found", "wizard session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) patchSelection(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	var p app.SelectionPatch
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body must be a selection patch")
		return
	}
	if err := wz.Apply(r.Context(), p); err != nil {
		// availability failures are already reflected in the view
		var ve app.ValidationErrors
		if errors.As(err, &ve) || errors.Is(err, domain.ErrBusy) || errors.Is(err, domain.ErrNoCapacity) {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, wz.View())
}

func (h *Handlers) step(move func(*app.Wizard) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wz, ok := h.wizard(w, r)
		if !ok {
			return
		}
		if err := move(wz); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, wz.View())
	}
}

func (h *Handlers) next(w http.ResponseWriter, r *http.Request) {
	h.step((*app.Wizard).Next)(w, r)
}

func (h *Handlers) back(w http.ResponseWriter, r *http.Request) {
	h.step((*app.Wizard).Back)(w, r)
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request) {
	h.step(func(wz *app.Wizard) error { return wz.Submit(r.Context()) })(w, r)
}

func (h *Handlers) dismissLargeGroup(w http.ResponseWriter, r *http.Request) {
	h.step(func(wz *app.Wizard) error { wz.DismissLargeGroup(); return nil })(w, r)
}

// ---- calendar ----

type calendarResponse struct {
	UnitID string                  `json:"unitId"`
	Time   string                  `json:"time,omitempty"`
	Party  int                     `json:"party"`
	Days   map[string]app.DayState `json:"days"`
}

// dayWindow reads ?from=YYYY-MM-DD&days=N, defaulting to today and 14 days
// (or limit, when shorter).
func (h *Handlers) dayWindow(r *http.Request, limit int) (time.Time, int, error) {
	loc := h.Svc.Location()
	from := app.StartOfDay(h.Svc.Now())
	if s := r.URL.Query().Get("from"); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, loc)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("from must be YYYY-MM-DD")
		}
		from = t
	}
	days := min(defaultCalendarDays, limit)
	if s := r.URL.Query().Get("days"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > limit {
			return time.Time{}, 0, fmt.Errorf("days must be an integer between 1 and %d", limit)
		}
		days = n
	}
	return from, days, nil
}

// calendar probes a day range synchronously for the given inputs.
func (h *Handlers) calendar(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	in := app.ProbeInputs{UnitID: strings.TrimSpace(q.Get("unitId")), Time: q.Get("time"), Party: 2}
	if in.UnitID == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid unitId", "unitId is required")
		return
	}
	if s := q.Get("party"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeProblem(w, http.StatusBadRequest, "Invalid party", "party must be a positive integer")
			return
		}
		in.Party = n
	}
	if in.Time != "" && !app.IsAllowedSlot(h.Svc.Policy().Slots, in.Time) {
		writeProblem(w, http.StatusBadRequest, "Invalid time", app.MsgSlotInvalid)
		return
	}
	from, days, err := h.dayWindow(r, syncCalendarDays(h.Svc.Policy()))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid range", err.Error()+"; use /v1/wizard/{id}/calendar for longer ranges")
		return
	}

	states, err := h.Svc.Calendar(r.Context(), in, from, days)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calendarResponse{UnitID: in.UnitID, Time: in.Time, Party: in.Party, Days: states})
}

// wizardCalendar enqueues the visible days on the session's probe and returns
// whatever is known so far; clients poll for the rest.
func (h *Handlers) wizardCalendar(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	probe := wz.Calendar()
	if probe == nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "calendar not available for this session")
		return
	}
	from, days, err := h.dayWindow(r, maxCalendarDays)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid range", err.Error())
		return
	}
	probe.Enqueue(app.DayRange(from, days)...)

	in := probe.Inputs()
	all := probe.Snapshot()
	visible := make(map[string]app.DayState, days)
	for _, d := range app.DayRange(from, days) {
		k := d.Format("2006-01-02")
		visible[k] = all[k]
	}
	writeJSON(w, http.StatusOK, calendarResponse{UnitID: in.UnitID, Time: in.Time, Party: in.Party, Days: visible})
}

// ---- boarding pass ----

func (h *Handlers) pass(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	bp, ok := wz.Pass()
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not Found", "no confirmed reservation in this session")
		return
	}
	writeJSON(w, http.StatusOK, bp)
}

// passStream sends a "pass" event per tick and a "status" event per status
// poll until the client goes away.
func (h *Handlers) passStream(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.wizard(w, r)
	if !ok {
		return
	}
	snap, ok := wz.Confirmed()
	if !ok {
		writeProblem(w, http.StatusNotFound, "Not Found", "no confirmed reservation in this session")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming Unsupported", "response writer cannot flush")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var mu sync.Mutex
	send := func(event string, v any) bool {
		b, err := json.Marshal(v)
		if err != nil {
			log.Error().Err(err).Str("event", event).Msg("marshal stream frame failed")
			return false
		}
		mu.Lock()
		defer mu.Unlock()
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, b); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		_ = h.Svc.WatchStatus(ctx, snap.ID, func(ev app.StatusEvent) { send("status", ev) })
	}()

	every := h.Tick
	if every <= 0 {
		every = time.Second
	}
	app.TickBoardingPass(ctx, h.Svc.Clock(), every, snap, h.Svc.Policy(), h.Svc.Location(), func(bp app.BoardingPass) bool {
		return send("pass", bp)
	})
	cancel()
	<-watchDone
	log.Debug().Str("reservation_id", snap.ID).Msg("pass stream closed")
}

// ---- lookup ----

func (h *Handlers) lookup(w http.ResponseWriter, r *http.Request) {
	bp, err := h.Svc.Lookup(r.Context(), r.URL.Query().Get("code"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, bp)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, err)
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", app.MsgLookupNotFound)
	default:
		log.Warn().Err(err).Msg("reservation lookup failed")
		writeProblem(w, http.StatusBadGateway, "Bad Gateway", app.MsgLookupFailed)
	}
}
