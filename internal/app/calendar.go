package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"mane_reservas/internal/adapters/observability"
	"mane_reservas/internal/domain"
)

// DayState is the tri-state answer of the calendar probe for one day.
type DayState int

const (
	DayUnknown DayState = iota
	DayAvailable
	DayUnavailable
)

func (s DayState) String() string {
	switch s {
	case DayAvailable:
		return "available"
	case DayUnavailable:
		return "unavailable"
	}
	return "unknown"
}

func (s DayState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// ProbeInputs are what a day's answer depends on. Changing any of them
// invalidates everything probed so far.
type ProbeInputs struct {
	UnitID string
	Time   string // committed slot, "" to try the policy's probe times
	Party  int
}

func (in ProbeInputs) usable() bool { return in.UnitID != "" && in.Party >= 1 }

type capacityChecker interface {
	HasCapacity(ctx context.Context, unitID string, day time.Time, hhmm string, party int) (bool, error)
}

// CalendarProbe lazily shades days with capacity signals. Days are queued as
// they come into view and drained by a single worker (Run), one request at a
// time, spaced by the policy's probe delay.
type CalendarProbe struct {
	res     capacityChecker
	clock   Clock
	loc     *time.Location
	times   []string
	limiter *rate.Limiter

	mu       sync.Mutex
	in       ProbeInputs
	gen      uint64
	queue    []time.Time
	seen     map[string]struct{}
	states   map[string]DayState
	inflight bool
	wake     chan struct{}
	idle     chan struct{} // closed while there is nothing queued or in flight
}

func NewCalendarProbe(res capacityChecker, clock Clock, loc *time.Location, p domain.Policy) *CalendarProbe {
	lim := rate.NewLimiter(rate.Inf, 1)
	if p.ProbeDelay > 0 {
		lim = rate.NewLimiter(rate.Every(p.ProbeDelay), 1)
	}
	idle := make(chan struct{})
	close(idle)
	return &CalendarProbe{
		res:     res,
		clock:   clock,
		loc:     loc,
		times:   append([]string(nil), p.ProbeTimes...),
		limiter: lim,
		seen:    map[string]struct{}{},
		states:  map[string]DayState{},
		wake:    make(chan struct{}, 1),
		idle:    idle,
	}
}

func (p *CalendarProbe) dayKey(day time.Time) string { return day.In(p.loc).Format(dateLayout) }

// SetInputs swaps the probe inputs. Any change drops the queue and every known
// state; a request already in flight finishes but its answer is discarded.
func (p *CalendarProbe) SetInputs(in ProbeInputs) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in == p.in {
		return
	}
	p.in = in
	p.gen++
	p.queue = nil
	p.seen = map[string]struct{}{}
	p.states = map[string]DayState{}
	p.markIdleLocked()
}

func (p *CalendarProbe) Inputs() ProbeInputs {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in
}

// Enqueue schedules days for probing. Days already queued or resolved under
// the current inputs are skipped.
func (p *CalendarProbe) Enqueue(days ...time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.in.usable() {
		return
	}
	added := false
	for _, d := range days {
		k := p.dayKey(d)
		if _, ok := p.seen[k]; ok {
			continue
		}
		p.seen[k] = struct{}{}
		p.queue = append(p.queue, StartOfDay(d.In(p.loc)))
		added = true
	}
	if !added {
		return
	}
	p.markBusyLocked()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// State returns the current answer for day.
func (p *CalendarProbe) State(day time.Time) DayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[p.dayKey(day)]
}

// Snapshot copies the resolved days. Unresolved days are absent (unknown).
func (p *CalendarProbe) Snapshot() map[string]DayState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]DayState, len(p.states))
	for k, v := range p.states {
		out[k] = v
	}
	return out
}

// WaitIdle blocks until nothing is queued or in flight.
func (p *CalendarProbe) WaitIdle(ctx context.Context) error {
	p.mu.Lock()
	ch := p.idle
	p.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the single worker. It returns when ctx is done.
func (p *CalendarProbe) Run(ctx context.Context) error {
	for {
		day, in, gen, ok := p.next()
		if !ok {
			select {
			case <-p.wake:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		st := p.probeDay(ctx, day, in, gen)
		p.commit(day, gen, st)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (p *CalendarProbe) next() (time.Time, ProbeInputs, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return time.Time{}, ProbeInputs{}, 0, false
	}
	day := p.queue[0]
	p.queue = p.queue[1:]
	p.inflight = true
	return day, p.in, p.gen, true
}

func (p *CalendarProbe) stale(gen uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return gen != p.gen
}

func (p *CalendarProbe) candidates(in ProbeInputs) []string {
	if in.Time != "" {
		return []string{in.Time}
	}
	return p.times
}

// probeDay marks the day available as soon as one candidate time fits the
// party. Request failures leave the day unknown.
func (p *CalendarProbe) probeDay(ctx context.Context, day time.Time, in ProbeInputs, gen uint64) DayState {
	now := p.clock.Now().In(p.loc)
	if IsPastDay(day, now) {
		return DayUnavailable
	}
	for _, hhmm := range p.candidates(in) {
		if IsPast(day, hhmm, now) {
			continue
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return DayUnknown
		}
		if p.stale(gen) {
			return DayUnknown
		}
		ok, err := p.res.HasCapacity(ctx, in.UnitID, day, hhmm, in.Party)
		if err != nil {
			observability.ObserveProbe("error")
			log.Debug().Err(err).Str("unit", in.UnitID).Str("date", p.dayKey(day)).Str("time", hhmm).Msg("calendar probe dropped")
			return DayUnknown
		}
		if ok {
			return DayAvailable
		}
	}
	return DayUnavailable
}

func (p *CalendarProbe) commit(day time.Time, gen uint64, st DayState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight = false
	switch {
	case gen != p.gen:
		observability.ObserveProbe("stale")
	case st != DayUnknown:
		p.states[p.dayKey(day)] = st
		observability.ObserveProbe(st.String())
	}
	if len(p.queue) == 0 {
		p.markIdleLocked()
	}
}

func (p *CalendarProbe) markBusyLocked() {
	select {
	case <-p.idle:
		p.idle = make(chan struct{})
	default:
	}
}

func (p *CalendarProbe) markIdleLocked() {
	if len(p.queue) > 0 || p.inflight {
		return
	}
	select {
	case <-p.idle:
	default:
		close(p.idle)
	}
}

// ProbeDays runs a throwaway probe over days and waits for every answer.
func ProbeDays(ctx context.Context, res capacityChecker, clock Clock, loc *time.Location, pol domain.Policy, in ProbeInputs, days []time.Time) (map[string]DayState, error) {
	p := NewCalendarProbe(res, clock, loc, pol)
	p.SetInputs(in)

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Run(wctx)
	}()

	p.Enqueue(days...)
	err := p.WaitIdle(ctx)
	cancel()
	<-done
	return p.Snapshot(), err
}

// DayRange lists n consecutive days starting at from.
func DayRange(from time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	start := StartOfDay(from)
	for i := 0; i < n; i++ {
		out = append(out, start.AddDate(0, 0, i))
	}
	return out
}
