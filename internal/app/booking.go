package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"mane_reservas/internal/domain"
)

// BookingService wires the booking core together and hosts wizard sessions.
type BookingService struct {
	api       domain.ReservationAPI
	Resolver  *AvailabilityResolver
	Manager   *ReservationManager
	Snapshots *SnapshotRepository
	Sessions  *Sessions
	clock     Clock
	loc       *time.Location
	policy    domain.Policy
}

type BookingConfig struct {
	Clock       Clock
	Location    *time.Location
	Policy      domain.Policy
	SnapshotTTL time.Duration
	CatalogTTL  time.Duration
}

func NewBookingService(api domain.ReservationAPI, cache domain.Cache, events domain.EventPublisher, cfg BookingConfig) *BookingService {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	res := NewAvailabilityResolver(api, NewCatalog(api, cache, cfg.CatalogTTL))
	snaps := NewSnapshotRepository(cache, api, cfg.SnapshotTTL)
	return &BookingService{
		api:       api,
		Resolver:  res,
		Manager:   NewReservationManager(api, snaps, events, res, cfg.Clock, cfg.Location),
		Snapshots: snaps,
		Sessions:  NewSessions(cfg.Clock),
		clock:     cfg.Clock,
		loc:       cfg.Location,
		policy:    cfg.Policy,
	}
}

func (s *BookingService) Policy() domain.Policy    { return s.policy }
func (s *BookingService) Location() *time.Location { return s.loc }
func (s *BookingService) Now() time.Time           { return s.clock.Now().In(s.loc) }
func (s *BookingService) Clock() Clock              { return s.clock }

// Start creates a wizard session for the device slot key, starts its calendar
// worker and runs the mount sequence. Mount failures are logged; the session
// is usable either way.
func (s *BookingService) Start(ctx context.Context, key string) (string, *Wizard) {
	sctx, cancel := context.WithCancel(context.Background())
	probe := NewCalendarProbe(s.Resolver, s.clock, s.loc, s.policy)
	go func() { _ = probe.Run(sctx) }()

	w := NewWizard(Deps{
		Resolver:  s.Resolver,
		Manager:   s.Manager,
		Snapshots: s.Snapshots,
		Probe:     probe,
		Clock:     s.clock,
		Location:  s.loc,
		Policy:    s.policy,
	}, key)
	if err := w.Mount(ctx); err != nil {
		log.Warn().Err(err).Msg("wizard mount incomplete")
	}
	id := s.Sessions.Add(w, cancel)
	log.Debug().Str("session", id).Str("state", w.State().String()).Msg("wizard session started")
	return id, w
}

// Calendar probes days from..from+n for inputs and waits for the answers.
func (s *BookingService) Calendar(ctx context.Context, in ProbeInputs, from time.Time, n int) (map[string]DayState, error) {
	return ProbeDays(ctx, s.Resolver, s.clock, s.loc, s.policy, in, DayRange(from.In(s.loc), n))
}

// Lookup finds a reservation by code and derives its boarding pass.
func (s *BookingService) Lookup(ctx context.Context, code string) (BoardingPass, error) {
	_, snap, err := s.Manager.LookupByCode(ctx, code)
	if err != nil {
		return BoardingPass{}, err
	}
	return BuildBoardingPass(snap, s.Now(), s.policy), nil
}

// WatchStatus polls the reservation status at the policy interval.
func (s *BookingService) WatchStatus(ctx context.Context, id string, emit func(StatusEvent)) error {
	return WatchStatus(ctx, s.api, id, s.policy.StatusPollEvery, emit)
}
