package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"mane_reservas/internal/adapters/maneapi"
	"mane_reservas/internal/adapters/memory"
	"mane_reservas/internal/adapters/observability"
	"mane_reservas/internal/adapters/rabbitmq"
	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
	"mane_reservas/internal/shared"
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// initialize global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ProbeTime != "" && !app.IsAllowedSlot(cfg.Policy.Slots, cfg.ProbeTime) {
		log.Fatal().Str("time", cfg.ProbeTime).Strs("slots", cfg.Policy.Slots).Msg("PROBE_TIME is not a bookable slot")
	}

	log.Info().
		Str("api", cfg.APIBase).
		Int("days", cfg.ProbeDays).
		Int("workers", cfg.ProbeWorkers).
		Int("party", cfg.ProbeParty).
		Dur("delay", cfg.ProbeDelay).
		Msg("prober starting")

	api, err := maneapi.New(cfg.APIBase, cfg.APITimeout, cfg.APIRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize reservations API client")
	}
	svc := app.NewBookingService(api, memory.New(), rabbitmq.Nop{}, app.BookingConfig{
		Location:   cfg.Location,
		Policy:     cfg.Policy,
		CatalogTTL: cfg.CatalogTTL,
	})

	units, err := svc.Resolver.Units(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("list units failed")
	}

	days := app.DayRange(app.StartOfDay(svc.Now()), max(cfg.ProbeDays, 1))
	sem := semaphore.NewWeighted(int64(max(cfg.ProbeWorkers, 1)))
	var wg sync.WaitGroup

	for _, u := range units {
		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, 1); err != nil {
			log.Warn().Err(err).Msg("probe interrupted")
			break
		}

		wg.Add(1)
		go func(u domain.Unit) {
			defer wg.Done()
			defer sem.Release(1)

			in := app.ProbeInputs{UnitID: u.ID, Time: cfg.ProbeTime, Party: cfg.ProbeParty}
			states, err := svc.Calendar(ctx, in, days[0], len(days))
			if err != nil {
				log.Warn().Str("unit", u.ID).Err(err).Msg("probe incomplete")
			}
			report(u, groupDays(days, states))
		}(u)
	}

	wg.Wait()
	log.Info().Int("units", len(units)).Msg("probe completed")
}

// groupDays buckets every probed day by state. Days the probe never settled
// count as unknown.
func groupDays(days []time.Time, states map[string]app.DayState) map[app.DayState][]string {
	groups := map[app.DayState][]string{}
	for _, d := range days {
		key := d.Format("2006-01-02")
		st, ok := states[key]
		if !ok {
			st = app.DayUnknown
		}
		groups[st] = append(groups[st], key)
	}
	return groups
}

// report logs one line per unit with the days grouped by state.
func report(u domain.Unit, groups map[app.DayState][]string) {
	log.Info().
		Str("unit", u.ID).
		Str("name", u.Name).
		Str("available", strings.Join(groups[app.DayAvailable], ",")).
		Str("unavailable", strings.Join(groups[app.DayUnavailable], ",")).
		Str("unknown", strings.Join(groups[app.DayUnknown], ",")).
		Msg("calendar")
}
