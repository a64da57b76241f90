package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	server "mane_reservas/internal/adapters/http_server"
	"mane_reservas/internal/adapters/maneapi"
	"mane_reservas/internal/adapters/memory"
	"mane_reservas/internal/adapters/observability"
	"mane_reservas/internal/adapters/rabbitmq"
	redisad "mane_reservas/internal/adapters/redis"
	"mane_reservas/internal/app"
	"mane_reservas/internal/domain"
	"mane_reservas/internal/shared"
	mysqlrepo "mane_reservas/internal/storage/mysql"
)

const (
	sessionIdle  = 30 * time.Minute
	sweepEvery   = time.Minute
	purgeEvery   = time.Hour
	drainTimeout = 10 * time.Second
)

func main() {
	cfg, err := shared.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := observability.InitRegistry()
	observability.Serve(cfg.MetricsAddr, reg)

	slot, closeSlot := openSlot(ctx, cfg)
	defer closeSlot()

	api, err := maneapi.New(cfg.APIBase, cfg.APITimeout, cfg.APIRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize reservations API client")
	}

	var events domain.EventPublisher = rabbitmq.Nop{}
	if cfg.AMQPURL != "" {
		pub := rabbitmq.New(cfg.AMQPURL)
		defer func() { _ = pub.Close() }()
		events = pub
	}

	svc := app.NewBookingService(api, slot, events, app.BookingConfig{
		Location:    cfg.Location,
		Policy:      cfg.Policy,
		SnapshotTTL: cfg.SnapshotTTL,
		CatalogTTL:  cfg.CatalogTTL,
	})
	defer svc.Sessions.Close()
	go sweepSessions(ctx, svc.Sessions)

	// http
	srv := server.New()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Svc: svc})

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info().
			Str("addr", cfg.HTTPAddr).
			Str("api", cfg.APIBase).
			Str("snapshot_backend", cfg.SnapshotBackend).
			Msg("API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown incomplete")
	}
}

// openSlot builds the snapshot/catalog store selected by SNAPSHOT_BACKEND.
func openSlot(ctx context.Context, cfg shared.Config) (domain.Cache, func()) {
	switch cfg.SnapshotBackend {
	case "redis":
		c := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		log.Info().Str("addr", cfg.RedisAddr).Msg("snapshot slot on redis")
		return c, func() { _ = c.Close() }
	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("sql.Open failed")
		}
		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("db.Ping failed")
		}
		log.Info().Msg("snapshot slot on mysql")
		repo := mysqlrepo.New(db)
		go purgeExpired(ctx, repo)
		return repo, func() { _ = db.Close() }
	}
	log.Info().Msg("snapshot slot in memory")
	return memory.New(), func() {}
}

func sweepSessions(ctx context.Context, s *app.Sessions) {
	t := time.NewTicker(sweepEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.Sweep(sessionIdle); n > 0 {
				log.Debug().Int("swept", n).Int("live", s.Len()).Msg("idle wizard sessions dropped")
			}
		}
	}
}

func purgeExpired(ctx context.Context, repo *mysqlrepo.Repo) {
	t := time.NewTicker(purgeEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := repo.PurgeExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("purge expired snapshot slots failed")
				continue
			}
			log.Debug().Int64("purged", n).Msg("expired snapshot slots purged")
		}
	}
}
