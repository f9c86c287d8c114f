package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"dispatch-service/internal/auth"
	"dispatch-service/internal/config"
	"dispatch-service/internal/db"
	"dispatch-service/internal/events"
	httphandler "dispatch-service/internal/http"
	"dispatch-service/internal/http/middleware"
	"dispatch-service/internal/logger"
	"dispatch-service/internal/model"
	"dispatch-service/internal/repository"
	"dispatch-service/internal/service"
	"dispatch-service/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment, cfg.LogLevel)

	kv, err := openStore(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to open store")
	}
	defer kv.Close()

	emergencyRepo := repository.NewEmergencyRepository(kv)
	unitRepo := repository.NewUnitRepository(kv)
	facilityRepo := repository.NewFacilityRepository(kv)
	activeIndex := repository.NewActiveIndex(kv)

	publisher := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	availability := service.NewAvailability(unitRepo, emergencyRepo, log)
	emergencyService := service.NewEmergencyService(
		emergencyRepo,
		unitRepo,
		facilityRepo,
		activeIndex,
		availability,
		publisher,
		service.Options{
			ConfirmationTimeout: cfg.Dispatch.ConfirmationTimeout,
			DefaultFacilityLocation: model.GeoPoint{
				Lat: cfg.Dispatch.DefaultFacilityLat,
				Lng: cfg.Dispatch.DefaultFacilityLng,
			},
		},
		log,
	)
	unitService := service.NewUnitService(unitRepo, log)
	facilityService := service.NewFacilityService(facilityRepo)
	reconciler := service.NewReconciler(emergencyRepo, unitRepo, activeIndex, availability, log)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(emergencyService, unitService, facilityService, reconciler, cfg.Dispatch.PollInterval, log)
	router := httphandler.NewRouter(handler, middleware.Auth(tokenParser), kv, cfg.Environment, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := service.NewSweeper(emergencyService, reconciler, cfg.Dispatch.SweepInterval, cfg.Dispatch.ReconcileInterval, log)
	if sweeper.Enabled() {
		go sweeper.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", addr).
			Str("store", cfg.Store.Driver).
			Dur("confirmation_timeout", cfg.Dispatch.ConfirmationTimeout).
			Msg("starting dispatch service")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func openStore(cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverRedis:
		s := store.NewRedisStore(store.RedisOptions{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.Ping(ctx); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not reachable yet")
		}
		return s, nil
	case config.StoreDriverPostgres:
		database, err := db.Open(context.Background(), cfg.DB, cfg.Environment, log)
		if err != nil {
			return nil, err
		}
		return store.NewPostgresStore(database), nil
	default:
		log.Warn().Msg("using in-memory store, records are lost on restart")
		return store.NewMemoryStore(), nil
	}
}
