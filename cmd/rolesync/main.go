package main

import (
	"context"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/api"
	"github.com/victorivanov/rolesync/internal/app"
	"github.com/victorivanov/rolesync/internal/auth"
	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/config"
	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/jobs"
	"github.com/victorivanov/rolesync/internal/logger"
	"github.com/victorivanov/rolesync/internal/presence"
	"github.com/victorivanov/rolesync/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to a config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := logger.Init(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Infrastructure ---

	infra, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("infrastructure")
	}
	defer infra.Close()

	tokenSvc := auth.NewTokenService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	repos := database.NewRepositories(infra.Store)

	// --- Engine ---

	ctrl := cascade.NewController(repos, infra.Dispatcher, cascade.Config{BatchSize: cfg.Cascade.BatchSize})
	classifier := presence.NewClassifier(cfg.Presence.Classifier())

	sources := []presence.Source{presence.NewProfileSource(repos.Profiles)}
	if infra.Redis != nil {
		sources = append(sources, presence.NewGatewaySource(infra.Redis))
	}
	presenceSvc := presence.NewService(classifier, infra.Redis, sources...)
	tracker := presence.NewTracker(presenceSvc, infra.Dispatcher)

	// --- Services ---

	perms := service.NewPermissionService(repos, ctrl, classifier)
	roleSvc := service.NewRoleService(repos, ctrl, infra.Dispatcher, perms)
	memberSvc := service.NewMemberService(repos, ctrl, infra.Dispatcher, perms)
	serverSvc := service.NewServerService(repos, ctrl)
	profileSvc := service.NewProfileService(repos.Profiles)

	// --- Background work ---

	var background []func(context.Context) error
	if cfg.Cascade.Watch {
		background = append(background, cascade.NewWatcher(ctrl, repos, infra.Store).Run)
	}
	background = append(background, func(ctx context.Context) error {
		return tracker.Run(ctx, infra.Store, database.UsersCollection)
	})
	for _, run := range background {
		go func() {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("background worker stopped")
			}
		}()
	}

	scheduler := jobs.NewScheduler(30 * time.Minute)
	sweeper := cascade.NewSweeper(ctrl, repos.Servers, infra.Locker(), cfg.Cascade.LockTTL)
	if err := scheduler.Add(jobs.RepairSweep, cfg.Cascade.RepairSchedule, jobs.Sweep(sweeper)); err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}
	if err := scheduler.Add(jobs.PresenceTick, cfg.Presence.TickSchedule, jobs.Tick(tracker)); err != nil {
		log.Fatal().Err(err).Msg("scheduler")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// --- Echo ---

	checks := map[string]api.HealthCheck{"store": infra.StorePing}
	if infra.Redis != nil {
		checks["redis"] = infra.Redis.Ping
	}
	if infra.NATS != nil {
		checks["nats"] = infra.NATS.Ping
	}

	deps := &api.Dependencies{
		Servers:      api.NewServerHandler(serverSvc),
		Roles:        api.NewRoleHandler(roleSvc),
		Members:      api.NewMemberHandler(memberSvc),
		Permissions:  api.NewPermissionHandler(perms),
		Presence:     api.NewPresenceHandler(presenceSvc, tracker),
		Users:        api.NewUserHandler(profileSvc),
		TokenService: tokenSvc,
		Redis:        infra.Redis,
		HealthChecks: checks,
		RateLimit:    cfg.Server.RateLimit,
	}

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.SetupRouter(e, deps)

	// --- Start ---

	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("store", cfg.Store.Driver).Msg("rolesync starting")
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
