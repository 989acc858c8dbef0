// Package app wires the pipeline together and owns its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sosnairobi/aidlink-server/internal/auth"
	"github.com/sosnairobi/aidlink-server/internal/bus"
	"github.com/sosnairobi/aidlink-server/internal/config"
	"github.com/sosnairobi/aidlink-server/internal/dispatch"
	"github.com/sosnairobi/aidlink-server/internal/intake"
	"github.com/sosnairobi/aidlink-server/internal/notify"
	"github.com/sosnairobi/aidlink-server/internal/registry"
	"github.com/sosnairobi/aidlink-server/internal/relay"
	"github.com/sosnairobi/aidlink-server/internal/session"
	"github.com/sosnairobi/aidlink-server/internal/store"
	"github.com/sosnairobi/aidlink-server/internal/store/sqlite"
	transporthttp "github.com/sosnairobi/aidlink-server/internal/transport/http"
)

// App wires together services and transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sweepInterval   time.Duration

	store       store.Store
	bus         bus.Bus
	dispatcher  *dispatch.Service
	coordinator *session.Coordinator
	notifier    *notify.Router

	log *zerolog.Logger
}

// New constructs the application with the provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var eventBus bus.Bus
	if cfg.RedisAddr != "" {
		rb, err := bus.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, *logger)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init redis bus: %w", err)
		}
		eventBus = rb
		logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("using redis event bus")
	} else {
		eventBus = bus.NewMemory(*logger)
		logger.Info().Msg("using in-process event bus")
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}

	reg := registry.NewService(st, eventBus, jwtConfig, *logger)
	ink := intake.NewService(st, eventBus, cfg.ObfuscationRadiusDeg, *logger)
	disp := dispatch.NewService(st, reg, eventBus, cfg.MatchRadiusKm, *logger)
	rly := relay.New(*logger)
	coord := session.NewCoordinator(st, eventBus, cfg.SessionTTL, *logger)
	coord.SetTeardownFunc(rly.CloseRoom)
	router := notify.NewRouter(*logger)

	if err := bootstrapOperator(ctx, st, cfg, logger); err != nil {
		_ = eventBus.Close()
		_ = st.Close()
		return nil, err
	}

	server := transporthttp.NewServer(transporthttp.Deps{
		Intake:    ink,
		Registry:  reg,
		Dispatch:  disp,
		Sessions:  coord,
		Relay:     rly,
		Notify:    router,
		Store:     st,
		JWTConfig: jwtConfig,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		sweepInterval:   cfg.SweepInterval,
		store:           st,
		bus:             eventBus,
		dispatcher:      disp,
		coordinator:     coord,
		notifier:        router,
		log:             logger,
	}, nil
}

// bootstrapOperator seeds a partner operator account on first start.
func bootstrapOperator(ctx context.Context, st store.Store, cfg *config.Config, logger *zerolog.Logger) error {
	if cfg.BootstrapOperatorEmail == "" || cfg.BootstrapOperatorPassword == "" {
		return nil
	}

	_, err := st.GetOperatorByEmail(ctx, cfg.BootstrapOperatorEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("look up bootstrap operator: %w", err)
	}

	hash, err := auth.HashPassword(cfg.BootstrapOperatorPassword)
	if err != nil {
		return fmt.Errorf("hash bootstrap password: %w", err)
	}
	op := &store.Operator{
		ID:           uuid.NewString(),
		Email:        cfg.BootstrapOperatorEmail,
		FullName:     "Bootstrap Operator",
		PasswordHash: hash,
		CreatedAt:    time.Now().UTC(),
	}
	if err := st.CreateOperator(ctx, op); err != nil {
		return fmt.Errorf("create bootstrap operator: %w", err)
	}
	logger.Info().Str("email", op.Email).Msg("bootstrap operator created")
	return nil
}

// Run starts the pipeline and the HTTP server, blocking until context
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start()
	a.coordinator.Start(ctx, a.sweepInterval)
	a.notifier.Start(a.bus)

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes the bus, database and other resources.
func (a *App) cleanup() {
	if a.bus != nil {
		if err := a.bus.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close bus")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
