package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/conn"
	"github.com/vovakirdan/wirechat-client/internal/session"
	"github.com/vovakirdan/wirechat-client/internal/store"
	"github.com/vovakirdan/wirechat-client/internal/store/pebble"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/wirechat-client/internal/transport/http"
)

// App wires together the store, the connection manager, the session and the
// optional local bridge.
type App struct {
	endpoint        string
	shutdownTimeout time.Duration
	history         *store.HistoryStore
	session         *session.Controller
	server          *stdhttp.Server
	bridgeAddr      string
	serverErr       chan error
	serving         bool
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kv, err := OpenStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Str("path", cfg.Store.Path).Msg("store initialized")

	history := store.NewHistoryStore(kv, cfg.Store.Key)
	manager := conn.New(ConnConfig(cfg), nil, logger)
	ctrl := session.New(session.Options{
		Store:        history,
		Transport:    manager,
		Logger:       logger,
		Handshake:    cfg.Handshake,
		HistoryLimit: cfg.HistoryLimit,
	})

	a := &App{
		endpoint:        cfg.Endpoint,
		shutdownTimeout: cfg.ShutdownTimeout,
		history:         history,
		session:         ctrl,
		serverErr:       make(chan error, 1),
		log:             logger,
	}
	if cfg.Bridge.Enabled {
		gin.SetMode(gin.ReleaseMode)
		a.server = transporthttp.NewServer(ctrl, cfg.Bridge, logger)
	}
	return a, nil
}

// OpenStore opens the key-value backend selected by cfg.
func OpenStore(cfg config.StoreConfig) (store.KV, error) {
	switch cfg.Driver {
	case config.StoreSQLite:
		return sqlite.New(cfg.Path)
	case config.StorePebble:
		return pebble.New(cfg.Path)
	case config.StoreMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// ConnConfig maps client configuration onto connection manager settings.
func ConnConfig(cfg config.Config) conn.Config {
	return conn.Config{
		ConnectTimeout: cfg.ConnectTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxAttempts:    cfg.MaxAttempts,
		ReadLimit:      cfg.MaxMessageBytes,
		Backoff: conn.BackoffConfig{
			InitialDelay: cfg.Backoff.Initial,
			Multiplier:   cfg.Backoff.Multiplier,
			MaxDelay:     cfg.Backoff.Max,
			Jitter:       cfg.Backoff.Jitter,
		},
	}
}

// Session exposes the chat session for presentation layers.
func (a *App) Session() *session.Controller {
	return a.session
}

// BridgeAddr is the address the bridge listens on, empty until Start.
func (a *App) BridgeAddr() string {
	return a.bridgeAddr
}

// Start begins connecting and, when enabled, serving the bridge.
func (a *App) Start(ctx context.Context) error {
	if err := a.session.Start(ctx, a.endpoint); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	if a.server == nil {
		return nil
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen bridge: %w", err)
	}
	a.bridgeAddr = ln.Addr().String()
	a.log.Info().Str("addr", a.bridgeAddr).Msg("starting local bridge")
	a.serving = true
	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			a.serverErr <- err
			return
		}
		a.serverErr <- nil
	}()
	return nil
}

// Run starts the application and blocks until context cancellation or a
// fatal bridge error.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		if shutdownErr := a.Shutdown(); shutdownErr != nil {
			a.log.Warn().Err(shutdownErr).Msg("shutdown after failed start")
		}
		return err
	}

	var bridgeErr <-chan error
	if a.server != nil {
		bridgeErr = a.serverErr
	}

	select {
	case err := <-bridgeErr:
		a.serving = false
		if shutdownErr := a.Shutdown(); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
		return err
	case <-ctx.Done():
		return a.Shutdown()
	}
}

// Shutdown stops the bridge, then the session, then releases the store.
func (a *App) Shutdown() error {
	var errs []error
	if a.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		if a.serving {
			a.log.Info().Msg("shutting down local bridge")
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown bridge: %w", err))
			} else if err := <-a.serverErr; err != nil {
				errs = append(errs, err)
			}
			a.serving = false
		}
		a.server = nil
	}

	if err := a.session.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop session: %w", err))
	}
	a.cleanup()
	return errors.Join(errs...)
}

// cleanup closes the store.
func (a *App) cleanup() {
	if a.history == nil {
		return
	}
	if err := a.history.Close(); err != nil {
		a.log.Warn().Err(err).Msg("failed to close store")
	} else {
		a.log.Info().Msg("store closed")
	}
	a.history = nil
}
