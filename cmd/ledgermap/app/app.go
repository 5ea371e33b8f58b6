// Package app provides the application context and dependency management for
// the ledgermap CLI. It centralizes configuration, logging and the shared
// Ledgermap instance behind one struct that commands pull from.
package app

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/ledgermap/ledgermap"
	"github.com/ledgermap/ledgermap/pkg/reconcile"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// App represents the ledgermap application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger

	// Ledgermap instance (lazy-initialized, singleton)
	mu        sync.RWMutex
	ledgermap ledgermap.Ledgermap
}

// New creates a new App instance with the given version information.
func New(version, commit, date string, opts ...Option) (*App, error) {
	a := &App{
		version: version,
		commit:  commit,
		date:    date,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	a.config = config

	logger := NewLogger(config)
	a.logger = &logger

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}

	return a, nil
}

// Version returns the version string.
func (a *App) Version() string {
	return a.version
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// Ledgermap returns the shared Ledgermap instance, creating it lazily.
func (a *App) Ledgermap() (ledgermap.Ledgermap, error) {
	a.mu.RLock()
	if a.ledgermap != nil {
		lm := a.ledgermap
		a.mu.RUnlock()
		return lm, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ledgermap != nil {
		return a.ledgermap, nil
	}

	lm, err := ledgermap.New(a.buildOptions()...)
	if err != nil {
		return nil, err
	}
	a.ledgermap = lm
	return lm, nil
}

// Shutdown releases the shared Ledgermap instance.
func (a *App) Shutdown() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ledgermap == nil {
		return nil
	}
	err := a.ledgermap.Close()
	a.ledgermap = nil
	return err
}

// buildOptions constructs ledgermap options from the app configuration.
func (a *App) buildOptions() []ledgermap.Option {
	var opts []ledgermap.Option

	if a.config.StorePath != "" {
		opts = append(opts, ledgermap.WithStore(a.config.StorePath))
	}
	if a.config.Threshold > 0 {
		opts = append(opts, ledgermap.WithThreshold(a.config.Threshold))
	}
	switch a.config.Strategy {
	case "", "freshness":
		// engine default
	case "prefer-csv":
		opts = append(opts, ledgermap.WithSourcePriority(schema.SourceCSV))
	case "prefer-json":
		opts = append(opts, ledgermap.WithSourcePriority(schema.SourceJSON))
	default:
		a.logger.Warn().Str("strategy", a.config.Strategy).Msg("Unknown strategy, using freshness")
		opts = append(opts, ledgermap.WithStrategy(reconcile.NewFreshnessStrategy()))
	}

	return opts
}

// ContextWithSignals returns a context cancelled on SIGINT or SIGTERM.
func ContextWithSignals(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithLedgermap sets a custom Ledgermap instance (useful for testing).
func WithLedgermap(lm ledgermap.Ledgermap) Option {
	return func(a *App) error {
		a.ledgermap = lm
		return nil
	}
}
