package ledgermap

import (
	"github.com/rs/zerolog"

	"github.com/ledgermap/ledgermap/pkg/errors"
	"github.com/ledgermap/ledgermap/pkg/mapping"
	"github.com/ledgermap/ledgermap/pkg/reconcile"
	"github.com/ledgermap/ledgermap/pkg/schema"
)

// config holds the assembled settings for a Ledgermap instance.
type config struct {
	threshold float64
	strategy  reconcile.Strategy
	storePath string
	logger    *zerolog.Logger
}

func defaultConfig() *config {
	return &config{
		threshold: mapping.DefaultThreshold,
		strategy:  reconcile.NewFreshnessStrategy(),
	}
}

// Option is a function that configures a Ledgermap instance.
type Option func(*config) error

// WithThreshold configures the confidence threshold for mapping discovery.
func WithThreshold(threshold float64) Option {
	return func(c *config) error {
		if threshold < 0 || threshold > 1 {
			return errors.NewValidationError("threshold", threshold, "must be between 0 and 1")
		}
		c.threshold = threshold
		return nil
	}
}

// WithStrategy configures the header precedence strategy for overlapping
// records.
func WithStrategy(strategy reconcile.Strategy) Option {
	return func(c *config) error {
		if strategy == nil {
			return errors.NewValidationError("strategy", nil, "strategy cannot be nil")
		}
		c.strategy = strategy
		return nil
	}
}

// WithSourcePriority is a convenience option that resolves every overlap in
// favor of one fixed source.
func WithSourcePriority(source schema.Source) Option {
	return func(c *config) error {
		if source != schema.SourceCSV && source != schema.SourceJSON {
			return errors.NewValidationError("source", source, "must be CSV or JSON")
		}
		c.strategy = reconcile.NewSourcePriorityStrategy(source)
		return nil
	}
}

// WithLogger configures the logger used for this instance's log output.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) error {
		c.logger = &logger
		return nil
	}
}

// WithStore configures SQLite persistence at the given path. Use ":memory:"
// for an ephemeral store.
func WithStore(path string) Option {
	return func(c *config) error {
		if path == "" {
			return errors.NewValidationError("path", path, "store path cannot be empty")
		}
		c.storePath = path
		return nil
	}
}
