package acquirer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"agency-sales-monitor/internal/storage"
)

// Hints tune one acquisition attempt based on recent system behaviour.
type Hints struct {
	// Timeout caps the whole acquisition. Zero means no extra deadline.
	Timeout time.Duration
	// ProbeFirst runs a health check before committing to the pipeline so a
	// dead portal fails in milliseconds instead of a full page-load wait.
	ProbeFirst bool
}

// HintProvider supplies acquisition hints. The advisory engine implements it.
type HintProvider interface {
	AcquireHints() Hints
}

// Intelligent wraps a base acquirer and applies advisory hints per attempt.
type Intelligent struct {
	base   Acquirer
	hints  HintProvider
	logger zerolog.Logger
}

// NewIntelligent builds the hint-driven acquisition strategy.
func NewIntelligent(base Acquirer, hints HintProvider, logger zerolog.Logger) *Intelligent {
	return &Intelligent{
		base:   base,
		hints:  hints,
		logger: logger.With().Str("component", "intelligent_acquirer").Logger(),
	}
}

// Name implements Acquirer.
func (i *Intelligent) Name() string { return "intelligent" }

// Ping implements Acquirer.
func (i *Intelligent) Ping(ctx context.Context) error { return i.base.Ping(ctx) }

// Reset implements Acquirer.
func (i *Intelligent) Reset(ctx context.Context) error { return i.base.Reset(ctx) }

// AcquireRecords implements Acquirer, applying the current hints.
func (i *Intelligent) AcquireRecords(ctx context.Context, report ProgressFunc) ([]storage.SalesSnapshot, error) {
	hints := Hints{}
	if i.hints != nil {
		hints = i.hints.AcquireHints()
	}

	if hints.ProbeFirst {
		if err := i.base.Ping(ctx); err != nil {
			return nil, fmt.Errorf("pre-flight probe: %w", err)
		}
	}

	if hints.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hints.Timeout)
		defer cancel()
		i.logger.Debug().Dur("timeout", hints.Timeout).Msg("acquisition deadline applied")
	}

	return i.base.AcquireRecords(ctx, report)
}

var _ Acquirer = (*Intelligent)(nil)
