// Package acquirer obtains sales records from the agency portal.
package acquirer

import (
	"context"

	"agency-sales-monitor/internal/storage"
)

// ProgressFunc receives step transitions while an acquisition runs. The step
// key matches the progress tracker pipeline.
type ProgressFunc func(stepKey, detail string)

// Acquirer produces one batch of sales snapshots covering both lottery lines.
type Acquirer interface {
	// Name identifies the acquisition strategy in logs and metrics.
	Name() string

	// AcquireRecords logs into the portal, applies the report filters and
	// returns the current sales rows. The callback is invoked as each
	// pipeline step starts; it may be nil.
	AcquireRecords(ctx context.Context, report ProgressFunc) ([]storage.SalesSnapshot, error)

	// Ping checks that the portal endpoint is reachable.
	Ping(ctx context.Context) error

	// Reset discards any held session so the next acquisition starts clean.
	Reset(ctx context.Context) error
}
