package ledger

import (
	"context"
	"time"

	"github.com/ksred/klear-brokerage/internal/metrics"
	"github.com/rs/zerolog/log"
)

const auditBatchSize = 500

// Auditor periodically re-checks the usable/size invariant on every stored
// asset. It only reads; violations are reported, never repaired.
type Auditor struct {
	db       *Database
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewAuditor(db *Database, interval time.Duration, m *metrics.Metrics) *Auditor {
	return &Auditor{
		db:       db,
		interval: interval,
		metrics:  m,
	}
}

// Start runs audit passes until ctx is canceled
func (a *Auditor) Start(ctx context.Context) {
	logger := log.With().Str("component", "ledger_auditor").Logger()
	if a.interval <= 0 {
		logger.Info().Msg("ledger auditor disabled")
		return
	}
	logger.Info().Dur("interval", a.interval).Msg("starting ledger auditor")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down ledger auditor")
			return
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				logger.Error().Err(err).Msg("ledger audit failed")
			}
		}
	}
}

// RunOnce scans all assets and returns the number of invariant violations found
func (a *Auditor) RunOnce(ctx context.Context) (int, error) {
	logger := log.With().Str("component", "ledger_auditor").Logger()

	scanned, violations := 0, 0
	err := a.db.ScanAssets(ctx, auditBatchSize, func(batch []Asset) error {
		for _, asset := range batch {
			scanned++
			if err := CheckInvariant(asset); err != nil {
				violations++
				logger.Error().
					Err(err).
					Uint("asset_id", asset.ID).
					Str("customer_id", asset.CustomerID).
					Str("instrument", string(asset.Instrument)).
					Str("size", asset.Size.String()).
					Str("usable_size", asset.UsableSize.String()).
					Msg("asset violates ledger invariant")
			}
		}
		return nil
	})
	if err != nil {
		a.metrics.IncAuditRun("error")
		return violations, err
	}

	a.metrics.AddInvariantFailures(violations)
	if violations > 0 {
		a.metrics.IncAuditRun("violations")
	} else {
		a.metrics.IncAuditRun("clean")
	}

	logger.Debug().Int("scanned", scanned).Int("violations", violations).Msg("ledger audit completed")
	return violations, nil
}
