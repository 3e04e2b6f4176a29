// Package stats aggregates raw download and review events into the
// plugin_stats_daily table served by the marketplace stats endpoint.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/plugbazaar/bazaar/pkg/observability"
)

// Rollup runs the daily statistics aggregation
type Rollup struct {
	db     *sql.DB
	logger *observability.Logger
	cron   *cron.Cron
}

// NewRollup creates the rollup job runner
func NewRollup(db *sql.DB, logger *observability.Logger) *Rollup {
	if logger == nil {
		logger = observability.NewDefaultLogger()
	}
	return &Rollup{
		db:     db,
		logger: logger,
		cron:   cron.New(),
	}
}

// Start schedules the nightly rollup for the previous day
func (r *Rollup) Start() error {
	_, err := r.cron.AddFunc("@daily", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		day := time.Now().UTC().AddDate(0, 0, -1)
		if err := r.RollupDay(ctx, day); err != nil {
			r.logger.WithError(err).Error("daily stats rollup failed")
			return
		}
		r.logger.WithField("date", day.Format("2006-01-02")).Info("daily stats rollup completed")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule rollup: %w", err)
	}
	r.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for a running job to finish
func (r *Rollup) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

// RollupDay aggregates one day of events into plugin_stats_daily.
// Re-running for the same day replaces the row, so the job is safe to
// repeat after a partial failure.
func (r *Rollup) RollupDay(ctx context.Context, day time.Time) error {
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.AddDate(0, 0, 1)

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO plugin_stats_daily (plugin_id, date, downloads, avg_rating, review_count)
		SELECT
			p.id,
			$1,
			COALESCE((SELECT COUNT(*) FROM plugin_downloads d
				WHERE d.plugin_id = p.id AND d.downloaded_at >= $1 AND d.downloaded_at < $2), 0),
			COALESCE((SELECT AVG(rating) FROM plugin_reviews rv WHERE rv.plugin_id = p.id), 0),
			COALESCE((SELECT COUNT(*) FROM plugin_reviews rv WHERE rv.plugin_id = p.id), 0)
		FROM plugins p
		ON CONFLICT (plugin_id, date)
		DO UPDATE SET downloads = EXCLUDED.downloads,
			avg_rating = EXCLUDED.avg_rating,
			review_count = EXCLUDED.review_count`,
		dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("failed to roll up stats for %s: %w", dayStart.Format("2006-01-02"), err)
	}
	return nil
}
