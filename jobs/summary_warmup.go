package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecert-cpm/sitecert/internal/billing"
)

// SummaryWarmer pre-populates the latest-certificate summary cache for every
// project that has saved bills, so dashboard reads after a deploy or cache
// flush do not all hit the database at once.
type SummaryWarmer struct {
	pool    *pgxpool.Pool
	billing *billing.Service
	logger  *slog.Logger
}

// NewSummaryWarmer constructs the warmer.
func NewSummaryWarmer(pool *pgxpool.Pool, svc *billing.Service, logger *slog.Logger) *SummaryWarmer {
	return &SummaryWarmer{pool: pool, billing: svc, logger: logger}
}

// Run warms the cache for every billed project.
func (w *SummaryWarmer) Run(ctx context.Context) error {
	rows, err := w.pool.Query(ctx, `SELECT DISTINCT project_id FROM contract_bills`)
	if err != nil {
		return err
	}
	defer rows.Close()

	var projectIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		projectIDs = append(projectIDs, id)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	warmed := 0
	for _, id := range projectIDs {
		if _, err := w.billing.LatestSummary(ctx, id); err != nil {
			if errors.Is(err, billing.ErrNotFound) {
				continue
			}
			w.logger.Warn("summary warmup", slog.Int64("project_id", id), slog.Any("error", err))
			continue
		}
		warmed++
	}
	w.logger.Info("summary warmup finished", slog.Int("projects", warmed))
	return nil
}

// Handler adapts the warmer to an Asynq task handler.
func (w *SummaryWarmer) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		return w.Run(ctx)
	}
}
