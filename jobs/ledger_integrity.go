package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

// RegisterScanner reports over-certified register lines.
type RegisterScanner interface {
	OverCertifiedLines(ctx context.Context, projectID int64) ([]boq.OverCertifiedLine, error)
}

// LedgerIntegrityChecker scans registers for lines whose completed quantity
// exceeds the revised quantity, the condition variation approvals warn about
// and roll-forwards must never create. Findings are logged for the
// reconciliation review, not auto-corrected.
type LedgerIntegrityChecker struct {
	registers RegisterScanner
	logger    *slog.Logger
}

// NewLedgerIntegrityChecker constructs the checker.
func NewLedgerIntegrityChecker(registers RegisterScanner, logger *slog.Logger) *LedgerIntegrityChecker {
	return &LedgerIntegrityChecker{registers: registers, logger: logger}
}

// Run executes the scan.
func (c *LedgerIntegrityChecker) Run(ctx context.Context, projectID int64) error {
	lines, err := c.registers.OverCertifiedLines(ctx, projectID)
	if err != nil {
		return err
	}
	for _, l := range lines {
		c.logger.Warn("register line over-certified",
			slog.Int64("project_id", l.ProjectID),
			slog.Int64("item_id", l.ItemID),
			slog.String("item_no", l.ItemNo),
			slog.Float64("revised", l.RevisedQuantity),
			slog.Float64("completed", l.CompletedQuantity),
		)
	}
	c.logger.Info("ledger integrity scan finished",
		slog.Int64("project_id", projectID),
		slog.Int("findings", len(lines)),
	)
	return nil
}

// Handler adapts the checker to an Asynq task handler.
func (c *LedgerIntegrityChecker) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload LedgerIntegrityPayload
		if len(t.Payload()) > 0 {
			if err := json.Unmarshal(t.Payload(), &payload); err != nil {
				return asynq.SkipRetry
			}
		}
		return c.Run(ctx, payload.ProjectID)
	}
}
