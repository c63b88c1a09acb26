package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity scans project registers for inconsistent quantities.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskSummaryWarmup pre-populates the latest-certificate summary cache.
	TaskSummaryWarmup = "summary:warmup"
)

// LedgerIntegrityPayload scopes an integrity scan. ProjectID zero scans all
// projects.
type LedgerIntegrityPayload struct {
	ProjectID int64 `json:"project_id"`
}

// NewLedgerIntegrityTask constructs an Asynq task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewSummaryWarmupTask constructs an Asynq task.
func NewSummaryWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskSummaryWarmup, nil)
}
