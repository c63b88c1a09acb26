package measure

import (
	"errors"
	"fmt"
	"time"
)

// Source distinguishes where a quantity record came from. Measurement sheets
// feed main-contract certificates, work logs feed subcontractor bills.
type Source string

const (
	SourceMeasurement Source = "MEASUREMENT"
	SourceWorkLog     Source = "WORKLOG"
)

// EntryStatus is the review state of a quantity record. Only approved entries
// may be billed.
type EntryStatus string

const (
	StatusPending  EntryStatus = "PENDING"
	StatusApproved EntryStatus = "APPROVED"
)

// Entry is one recorded quantity against a register line.
type Entry struct {
	ID         int64       `json:"id"`
	ProjectID  int64       `json:"project_id"`
	BOQItemID  int64       `json:"boq_item_id"`
	Source     Source      `json:"source"`
	RefNo      string      `json:"ref_no"`
	Quantity   float64     `json:"quantity"`
	Status     EntryStatus `json:"status"`
	MeasuredAt time.Time   `json:"measured_at"`
	RecordedBy int64       `json:"recorded_by"`
	ApprovedBy *int64      `json:"approved_by,omitempty"`
}

// RecordInput captures a new quantity record.
type RecordInput struct {
	ProjectID  int64
	BOQItemID  int64
	Source     Source
	RefNo      string
	Quantity   float64
	MeasuredAt time.Time
	ActorID    int64
}

// Validate checks structural validity.
func (in RecordInput) Validate() error {
	if in.BOQItemID == 0 {
		return fmt.Errorf("%w: boq item required", ErrValidation)
	}
	if in.Quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	switch in.Source {
	case SourceMeasurement, SourceWorkLog:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrValidation, in.Source)
	}
	return nil
}

var (
	// ErrNotFound indicates a missing entry.
	ErrNotFound = errors.New("measure: entry not found")
	// ErrInvalidState occurs when an action violates the review workflow.
	ErrInvalidState = errors.New("measure: invalid state transition")
	// ErrUnknownBOQItem occurs when a record references a line missing
	// from the register.
	ErrUnknownBOQItem = errors.New("measure: unknown boq item reference")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("measure: invalid input")
)
