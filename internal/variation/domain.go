package variation

import (
	"errors"
	"strings"
	"time"
)

// Variation order lifecycle statuses. Submitted orders are frozen until
// approved, rejected or revised back to draft; approval is terminal.
type VOStatus string

const (
	VOStatusDraft     VOStatus = "DRAFT"
	VOStatusSubmitted VOStatus = "SUBMITTED"
	VOStatusApproved  VOStatus = "APPROVED"
	VOStatusRejected  VOStatus = "REJECTED"
)

// VariationOrder stages contract-scope changes against the BOQ register.
type VariationOrder struct {
	ID          int64           `json:"id"`
	ProjectID   int64           `json:"project_id"`
	VONumber    string          `json:"vo_number"`
	Title       string          `json:"title"`
	Reason      string          `json:"reason"`
	Date        time.Time       `json:"date"`
	Status      VOStatus        `json:"status"`
	TotalImpact float64         `json:"total_impact"`
	Items       []VariationItem `json:"items,omitempty"`
	CreatedBy   int64           `json:"created_by"`
	ApprovedBy  *int64          `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `json:"approved_at,omitempty"`
}

// VariationItem is one staged delta: either against an existing BOQ line or a
// new-scope line.
type VariationItem struct {
	ID            int64   `json:"id"`
	VOID          int64   `json:"vo_id"`
	BOQItemID     int64   `json:"boq_item_id,omitempty"`
	IsNewItem     bool    `json:"is_new_item"`
	Description   string  `json:"description"`
	Unit          string  `json:"unit"`
	QuantityDelta float64 `json:"quantity_delta"`
	Rate          float64 `json:"rate"`
}

// Impact is the signed value of the staged delta.
func (i VariationItem) Impact() float64 {
	return i.QuantityDelta * i.Rate
}

// CreateDraftInput captures VO creation input.
type CreateDraftInput struct {
	ProjectID int64
	Title     string
	Reason    string
	Date      time.Time
	ActorID   int64
}

// Validate ensures correctness.
func (in CreateDraftInput) Validate() error {
	if in.ProjectID == 0 {
		return errors.New("variation: project required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return errors.New("variation: title required")
	}
	if in.ActorID == 0 {
		return errors.New("variation: actor required")
	}
	return nil
}

// StageItemInput captures a staged delta.
type StageItemInput struct {
	BOQItemID     int64
	IsNewItem     bool
	Description   string
	Unit          string
	QuantityDelta float64
	Rate          float64
}

// Validate ensures correctness. Negative deltas are legal scope reductions;
// zero deltas carry no change and are rejected.
func (in StageItemInput) Validate() error {
	if in.QuantityDelta == 0 {
		return errors.New("variation: quantity delta must not be zero")
	}
	if in.IsNewItem {
		if strings.TrimSpace(in.Description) == "" {
			return errors.New("variation: new item requires description")
		}
		if in.Rate < 0 {
			return errors.New("variation: rate must not be negative")
		}
		return nil
	}
	if in.BOQItemID == 0 {
		return errors.New("variation: boq item reference required")
	}
	return nil
}

var (
	// ErrNotFound indicates a missing variation order.
	ErrNotFound = errors.New("variation: order not found")
	// ErrItemNotFound indicates a missing staged item.
	ErrItemNotFound = errors.New("variation: staged item not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("variation: invalid state transition")
	// ErrUnknownBOQItem occurs when a staged delta references a line missing
	// from the register. The whole approval fails without partial mutation.
	ErrUnknownBOQItem = errors.New("variation: unknown boq item reference")
)
