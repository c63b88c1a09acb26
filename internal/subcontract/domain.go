package subcontract

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sitecert-cpm/sitecert/internal/billing"
)

// BillStatus is the subcontractor bill workflow state.
type BillStatus string

const (
	StatusDraft     BillStatus = "DRAFT"
	StatusSubmitted BillStatus = "SUBMITTED"
	StatusApproved  BillStatus = "APPROVED"
	StatusPaid      BillStatus = "PAID"
)

// Bill is a subcontractor payment bill. It parallels the main-contract
// certificate but carries no VAT or statutory deduction chain: retention is
// the only deduction, at an operator-chosen percentage per bill.
type Bill struct {
	ID               int64              `json:"id"`
	ProjectID        int64              `json:"project_id"`
	SubcontractorID  int64              `json:"subcontractor_id"`
	BillNumber       string             `json:"bill_number"`
	OrderOfBill      int                `json:"order_of_bill"`
	Date             time.Time          `json:"date"`
	Items            []billing.BillItem `json:"items,omitempty"`
	GrossAmount      float64            `json:"gross_amount"`
	RetentionPercent float64            `json:"retention_percent"`
	RetentionAmount  float64            `json:"retention_amount"`
	NetAmount        float64            `json:"net_amount"`
	Status           BillStatus         `json:"status"`
	CreatedBy        int64              `json:"created_by"`
	CreatedAt        time.Time          `json:"created_at"`
	PaidAt           *time.Time         `json:"paid_at,omitempty"`
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ComputeTotals derives the bill figures. Gross is the sum of current-period
// amounts only: up-to-date figures track progress but are not paid twice.
func ComputeTotals(items []billing.BillItem, retentionPercent float64) (gross, retention, net float64) {
	for _, it := range items {
		gross += it.CurrentAmount
	}
	gross = round2(gross)
	retention = round2(gross * retentionPercent / 100)
	net = round2(gross - retention)
	return gross, retention, net
}

// DraftInput carries everything a subcontractor bill is derived from.
type DraftInput struct {
	ProjectID        int64          `json:"-"`
	SubcontractorID  int64          `json:"subcontractor_id" validate:"required"`
	WorkLogIDs       []int64        `json:"work_log_ids"`
	RetentionPercent float64        `json:"retention_percent" validate:"gte=0,lte=100"`
	Date             time.Time      `json:"date"`
	ActorID          int64          `json:"-"`
}

var (
	// ErrNotFound indicates a missing bill.
	ErrNotFound = errors.New("subcontract: bill not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("subcontract: invalid state transition")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("subcontract: invalid input")
)

// Validate checks structural validity.
func (in DraftInput) Validate() error {
	if in.SubcontractorID == 0 {
		return fmt.Errorf("%w: subcontractor required", ErrValidation)
	}
	if in.RetentionPercent < 0 || in.RetentionPercent > 100 {
		return fmt.Errorf("%w: retention percent out of range", ErrValidation)
	}
	return nil
}
