package billing

import (
	"errors"
	"time"
)

// Contract bill lifecycle statuses. A bill is frozen once saved; issuance is
// the only transition left open.
type BillStatus string

const (
	BillStatusDraft  BillStatus = "DRAFT"
	BillStatusIssued BillStatus = "ISSUED"
)

// BillItem is one line of an interim payment certificate. Previous quantities
// carry forward from the latest saved certificate, current quantities come
// from the selected measurement entries.
type BillItem struct {
	BOQItemID        int64   `json:"boq_item_id"`
	ItemNo           string  `json:"item_no"`
	Description      string  `json:"description"`
	Unit             string  `json:"unit"`
	ContractQuantity float64 `json:"contract_quantity"`
	Rate             float64 `json:"rate"`
	PreviousQuantity float64 `json:"previous_quantity"`
	CurrentQuantity  float64 `json:"current_quantity"`
	UptoDateQuantity float64 `json:"upto_date_quantity"`
	PreviousAmount   float64 `json:"previous_amount"`
	CurrentAmount    float64 `json:"current_amount"`
	UptoDateAmount   float64 `json:"upto_date_amount"`
}

// Summary holds the derived certificate figures. The derivation order in
// ComputeSummary is a policy contract; every field is rounded to two decimal
// places at its own step.
type Summary struct {
	BillAmountGross     float64 `json:"bill_amount_gross"`
	BillAmountWithCPA   float64 `json:"bill_amount_with_cpa"`
	BillAmountWithoutPS float64 `json:"bill_amount_without_ps"`
	VATAmount           float64 `json:"vat_amount"`
	TotalBillWithVAT    float64 `json:"total_bill_with_vat"`
	RetentionAmount     float64 `json:"retention_amount"`
	AdvanceIncomeTax    float64 `json:"advance_income_tax"`
	ContractorDevFund   float64 `json:"contractor_dev_fund"`
	DeductibleVAT       float64 `json:"deductible_vat"`
	TotalAmountPayable  float64 `json:"total_amount_payable"`
}

// ContractBill is an interim payment certificate against the main contract.
type ContractBill struct {
	ID                      int64      `json:"id"`
	ProjectID               int64      `json:"project_id"`
	BillNumber              string     `json:"bill_number"`
	OrderOfBill             int        `json:"order_of_bill"`
	Date                    time.Time  `json:"date"`
	DateOfMeasurement       time.Time  `json:"date_of_measurement"`
	Items                   []BillItem `json:"items,omitempty"`
	ProvisionalSum          float64    `json:"provisional_sum"`
	CPAAmount               float64    `json:"cpa_amount"`
	AdvancePaymentDeduction float64    `json:"advance_payment_deduction"`
	LiquidatedDamages       float64    `json:"liquidated_damages"`
	Summary                 Summary    `json:"summary"`
	Status                  BillStatus `json:"status"`
	CreatedBy               int64      `json:"created_by"`
	CreatedAt               time.Time  `json:"created_at"`
}

// Policy carries the statutory rates applied to a certificate. Defaults match
// the statutory schedule; deployments may override through configuration.
type Policy struct {
	VATRate               float64
	RetentionRate         float64
	AdvanceIncomeTaxRate  float64
	ContractorDevFundRate float64
	DeductibleVATShare    float64
}

// DefaultPolicy returns the statutory rates.
func DefaultPolicy() Policy {
	return Policy{
		VATRate:               0.13,
		RetentionRate:         0.05,
		AdvanceIncomeTaxRate:  0.015,
		ContractorDevFundRate: 0.001,
		DeductibleVATShare:    0.30,
	}
}

var (
	// ErrNotFound indicates a missing bill.
	ErrNotFound = errors.New("billing: bill not found")
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("billing: invalid state transition")
	// ErrUnknownBOQItem occurs when a source quantity references a line
	// missing from the register.
	ErrUnknownBOQItem = errors.New("billing: unknown boq item reference")
	// ErrNegativeCertificate occurs when the provisional sum exceeds the
	// certified work value. Such a certificate is refused rather than issued
	// with negative VAT and payable figures.
	ErrNegativeCertificate = errors.New("billing: provisional sum exceeds certified amount")
	// ErrNegativeQuantity occurs when a current-period quantity is negative.
	ErrNegativeQuantity = errors.New("billing: current quantity must not be negative")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("billing: invalid input")
)
