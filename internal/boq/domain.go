package boq

import (
	"errors"
	"strings"
)

// Item categories.
const (
	CategoryContract  = "Contract Work"
	CategoryExtraWork = "Extra Work"
)

// Item is one contract line in the bill of quantities.
type Item struct {
	ID                int64   `json:"id"`
	ProjectID         int64   `json:"project_id"`
	ItemNo            string  `json:"item_no"`
	Description       string  `json:"description"`
	Unit              string  `json:"unit"`
	Category          string  `json:"category"`
	ContractQuantity  float64 `json:"contract_quantity"`
	Rate              float64 `json:"rate"`
	VariationQuantity float64 `json:"variation_quantity"`
	RevisedQuantity   float64 `json:"revised_quantity"`
	CompletedQuantity float64 `json:"completed_quantity"`
}

// Amount returns the revised contract value of the line.
func (i Item) Amount() float64 {
	return round2(i.RevisedQuantity * i.Rate)
}

// Register is the authoritative list of contract lines for one project.
// Engines receive a snapshot and produce commands; the repository applies
// commands with a compare-and-swap on Revision.
type Register struct {
	ProjectID int64   `json:"project_id"`
	Revision  int64   `json:"revision"`
	Items     []Item  `json:"items"`
}

// OverCertifiedLine is a register line whose completed quantity exceeds its
// revised quantity, typically after an approved scope reduction.
type OverCertifiedLine struct {
	ProjectID         int64
	ItemID            int64
	ItemNo            string
	RevisedQuantity   float64
	CompletedQuantity float64
}

// CreateItemInput captures a new contract line.
type CreateItemInput struct {
	ProjectID        int64
	ItemNo           string
	Description      string
	Unit             string
	ContractQuantity float64
	Rate             float64
}

// Validate ensures correctness.
func (in CreateItemInput) Validate() error {
	if in.ProjectID == 0 {
		return errors.New("boq: project required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return errors.New("boq: description required")
	}
	if in.ContractQuantity < 0 {
		return errors.New("boq: contract quantity must not be negative")
	}
	if in.Rate < 0 {
		return errors.New("boq: rate must not be negative")
	}
	return nil
}

var (
	// ErrItemNotFound occurs when a line item is missing.
	ErrItemNotFound = errors.New("boq: item not found")
	// ErrRegisterNotFound occurs when a project has no register.
	ErrRegisterNotFound = errors.New("boq: register not found")
	// ErrRevisionConflict occurs when a mutation races a concurrent writer.
	ErrRevisionConflict = errors.New("boq: register revision conflict")
	// ErrCompletedRegression occurs when a roll-forward would decrease a
	// cumulative completed quantity.
	ErrCompletedRegression = errors.New("boq: completed quantity must not decrease")
)
