package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (ContractBill, error)
	ListBills(ctx context.Context, projectID int64, limit, offset int) ([]ContractBill, int, error)
	// LatestBill returns the saved bill with the highest order number, or
	// nil when no bill exists yet.
	LatestBill(ctx context.Context, projectID int64) (*ContractBill, error)
	NextBillNumber(ctx context.Context, projectID int64) (string, int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertBill(ctx context.Context, bill ContractBill) (int64, error)
	UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error
	SaveRegister(ctx context.Context, next boq.Register, expectedRevision int64) error
}

// RegisterPort exposes the BOQ register snapshot.
type RegisterPort interface {
	GetRegister(ctx context.Context, projectID int64) (boq.Register, error)
}

// SourcePort supplies approved source quantities grouped by register line.
type SourcePort interface {
	ApprovedTotals(ctx context.Context, projectID int64, source string, ids []int64) (map[int64]float64, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates interim payment certificates.
type Service struct {
	repo        RepositoryPort
	registers   RegisterPort
	sources     SourcePort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       *SummaryCache
	policy      Policy
	now         func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, registers RegisterPort, sources SourcePort, audit AuditPort, idem *shared.IdempotencyStore, cache *SummaryCache, policy Policy) *Service {
	return &Service{
		repo:        repo,
		registers:   registers,
		sources:     sources,
		audit:       audit,
		idempotency: idem,
		cache:       cache,
		policy:      policy,
		now:         time.Now,
	}
}

// LineOverride replaces the measured current quantity of one certificate line.
type LineOverride struct {
	BOQItemID       int64   `json:"boq_item_id" validate:"required"`
	CurrentQuantity float64 `json:"current_quantity"`
}

// DraftInput carries everything a certificate is derived from. The same input
// serves preview and save: figures are always recomputed server side.
type DraftInput struct {
	ProjectID               int64          `json:"-"`
	MeasurementIDs          []int64        `json:"measurement_ids"`
	Overrides               []LineOverride `json:"overrides"`
	CPAAmount               float64        `json:"cpa_amount" validate:"gte=0"`
	ProvisionalSum          float64        `json:"provisional_sum" validate:"gte=0"`
	AdvancePaymentDeduction float64        `json:"advance_payment_deduction" validate:"gte=0"`
	LiquidatedDamages       float64        `json:"liquidated_damages" validate:"gte=0"`
	Date                    time.Time      `json:"date"`
	DateOfMeasurement       time.Time      `json:"date_of_measurement"`
	ActorID                 int64          `json:"-"`
}

// Preview derives the full certificate from the selected sources without
// persisting anything. Line overrides are applied after generation, each one
// recomputing only its own row.
func (s *Service) Preview(ctx context.Context, input DraftInput) (ContractBill, error) {
	register, err := s.registers.GetRegister(ctx, input.ProjectID)
	if err != nil {
		return ContractBill{}, err
	}
	return s.derive(ctx, register, input)
}

// Save derives the certificate once more, assigns the next sequential bill
// number, and commits the bill together with the register roll-forward in one
// transaction. The register write is an optimistic compare-and-set on the
// revision loaded during derivation, so a variation approved in between makes
// the save fail cleanly instead of certifying against stale lines. Saved
// bills are immutable.
func (s *Service) Save(ctx context.Context, input DraftInput) (ContractBill, error) {
	register, err := s.registers.GetRegister(ctx, input.ProjectID)
	if err != nil {
		return ContractBill{}, err
	}
	bill, err := s.derive(ctx, register, input)
	if err != nil {
		return ContractBill{}, err
	}

	number, order, err := s.repo.NextBillNumber(ctx, input.ProjectID)
	if err != nil {
		return ContractBill{}, err
	}
	bill.BillNumber = number
	bill.OrderOfBill = order
	bill.Status = BillStatusDraft
	bill.CreatedBy = input.ActorID
	bill.CreatedAt = s.now()

	cmds := RollForwardCommands(register, bill.Items)
	next, _, err := register.Apply(cmds)
	if err != nil {
		return ContractBill{}, err
	}

	key := fmt.Sprintf("IPC:%d:%d:save", input.ProjectID, order)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "billing.save"); err != nil {
			return ContractBill{}, err
		}
		inserted = true
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		if len(cmds) == 0 {
			return nil
		}
		return tx.SaveRegister(ctx, next, register.Revision)
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return ContractBill{}, err
	}

	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, input.ProjectID)
	}
	s.recordAudit(ctx, input.ActorID, "IPC_SAVE", bill.ID, map[string]any{
		"bill_number": bill.BillNumber,
		"payable":     bill.Summary.TotalAmountPayable,
	})
	return bill, nil
}

// Issue marks a saved draft certificate as issued. Figures are already frozen
// at save time; this only flips the workflow status.
func (s *Service) Issue(ctx context.Context, billID, actorID int64) error {
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	if bill.Status != BillStatusDraft {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateBillStatus(ctx, billID, BillStatusIssued)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "IPC_ISSUE", billID, map[string]any{"bill_number": bill.BillNumber})
	return nil
}

// Get returns a certificate with its lines.
func (s *Service) Get(ctx context.Context, id int64) (ContractBill, error) {
	return s.repo.GetBill(ctx, id)
}

// List enumerates certificates for a project, newest order first.
func (s *Service) List(ctx context.Context, projectID int64, limit, offset int) ([]ContractBill, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListBills(ctx, projectID, limit, offset)
}

// Latest returns the saved certificate with the highest order number.
func (s *Service) Latest(ctx context.Context, projectID int64) (ContractBill, error) {
	bill, err := s.repo.LatestBill(ctx, projectID)
	if err != nil {
		return ContractBill{}, err
	}
	if bill == nil {
		return ContractBill{}, ErrNotFound
	}
	return *bill, nil
}

// LatestSummary returns the latest certificate summary, served from cache
// when warm.
func (s *Service) LatestSummary(ctx context.Context, projectID int64) (Summary, error) {
	if s.cache == nil {
		bill, err := s.Latest(ctx, projectID)
		if err != nil {
			return Summary{}, err
		}
		return bill.Summary, nil
	}
	return s.cache.Latest(ctx, projectID, func(ctx context.Context) (Summary, error) {
		bill, err := s.Latest(ctx, projectID)
		if err != nil {
			return Summary{}, err
		}
		return bill.Summary, nil
	})
}

func (s *Service) derive(ctx context.Context, register boq.Register, input DraftInput) (ContractBill, error) {
	previous, err := s.repo.LatestBill(ctx, input.ProjectID)
	if err != nil {
		return ContractBill{}, err
	}
	currents, err := s.sources.ApprovedTotals(ctx, input.ProjectID, SourceMeasurement, input.MeasurementIDs)
	if err != nil {
		return ContractBill{}, err
	}
	var previousItems []BillItem
	if previous != nil {
		previousItems = previous.Items
	}
	items, err := GenerateItems(register, previousItems, currents)
	if err != nil {
		return ContractBill{}, err
	}
	for _, o := range input.Overrides {
		items, err = RecomputeLine(items, o.BOQItemID, o.CurrentQuantity)
		if err != nil {
			return ContractBill{}, err
		}
	}

	summary, err := ComputeSummary(SummaryInput{
		Items:                   items,
		CPAAmount:               input.CPAAmount,
		ProvisionalSum:          input.ProvisionalSum,
		AdvancePaymentDeduction: input.AdvancePaymentDeduction,
		LiquidatedDamages:       input.LiquidatedDamages,
	}, s.policy)
	if err != nil {
		return ContractBill{}, err
	}

	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	return ContractBill{
		ProjectID:               input.ProjectID,
		Date:                    date,
		DateOfMeasurement:       input.DateOfMeasurement,
		Items:                   items,
		ProvisionalSum:          input.ProvisionalSum,
		CPAAmount:               input.CPAAmount,
		AdvancePaymentDeduction: input.AdvancePaymentDeduction,
		LiquidatedDamages:       input.LiquidatedDamages,
		Summary:                 summary,
	}, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "contract_bill",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}

// SourceMeasurement selects approved measurement-sheet quantities.
const SourceMeasurement = "MEASUREMENT"

// SourceWorkLog selects approved work-log quantities.
const SourceWorkLog = "WORKLOG"
