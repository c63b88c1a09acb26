package subcontract

import (
	"context"
	"fmt"
	"time"

	"github.com/sitecert-cpm/sitecert/internal/billing"
	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetBill(ctx context.Context, id int64) (Bill, error)
	ListBills(ctx context.Context, projectID, subcontractorID int64, limit, offset int) ([]Bill, int, error)
	// LatestBill returns the saved bill with the highest order number for
	// the subcontractor, or nil when none exists.
	LatestBill(ctx context.Context, projectID, subcontractorID int64) (*Bill, error)
	NextBillNumber(ctx context.Context, projectID, subcontractorID int64) (string, int, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertBill(ctx context.Context, bill Bill) (int64, error)
	UpdateStatus(ctx context.Context, id int64, status BillStatus) error
	SetPaid(ctx context.Context, id int64, at time.Time) error
}

// RegisterPort exposes the BOQ register snapshot.
type RegisterPort interface {
	GetRegister(ctx context.Context, projectID int64) (boq.Register, error)
}

// SourcePort supplies approved work-log quantities grouped by register line.
type SourcePort interface {
	ApprovedTotals(ctx context.Context, projectID int64, source string, ids []int64) (map[int64]float64, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates subcontractor billing.
type Service struct {
	repo      RepositoryPort
	registers RegisterPort
	sources   SourcePort
	approvals *shared.ApprovalRecorder
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, registers RegisterPort, sources SourcePort, approvals *shared.ApprovalRecorder, audit AuditPort) *Service {
	return &Service{repo: repo, registers: registers, sources: sources, approvals: approvals, audit: audit, now: time.Now}
}

// Save derives a subcontractor bill from the selected approved work logs and
// stores it as a draft. Carry-forward is per subcontractor: previous
// quantities come from that subcontractor's latest saved bill, not from the
// main-contract certificates.
func (s *Service) Save(ctx context.Context, input DraftInput) (Bill, error) {
	if err := input.Validate(); err != nil {
		return Bill{}, err
	}
	register, err := s.registers.GetRegister(ctx, input.ProjectID)
	if err != nil {
		return Bill{}, err
	}
	previous, err := s.repo.LatestBill(ctx, input.ProjectID, input.SubcontractorID)
	if err != nil {
		return Bill{}, err
	}
	currents, err := s.sources.ApprovedTotals(ctx, input.ProjectID, billing.SourceWorkLog, input.WorkLogIDs)
	if err != nil {
		return Bill{}, err
	}
	var previousItems []billing.BillItem
	if previous != nil {
		previousItems = previous.Items
	}
	items, err := billing.GenerateItems(register, previousItems, currents)
	if err != nil {
		return Bill{}, err
	}
	gross, retention, net := ComputeTotals(items, input.RetentionPercent)

	number, order, err := s.repo.NextBillNumber(ctx, input.ProjectID, input.SubcontractorID)
	if err != nil {
		return Bill{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	bill := Bill{
		ProjectID:        input.ProjectID,
		SubcontractorID:  input.SubcontractorID,
		BillNumber:       number,
		OrderOfBill:      order,
		Date:             date,
		Items:            items,
		GrossAmount:      gross,
		RetentionPercent: input.RetentionPercent,
		RetentionAmount:  retention,
		NetAmount:        net,
		Status:           StatusDraft,
		CreatedBy:        input.ActorID,
		CreatedAt:        s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = id
		return nil
	})
	if err != nil {
		return Bill{}, err
	}
	s.recordAudit(ctx, input.ActorID, "SUBBILL_SAVE", bill.ID, map[string]any{
		"bill_number": bill.BillNumber,
		"net":         bill.NetAmount,
	})
	return bill, nil
}

// Get returns a bill with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Bill, error) {
	return s.repo.GetBill(ctx, id)
}

// List enumerates bills, optionally narrowed to one subcontractor.
func (s *Service) List(ctx context.Context, projectID, subcontractorID int64, limit, offset int) ([]Bill, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListBills(ctx, projectID, subcontractorID, limit, offset)
}

// Submit freezes a draft for review.
func (s *Service) Submit(ctx context.Context, billID, actorID int64) error {
	return s.transition(ctx, billID, actorID, StatusDraft, StatusSubmitted, shared.ApprovalSubmit)
}

// Approve clears a submitted bill for payment.
func (s *Service) Approve(ctx context.Context, billID, actorID int64) error {
	return s.transition(ctx, billID, actorID, StatusSubmitted, StatusApproved, shared.ApprovalApprove)
}

// MarkPaid records payment of an approved bill. Terminal.
func (s *Service) MarkPaid(ctx context.Context, billID, actorID int64) error {
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	if bill.Status != StatusApproved {
		return ErrInvalidState
	}
	now := s.now()
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, billID, StatusPaid); err != nil {
			return err
		}
		return tx.SetPaid(ctx, billID, now)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "SUBBILL_PAID", billID, map[string]any{"bill_number": bill.BillNumber})
	return nil
}

func (s *Service) transition(ctx context.Context, billID, actorID int64, from, to BillStatus, action shared.ApprovalAction) error {
	bill, err := s.repo.GetBill(ctx, billID)
	if err != nil {
		return err
	}
	if bill.Status != from {
		return ErrInvalidState
	}
	refID := shared.ApprovalRef("SUBBILL", billID)
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, billID, to); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{
				Module:  "SUBBILL",
				RefID:   refID,
				ActorID: actorID,
				Action:  action,
				Note:    fmt.Sprintf("bill %s %s", bill.BillNumber, to),
			})
		}
		return nil
	})
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "subcontractor_bill",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
