package variation

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
	GetVO(ctx context.Context, id int64) (VariationOrder, error)
	ListVOs(ctx context.Context, projectID int64, limit, offset int) ([]VariationOrder, int, error)
	NextVONumber(ctx context.Context, projectID int64) (string, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertVO(ctx context.Context, vo VariationOrder) (int64, error)
	InsertItem(ctx context.Context, item VariationItem) (int64, error)
	DeleteItem(ctx context.Context, voID, itemID int64) error
	UpdateVOStatus(ctx context.Context, id int64, status VOStatus) error
	UpdateTotalImpact(ctx context.Context, id int64, total float64) error
	SetApproval(ctx context.Context, id int64, actorID int64, at time.Time) error
	DeleteVO(ctx context.Context, id int64) error
	SaveRegister(ctx context.Context, next boq.Register, expectedRevision int64) error
}

// RegisterPort exposes the BOQ register snapshot.
type RegisterPort interface {
	GetRegister(ctx context.Context, projectID int64) (boq.Register, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the variation order lifecycle.
type Service struct {
	repo        RepositoryPort
	registers   RegisterPort
	approvals   *shared.ApprovalRecorder
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	now         func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, registers RegisterPort, approvals *shared.ApprovalRecorder, audit AuditPort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, registers: registers, approvals: approvals, audit: audit, idempotency: idem, now: time.Now}
}

// CreateDraft initialises an empty draft order with a fresh sequential number.
func (s *Service) CreateDraft(ctx context.Context, input CreateDraftInput) (VariationOrder, error) {
	if err := input.Validate(); err != nil {
		return VariationOrder{}, err
	}
	number, err := s.repo.NextVONumber(ctx, input.ProjectID)
	if err != nil {
		return VariationOrder{}, err
	}
	date := input.Date
	if date.IsZero() {
		date = s.now()
	}
	vo := VariationOrder{
		ProjectID: input.ProjectID,
		VONumber:  number,
		Title:     input.Title,
		Reason:    input.Reason,
		Date:      date,
		Status:    VOStatusDraft,
		CreatedBy: input.ActorID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertVO(ctx, vo)
		if err != nil {
			return err
		}
		vo.ID = id
		return nil
	})
	if err != nil {
		return VariationOrder{}, err
	}
	s.recordAudit(ctx, input.ActorID, "VO_CREATE", vo.ID, map[string]any{"vo_number": vo.VONumber})
	return vo, nil
}

// Get returns an order with its staged items.
func (s *Service) Get(ctx context.Context, id int64) (VariationOrder, error) {
	return s.repo.GetVO(ctx, id)
}

// List enumerates orders for a project.
func (s *Service) List(ctx context.Context, projectID int64, limit, offset int) ([]VariationOrder, int, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.repo.ListVOs(ctx, projectID, limit, offset)
}

// StageItem appends a staged delta to a draft order.
func (s *Service) StageItem(ctx context.Context, voID int64, input StageItemInput) (VariationItem, error) {
	if err := input.Validate(); err != nil {
		return VariationItem{}, err
	}
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return VariationItem{}, err
	}
	if vo.Status != VOStatusDraft {
		return VariationItem{}, ErrInvalidState
	}
	item := VariationItem{
		VOID:          voID,
		BOQItemID:     input.BOQItemID,
		IsNewItem:     input.IsNewItem,
		Description:   input.Description,
		Unit:          input.Unit,
		QuantityDelta: input.QuantityDelta,
		Rate:          input.Rate,
	}
	if !input.IsNewItem {
		register, err := s.registers.GetRegister(ctx, vo.ProjectID)
		if err != nil {
			return VariationItem{}, err
		}
		line, ok := register.Find(input.BOQItemID)
		if !ok {
			return VariationItem{}, fmt.Errorf("%w: id %d", ErrUnknownBOQItem, input.BOQItemID)
		}
		item.Description = line.Description
		item.Unit = line.Unit
		item.Rate = line.Rate
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertItem(ctx, item)
		if err != nil {
			return err
		}
		item.ID = id
		return tx.UpdateTotalImpact(ctx, voID, TotalImpact(append(vo.Items, item)))
	})
	if err != nil {
		return VariationItem{}, err
	}
	return item, nil
}

// RemoveItem drops a staged delta. Valid only while the order is a draft.
func (s *Service) RemoveItem(ctx context.Context, voID, itemID int64) error {
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return err
	}
	if vo.Status != VOStatusDraft {
		return ErrInvalidState
	}
	remaining := make([]VariationItem, 0, len(vo.Items))
	found := false
	for _, item := range vo.Items {
		if item.ID == itemID {
			found = true
			continue
		}
		remaining = append(remaining, item)
	}
	if !found {
		return ErrItemNotFound
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeleteItem(ctx, voID, itemID); err != nil {
			return err
		}
		return tx.UpdateTotalImpact(ctx, voID, TotalImpact(remaining))
	})
}

// Submit freezes a draft for review.
func (s *Service) Submit(ctx context.Context, voID, actorID int64) error {
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return err
	}
	if vo.Status != VOStatusDraft {
		return ErrInvalidState
	}
	if len(vo.Items) == 0 {
		return fmt.Errorf("variation: order %s has no staged items", vo.VONumber)
	}
	refID := shared.ApprovalRef("VO", voID)
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateVOStatus(ctx, voID, VOStatusSubmitted); err != nil {
			return err
		}
		if err := tx.UpdateTotalImpact(ctx, voID, TotalImpact(vo.Items)); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.EnsureSubmit(ctx, "VO", refID, actorID, fmt.Sprintf("VO %s submitted", vo.VONumber))
		}
		return nil
	})
}

// Approve applies the order against the register. The register mutation and
// the status flip commit in one transaction; an unknown line reference aborts
// the whole approval. Approval is terminal.
func (s *Service) Approve(ctx context.Context, voID, actorID int64) ([]boq.Warning, error) {
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return nil, err
	}
	if vo.Status != VOStatusSubmitted {
		return nil, ErrInvalidState
	}
	register, err := s.registers.GetRegister(ctx, vo.ProjectID)
	if err != nil {
		return nil, err
	}
	cmds, err := BuildCommands(register, vo)
	if err != nil {
		return nil, err
	}
	next, warnings, err := register.Apply(cmds)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("VO:%s:approve", vo.VONumber)
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "variation.approve"); err != nil {
			return nil, err
		}
		inserted = true
	}

	now := s.now()
	refID := shared.ApprovalRef("VO", voID)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.SaveRegister(ctx, next, register.Revision); err != nil {
			return err
		}
		if err := tx.UpdateVOStatus(ctx, voID, VOStatusApproved); err != nil {
			return err
		}
		if err := tx.SetApproval(ctx, voID, actorID, now); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "VO", RefID: refID, ActorID: actorID, Action: shared.ApprovalApprove, Note: fmt.Sprintf("VO %s approved", vo.VONumber)})
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return nil, err
	}
	s.recordAudit(ctx, actorID, "VO_APPROVE", voID, map[string]any{
		"vo_number":    vo.VONumber,
		"total_impact": TotalImpact(vo.Items),
		"revision":     next.Revision,
	})
	return warnings, nil
}

// Reject returns a submitted order to the author.
func (s *Service) Reject(ctx context.Context, voID, actorID int64, note string) error {
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return err
	}
	if vo.Status != VOStatusSubmitted {
		return ErrInvalidState
	}
	refID := shared.ApprovalRef("VO", voID)
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateVOStatus(ctx, voID, VOStatusRejected); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "VO", RefID: refID, ActorID: actorID, Action: shared.ApprovalReject, Note: note})
		}
		return nil
	})
}

// ReviseDraft reopens a rejected order for editing.
func (s *Service) ReviseDraft(ctx context.Context, voID, actorID int64) error {
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return err
	}
	if vo.Status != VOStatusRejected {
		return ErrInvalidState
	}
	refID := shared.ApprovalRef("VO", voID)
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateVOStatus(ctx, voID, VOStatusDraft); err != nil {
			return err
		}
		if s.approvals != nil {
			_ = s.approvals.Record(ctx, shared.ApprovalLog{Module: "VO", RefID: refID, ActorID: actorID, Action: shared.ApprovalRevise, Note: fmt.Sprintf("VO %s reopened", vo.VONumber)})
		}
		return nil
	})
}

// Delete removes an order. Permitted only while it is a draft.
func (s *Service) Delete(ctx context.Context, voID, actorID int64) error {
	vo, err := s.repo.GetVO(ctx, voID)
	if err != nil {
		return err
	}
	if vo.Status != VOStatusDraft {
		return ErrInvalidState
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.DeleteVO(ctx, voID)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "VO_DELETE", voID, map[string]any{"vo_number": vo.VONumber})
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "variation_order",
		EntityID: fmt.Sprintf("%d", id),
		Meta:     meta,
	})
}
