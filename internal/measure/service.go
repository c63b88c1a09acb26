package measure

import (
	"context"
	"fmt"
	"time"

	"github.com/sitecert-cpm/sitecert/internal/boq"
	"github.com/sitecert-cpm/sitecert/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	Insert(ctx context.Context, entry Entry) (int64, error)
	Get(ctx context.Context, id int64) (Entry, error)
	List(ctx context.Context, projectID int64, source Source, status EntryStatus, limit, offset int) ([]Entry, int, error)
	SetApproved(ctx context.Context, id, actorID int64) error
	ApprovedTotals(ctx context.Context, projectID int64, source Source, ids []int64) (map[int64]float64, error)
}

// RegisterPort exposes the BOQ register snapshot.
type RegisterPort interface {
	GetRegister(ctx context.Context, projectID int64) (boq.Register, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages measurement sheet and work log entries.
type Service struct {
	repo      RepositoryPort
	registers RegisterPort
	audit     AuditPort
	now       func() time.Time
}

// NewService constructs the service.
func NewService(repo RepositoryPort, registers RegisterPort, audit AuditPort) *Service {
	return &Service{repo: repo, registers: registers, audit: audit, now: time.Now}
}

// Record stores a new pending entry. The register reference is validated at
// record time so billing never sees a dangling line.
func (s *Service) Record(ctx context.Context, input RecordInput) (Entry, error) {
	if err := input.Validate(); err != nil {
		return Entry{}, err
	}
	register, err := s.registers.GetRegister(ctx, input.ProjectID)
	if err != nil {
		return Entry{}, err
	}
	if _, ok := register.Find(input.BOQItemID); !ok {
		return Entry{}, fmt.Errorf("%w: id %d", ErrUnknownBOQItem, input.BOQItemID)
	}
	measuredAt := input.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = s.now()
	}
	entry := Entry{
		ProjectID:  input.ProjectID,
		BOQItemID:  input.BOQItemID,
		Source:     input.Source,
		RefNo:      input.RefNo,
		Quantity:   input.Quantity,
		Status:     StatusPending,
		MeasuredAt: measuredAt,
		RecordedBy: input.ActorID,
	}
	id, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	return entry, nil
}

// Approve releases a pending entry for billing.
func (s *Service) Approve(ctx context.Context, id, actorID int64) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if entry.Status != StatusPending {
		return ErrInvalidState
	}
	if err := s.repo.SetApproved(ctx, id, actorID); err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "MEASURE_APPROVE",
			Entity:   "measure_entry",
			EntityID: fmt.Sprintf("%d", id),
			Meta:     map[string]any{"ref_no": entry.RefNo, "quantity": entry.Quantity},
		})
	}
	return nil
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, id int64) (Entry, error) {
	return s.repo.Get(ctx, id)
}

// List enumerates entries for a project, optionally filtered by source and
// status.
func (s *Service) List(ctx context.Context, projectID int64, source Source, status EntryStatus, limit, offset int) ([]Entry, int, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.repo.List(ctx, projectID, source, status, limit, offset)
}

// ApprovedTotals sums approved quantities per register line for the given
// source. An empty id list selects every approved entry of that source; this
// is the billing feed.
func (s *Service) ApprovedTotals(ctx context.Context, projectID int64, source string, ids []int64) (map[int64]float64, error) {
	src := Source(source)
	switch src {
	case SourceMeasurement, SourceWorkLog:
	default:
		return nil, fmt.Errorf("%w: unknown source %q", ErrValidation, source)
	}
	return s.repo.ApprovedTotals(ctx, projectID, src, ids)
}
