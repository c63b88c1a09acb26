package boq

import (
	"context"
	"fmt"
)

// RepositoryPort describes register persistence used by Service.
type RepositoryPort interface {
	GetRegister(ctx context.Context, projectID int64) (Register, error)
	EnsureRegister(ctx context.Context, projectID int64) error
	CreateItem(ctx context.Context, item Item) (Item, error)
}

// Service manages contract line items.
type Service struct {
	repo RepositoryPort
}

// NewService builds the service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetRegister returns the current register snapshot.
func (s *Service) GetRegister(ctx context.Context, projectID int64) (Register, error) {
	return s.repo.GetRegister(ctx, projectID)
}

// CreateItem validates and stores a contract line.
func (s *Service) CreateItem(ctx context.Context, input CreateItemInput) (Item, error) {
	if err := input.Validate(); err != nil {
		return Item{}, err
	}
	if err := s.repo.EnsureRegister(ctx, input.ProjectID); err != nil {
		return Item{}, err
	}
	itemNo := input.ItemNo
	if itemNo == "" {
		reg, err := s.repo.GetRegister(ctx, input.ProjectID)
		if err != nil {
			return Item{}, err
		}
		itemNo = fmt.Sprintf("%d", len(reg.Items)+1)
	}
	item := Item{
		ProjectID:        input.ProjectID,
		ItemNo:           itemNo,
		Description:      input.Description,
		Unit:             input.Unit,
		Category:         CategoryContract,
		ContractQuantity: input.ContractQuantity,
		Rate:             input.Rate,
		RevisedQuantity:  input.ContractQuantity,
	}
	return s.repo.CreateItem(ctx, item)
}
