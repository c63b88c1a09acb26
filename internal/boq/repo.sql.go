package boq

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the register.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRegister loads the register snapshot for a project.
func (r *Repository) GetRegister(ctx context.Context, projectID int64) (Register, error) {
	reg := Register{ProjectID: projectID}
	err := r.pool.QueryRow(ctx, `SELECT revision FROM boq_registers WHERE project_id=$1`, projectID).Scan(&reg.Revision)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Register{}, ErrRegisterNotFound
		}
		return Register{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, item_no, description, unit, category, contract_qty, rate, variation_qty, revised_qty, completed_qty
FROM boq_items WHERE project_id=$1 ORDER BY id`, projectID)
	if err != nil {
		return Register{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.ProjectID, &item.ItemNo, &item.Description, &item.Unit, &item.Category,
			&item.ContractQuantity, &item.Rate, &item.VariationQuantity, &item.RevisedQuantity, &item.CompletedQuantity); err != nil {
			return Register{}, err
		}
		reg.Items = append(reg.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Register{}, err
	}
	return reg, nil
}

// EnsureRegister creates the register row for a project when missing.
func (r *Repository) EnsureRegister(ctx context.Context, projectID int64) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO boq_registers (project_id, revision) VALUES ($1, 0) ON CONFLICT (project_id) DO NOTHING`, projectID)
	return err
}

// CreateItem inserts a contract line and bumps the register revision.
func (r *Repository) CreateItem(ctx context.Context, item Item) (Item, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return Item{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE boq_registers SET revision=revision+1 WHERE project_id=$1`, item.ProjectID)
	if err != nil {
		return Item{}, err
	}
	if tag.RowsAffected() == 0 {
		return Item{}, ErrRegisterNotFound
	}
	err = tx.QueryRow(ctx, `INSERT INTO boq_items (project_id, item_no, description, unit, category, contract_qty, rate, variation_qty, revised_qty, completed_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		item.ProjectID, item.ItemNo, item.Description, item.Unit, item.Category,
		item.ContractQuantity, item.Rate, item.VariationQuantity, item.RevisedQuantity, item.CompletedQuantity).Scan(&item.ID)
	if err != nil {
		return Item{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Item{}, err
	}
	return item, nil
}

// OverCertifiedLines reports register lines whose completed quantity exceeds
// the revised quantity, across all projects when projectID is zero. Approved
// scope reductions can legitimately leave lines in this state; the reported
// lines feed the reconciliation review.
func (r *Repository) OverCertifiedLines(ctx context.Context, projectID int64) ([]OverCertifiedLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT project_id, id, item_no, revised_qty, completed_qty
FROM boq_items
WHERE completed_qty > revised_qty AND ($1=0 OR project_id=$1)
ORDER BY project_id, item_no`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OverCertifiedLine
	for rows.Next() {
		var l OverCertifiedLine
		if err := rows.Scan(&l.ProjectID, &l.ItemID, &l.ItemNo, &l.RevisedQuantity, &l.CompletedQuantity); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SaveTx persists an applied register inside an existing transaction. The
// revision compare-and-swap rejects writes racing a concurrent approval.
func (r *Repository) SaveTx(ctx context.Context, tx pgx.Tx, next Register, expectedRevision int64) error {
	tag, err := tx.Exec(ctx, `UPDATE boq_registers SET revision=$1 WHERE project_id=$2 AND revision=$3`,
		next.Revision, next.ProjectID, expectedRevision)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRevisionConflict
	}
	for i, item := range next.Items {
		if item.ID == 0 {
			err := tx.QueryRow(ctx, `INSERT INTO boq_items (project_id, item_no, description, unit, category, contract_qty, rate, variation_qty, revised_qty, completed_qty)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
				item.ProjectID, item.ItemNo, item.Description, item.Unit, item.Category,
				item.ContractQuantity, item.Rate, item.VariationQuantity, item.RevisedQuantity, item.CompletedQuantity).Scan(&item.ID)
			if err != nil {
				return err
			}
			next.Items[i] = item
			continue
		}
		_, err := tx.Exec(ctx, `UPDATE boq_items SET variation_qty=$1, revised_qty=$2, completed_qty=$3 WHERE id=$4 AND project_id=$5`,
			item.VariationQuantity, item.RevisedQuantity, item.CompletedQuantity, item.ID, item.ProjectID)
		if err != nil {
			return err
		}
	}
	return nil
}
