package variation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool    *pgxpool.Pool
	boqRepo *boq.Repository
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, boqRepo *boq.Repository) *Repository {
	return &Repository{pool: pool, boqRepo: boqRepo}
}

type txRepo struct {
	tx      pgx.Tx
	boqRepo *boq.Repository
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx, boqRepo: r.boqRepo}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// GetVO returns an order with its staged items.
func (r *Repository) GetVO(ctx context.Context, id int64) (VariationOrder, error) {
	var vo VariationOrder
	err := r.pool.QueryRow(ctx, `SELECT id, project_id, vo_number, title, reason, date, status, total_impact, created_by, approved_by, approved_at
FROM variation_orders WHERE id=$1`, id).
		Scan(&vo.ID, &vo.ProjectID, &vo.VONumber, &vo.Title, &vo.Reason, &vo.Date, &vo.Status, &vo.TotalImpact, &vo.CreatedBy, &vo.ApprovedBy, &vo.ApprovedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VariationOrder{}, ErrNotFound
		}
		return VariationOrder{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, vo_id, COALESCE(boq_item_id,0), is_new_item, description, unit, quantity_delta, rate
FROM variation_items WHERE vo_id=$1 ORDER BY id`, id)
	if err != nil {
		return VariationOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item VariationItem
		if err := rows.Scan(&item.ID, &item.VOID, &item.BOQItemID, &item.IsNewItem, &item.Description, &item.Unit, &item.QuantityDelta, &item.Rate); err != nil {
			return VariationOrder{}, err
		}
		vo.Items = append(vo.Items, item)
	}
	if err := rows.Err(); err != nil {
		return VariationOrder{}, err
	}
	return vo, nil
}

// ListVOs enumerates orders for a project, newest first.
func (r *Repository) ListVOs(ctx context.Context, projectID int64, limit, offset int) ([]VariationOrder, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM variation_orders WHERE project_id=$1`, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, vo_number, title, reason, date, status, total_impact, created_by, approved_by, approved_at
FROM variation_orders WHERE project_id=$1 ORDER BY id DESC LIMIT $2 OFFSET $3`, projectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var orders []VariationOrder
	for rows.Next() {
		var vo VariationOrder
		if err := rows.Scan(&vo.ID, &vo.ProjectID, &vo.VONumber, &vo.Title, &vo.Reason, &vo.Date, &vo.Status, &vo.TotalImpact, &vo.CreatedBy, &vo.ApprovedBy, &vo.ApprovedAt); err != nil {
			return nil, 0, err
		}
		orders = append(orders, vo)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// NextVONumber issues the next sequential human-readable number. The
// sequence derives from the highest number ever issued, not the row count,
// so deleting a draft never frees a number for reuse.
func (r *Repository) NextVONumber(ctx context.Context, projectID int64) (string, error) {
	var seq int
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(CAST(SUBSTRING(vo_number FROM 'VO-([0-9]+)') AS INTEGER)), 0)
FROM variation_orders WHERE project_id=$1`, projectID).Scan(&seq)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("VO-%03d", seq+1), nil
}

func (t *txRepo) InsertVO(ctx context.Context, vo VariationOrder) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO variation_orders (project_id, vo_number, title, reason, date, status, total_impact, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		vo.ProjectID, vo.VONumber, vo.Title, vo.Reason, vo.Date, vo.Status, vo.TotalImpact, vo.CreatedBy).Scan(&id)
	return id, err
}

func (t *txRepo) InsertItem(ctx context.Context, item VariationItem) (int64, error) {
	var id int64
	var boqItemID any
	if item.BOQItemID != 0 {
		boqItemID = item.BOQItemID
	}
	err := t.tx.QueryRow(ctx, `INSERT INTO variation_items (vo_id, boq_item_id, is_new_item, description, unit, quantity_delta, rate)
VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		item.VOID, boqItemID, item.IsNewItem, item.Description, item.Unit, item.QuantityDelta, item.Rate).Scan(&id)
	return id, err
}

func (t *txRepo) DeleteItem(ctx context.Context, voID, itemID int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM variation_items WHERE id=$1 AND vo_id=$2`, itemID, voID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (t *txRepo) UpdateVOStatus(ctx context.Context, id int64, status VOStatus) error {
	_, err := t.tx.Exec(ctx, `UPDATE variation_orders SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (t *txRepo) UpdateTotalImpact(ctx context.Context, id int64, total float64) error {
	_, err := t.tx.Exec(ctx, `UPDATE variation_orders SET total_impact=$1 WHERE id=$2`, total, id)
	return err
}

func (t *txRepo) SetApproval(ctx context.Context, id int64, actorID int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE variation_orders SET approved_by=$1, approved_at=$2 WHERE id=$3`, actorID, at, id)
	return err
}

func (t *txRepo) DeleteVO(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM variation_items WHERE vo_id=$1`, id); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM variation_orders WHERE id=$1`, id)
	return err
}

func (t *txRepo) SaveRegister(ctx context.Context, next boq.Register, expectedRevision int64) error {
	return t.boqRepo.SaveTx(ctx, t.tx, next, expectedRevision)
}
