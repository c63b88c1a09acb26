package subcontract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence. Bill lines are stored
// as a JSONB snapshot, same shape as the main-contract certificates.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const billColumns = `id, project_id, subcontractor_id, bill_number, order_of_bill, date, items, gross_amount, retention_percent, retention_amount, net_amount, status, created_by, created_at, paid_at`

func scanBill(row pgx.Row) (Bill, error) {
	var bill Bill
	var items []byte
	err := row.Scan(&bill.ID, &bill.ProjectID, &bill.SubcontractorID, &bill.BillNumber, &bill.OrderOfBill, &bill.Date,
		&items, &bill.GrossAmount, &bill.RetentionPercent, &bill.RetentionAmount, &bill.NetAmount,
		&bill.Status, &bill.CreatedBy, &bill.CreatedAt, &bill.PaidAt)
	if err != nil {
		return Bill{}, err
	}
	if err := json.Unmarshal(items, &bill.Items); err != nil {
		return Bill{}, fmt.Errorf("subcontract: decode items for bill %d: %w", bill.ID, err)
	}
	return bill, nil
}

// GetBill returns a bill with its lines.
func (r *Repository) GetBill(ctx context.Context, id int64) (Bill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM subcontractor_bills WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Bill{}, ErrNotFound
	}
	return bill, err
}

// ListBills enumerates bills, optionally narrowed to one subcontractor.
func (r *Repository) ListBills(ctx context.Context, projectID, subcontractorID int64, limit, offset int) ([]Bill, int, error) {
	filter := `project_id=$1 AND ($2=0 OR subcontractor_id=$2)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subcontractor_bills WHERE `+filter, projectID, subcontractorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+billColumns+` FROM subcontractor_bills WHERE `+filter+` ORDER BY order_of_bill DESC LIMIT $3 OFFSET $4`,
		projectID, subcontractorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var bills []Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, 0, err
		}
		bills = append(bills, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return bills, total, nil
}

// LatestBill returns the subcontractor's bill with the highest order number,
// nil when none exists.
func (r *Repository) LatestBill(ctx context.Context, projectID, subcontractorID int64) (*Bill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM subcontractor_bills
WHERE project_id=$1 AND subcontractor_id=$2 ORDER BY order_of_bill DESC LIMIT 1`, projectID, subcontractorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// NextBillNumber issues the next sequential number per subcontractor.
func (r *Repository) NextBillNumber(ctx context.Context, projectID, subcontractorID int64) (string, int, error) {
	var maxOrder int
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(order_of_bill),0) FROM subcontractor_bills
WHERE project_id=$1 AND subcontractor_id=$2`, projectID, subcontractorID).Scan(&maxOrder); err != nil {
		return "", 0, err
	}
	order := maxOrder + 1
	return fmt.Sprintf("SB-%d-%03d", subcontractorID, order), order, nil
}

func (t *txRepo) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	items, err := json.Marshal(bill.Items)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO subcontractor_bills (project_id, subcontractor_id, bill_number, order_of_bill, date, items, gross_amount, retention_percent, retention_amount, net_amount, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING id`,
		bill.ProjectID, bill.SubcontractorID, bill.BillNumber, bill.OrderOfBill, bill.Date, items,
		bill.GrossAmount, bill.RetentionPercent, bill.RetentionAmount, bill.NetAmount,
		bill.Status, bill.CreatedBy, bill.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateStatus(ctx context.Context, id int64, status BillStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE subcontractor_bills SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) SetPaid(ctx context.Context, id int64, at time.Time) error {
	_, err := t.tx.Exec(ctx, `UPDATE subcontractor_bills SET paid_at=$1 WHERE id=$2`, at, id)
	return err
}
