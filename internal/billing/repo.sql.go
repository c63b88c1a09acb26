package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

// Repository provides PostgreSQL backed persistence. Bill lines and the
// summary are stored as JSONB documents: a saved certificate is an immutable
// snapshot, never queried line by line.
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

const billColumns = `id, project_id, bill_number, order_of_bill, date, date_of_measurement, items, provisional_sum, cpa_amount, advance_payment_deduction, liquidated_damages, summary, status, created_by, created_at`

func scanBill(row pgx.Row) (ContractBill, error) {
	var bill ContractBill
	var items, summary []byte
	err := row.Scan(&bill.ID, &bill.ProjectID, &bill.BillNumber, &bill.OrderOfBill, &bill.Date, &bill.DateOfMeasurement,
		&items, &bill.ProvisionalSum, &bill.CPAAmount, &bill.AdvancePaymentDeduction, &bill.LiquidatedDamages,
		&summary, &bill.Status, &bill.CreatedBy, &bill.CreatedAt)
	if err != nil {
		return ContractBill{}, err
	}
	if err := json.Unmarshal(items, &bill.Items); err != nil {
		return ContractBill{}, fmt.Errorf("billing: decode items for bill %d: %w", bill.ID, err)
	}
	if err := json.Unmarshal(summary, &bill.Summary); err != nil {
		return ContractBill{}, fmt.Errorf("billing: decode summary for bill %d: %w", bill.ID, err)
	}
	return bill, nil
}

// GetBill returns a certificate with its lines.
func (r *Repository) GetBill(ctx context.Context, id int64) (ContractBill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM contract_bills WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return ContractBill{}, ErrNotFound
	}
	return bill, err
}

// ListBills enumerates certificates for a project, newest order first.
func (r *Repository) ListBills(ctx context.Context, projectID int64, limit, offset int) ([]ContractBill, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM contract_bills WHERE project_id=$1`, projectID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+billColumns+` FROM contract_bills WHERE project_id=$1 ORDER BY order_of_bill DESC LIMIT $2 OFFSET $3`,
		projectID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var bills []ContractBill
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

// LatestBill returns the certificate with the highest order number, nil when
// none exists. Ordering is by order_of_bill, never by insertion id or date.
func (r *Repository) LatestBill(ctx context.Context, projectID int64) (*ContractBill, error) {
	bill, err := scanBill(r.pool.QueryRow(ctx, `SELECT `+billColumns+` FROM contract_bills WHERE project_id=$1 ORDER BY order_of_bill DESC LIMIT 1`, projectID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

// NextBillNumber issues the next sequential bill number and order.
func (r *Repository) NextBillNumber(ctx context.Context, projectID int64) (string, int, error) {
	var maxOrder int
	if err := r.pool.QueryRow(ctx, `SELECT COALESCE(MAX(order_of_bill),0) FROM contract_bills WHERE project_id=$1`, projectID).Scan(&maxOrder); err != nil {
		return "", 0, err
	}
	order := maxOrder + 1
	return fmt.Sprintf("IPC-%03d", order), order, nil
}

func (t *txRepo) InsertBill(ctx context.Context, bill ContractBill) (int64, error) {
	items, err := json.Marshal(bill.Items)
	if err != nil {
		return 0, err
	}
	summary, err := json.Marshal(bill.Summary)
	if err != nil {
		return 0, err
	}
	var id int64
	err = t.tx.QueryRow(ctx, `INSERT INTO contract_bills (project_id, bill_number, order_of_bill, date, date_of_measurement, items, provisional_sum, cpa_amount, advance_payment_deduction, liquidated_damages, summary, status, created_by, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		bill.ProjectID, bill.BillNumber, bill.OrderOfBill, bill.Date, bill.DateOfMeasurement, items,
		bill.ProvisionalSum, bill.CPAAmount, bill.AdvancePaymentDeduction, bill.LiquidatedDamages,
		summary, bill.Status, bill.CreatedBy, bill.CreatedAt).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE contract_bills SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepo) SaveRegister(ctx context.Context, next boq.Register, expectedRevision int64) error {
	return t.boqRepo.SaveTx(ctx, t.tx, next, expectedRevision)
}
