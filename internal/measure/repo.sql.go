package measure

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new entry.
func (r *Repository) Insert(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO measure_entries (project_id, boq_item_id, source, ref_no, quantity, status, measured_at, recorded_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		entry.ProjectID, entry.BOQItemID, entry.Source, entry.RefNo, entry.Quantity, entry.Status, entry.MeasuredAt, entry.RecordedBy).Scan(&id)
	return id, err
}

// Get returns one entry.
func (r *Repository) Get(ctx context.Context, id int64) (Entry, error) {
	var entry Entry
	err := r.pool.QueryRow(ctx, `SELECT id, project_id, boq_item_id, source, ref_no, quantity, status, measured_at, recorded_by, approved_by
FROM measure_entries WHERE id=$1`, id).
		Scan(&entry.ID, &entry.ProjectID, &entry.BOQItemID, &entry.Source, &entry.RefNo, &entry.Quantity, &entry.Status, &entry.MeasuredAt, &entry.RecordedBy, &entry.ApprovedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return entry, err
}

// List enumerates entries, optionally filtered by source and status.
func (r *Repository) List(ctx context.Context, projectID int64, source Source, status EntryStatus, limit, offset int) ([]Entry, int, error) {
	filter := `project_id=$1 AND ($2='' OR source=$2) AND ($3='' OR status=$3)`
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM measure_entries WHERE `+filter, projectID, string(source), string(status)).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, project_id, boq_item_id, source, ref_no, quantity, status, measured_at, recorded_by, approved_by
FROM measure_entries WHERE `+filter+` ORDER BY measured_at DESC, id DESC LIMIT $4 OFFSET $5`,
		projectID, string(source), string(status), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		var entry Entry
		if err := rows.Scan(&entry.ID, &entry.ProjectID, &entry.BOQItemID, &entry.Source, &entry.RefNo, &entry.Quantity, &entry.Status, &entry.MeasuredAt, &entry.RecordedBy, &entry.ApprovedBy); err != nil {
			return nil, 0, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// SetApproved flips an entry to approved.
func (r *Repository) SetApproved(ctx context.Context, id, actorID int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE measure_entries SET status=$1, approved_by=$2, approved_at=$3 WHERE id=$4 AND status=$5`,
		StatusApproved, actorID, time.Now(), id, StatusPending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// ApprovedTotals sums approved quantities per register line. An empty id list
// selects every approved entry of the source.
func (r *Repository) ApprovedTotals(ctx context.Context, projectID int64, source Source, ids []int64) (map[int64]float64, error) {
	rows, err := r.pool.Query(ctx, `SELECT boq_item_id, SUM(quantity) FROM measure_entries
WHERE project_id=$1 AND source=$2 AND status=$3 AND (cardinality($4::bigint[])=0 OR id=ANY($4))
GROUP BY boq_item_id`, projectID, source, StatusApproved, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]float64)
	for rows.Next() {
		var itemID int64
		var qty float64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		totals[itemID] = qty
	}
	return totals, rows.Err()
}
