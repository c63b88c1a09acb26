package subcontract

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitecert-cpm/sitecert/internal/billing"
	"github.com/sitecert-cpm/sitecert/internal/boq"
)

type memoryRepo struct {
	bills    map[int64]Bill
	register boq.Register
	totals   map[string]map[int64]float64
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(register boq.Register) *memoryRepo {
	return &memoryRepo{
		bills:    make(map[int64]Bill),
		register: register,
		totals:   make(map[string]map[int64]float64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetBill(ctx context.Context, id int64) (Bill, error) {
	bill, ok := r.bills[id]
	if !ok {
		return Bill{}, ErrNotFound
	}
	return bill, nil
}

func (r *memoryRepo) ListBills(ctx context.Context, projectID, subcontractorID int64, limit, offset int) ([]Bill, int, error) {
	var bills []Bill
	for _, b := range r.bills {
		if b.ProjectID == projectID && (subcontractorID == 0 || b.SubcontractorID == subcontractorID) {
			bills = append(bills, b)
		}
	}
	return bills, len(bills), nil
}

func (r *memoryRepo) LatestBill(ctx context.Context, projectID, subcontractorID int64) (*Bill, error) {
	var latest *Bill
	for id := range r.bills {
		b := r.bills[id]
		if b.ProjectID != projectID || b.SubcontractorID != subcontractorID {
			continue
		}
		if latest == nil || b.OrderOfBill > latest.OrderOfBill {
			latest = &b
		}
	}
	return latest, nil
}

func (r *memoryRepo) NextBillNumber(ctx context.Context, projectID, subcontractorID int64) (string, int, error) {
	maxOrder := 0
	for _, b := range r.bills {
		if b.ProjectID == projectID && b.SubcontractorID == subcontractorID && b.OrderOfBill > maxOrder {
			maxOrder = b.OrderOfBill
		}
	}
	order := maxOrder + 1
	return fmt.Sprintf("SB-%d-%03d", subcontractorID, order), order, nil
}

func (r *memoryRepo) GetRegister(ctx context.Context, projectID int64) (boq.Register, error) {
	return r.register, nil
}

func (r *memoryRepo) ApprovedTotals(ctx context.Context, projectID int64, source string, ids []int64) (map[int64]float64, error) {
	totals := map[int64]float64{}
	for k, v := range r.totals[source] {
		totals[k] = v
	}
	return totals, nil
}

func (t *memoryTx) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	t.repo.nextID++
	bill.ID = t.repo.nextID
	t.repo.bills[bill.ID] = bill
	return bill.ID, nil
}

func (t *memoryTx) UpdateStatus(ctx context.Context, id int64, status BillStatus) error {
	bill, ok := t.repo.bills[id]
	if !ok {
		return ErrNotFound
	}
	bill.Status = status
	t.repo.bills[id] = bill
	return nil
}

func (t *memoryTx) SetPaid(ctx context.Context, id int64, at time.Time) error {
	bill, ok := t.repo.bills[id]
	if !ok {
		return ErrNotFound
	}
	bill.PaidAt = &at
	t.repo.bills[id] = bill
	return nil
}

func testRegister() boq.Register {
	return boq.Register{
		ProjectID: 1,
		Revision:  1,
		Items: []boq.Item{
			{ID: 100, ProjectID: 1, ItemNo: "1.1", Description: "Earthwork excavation", Unit: "m3",
				ContractQuantity: 1000, Rate: 250, RevisedQuantity: 1000},
		},
	}
}

func TestComputeTotals(t *testing.T) {
	items := []billing.BillItem{
		{CurrentAmount: 30000},
		{CurrentAmount: 20000},
	}
	gross, retention, net := ComputeTotals(items, 5)
	require.Equal(t, float64(50000), gross)
	require.Equal(t, float64(2500), retention)
	require.Equal(t, float64(47500), net)
}

func TestSaveDerivesFromWorkLogs(t *testing.T) {
	repo := newMemoryRepo(testRegister())
	repo.totals[billing.SourceWorkLog] = map[int64]float64{100: 200}
	svc := NewService(repo, repo, repo, nil, nil)

	bill, err := svc.Save(context.Background(), DraftInput{ProjectID: 1, SubcontractorID: 5, RetentionPercent: 5, ActorID: 3})
	require.NoError(t, err)
	require.Equal(t, "SB-5-001", bill.BillNumber)
	require.Equal(t, StatusDraft, bill.Status)
	require.Equal(t, float64(50000), bill.GrossAmount)
	require.Equal(t, float64(2500), bill.RetentionAmount)
	require.Equal(t, float64(47500), bill.NetAmount)
}

func TestSaveCarryForwardPerSubcontractor(t *testing.T) {
	repo := newMemoryRepo(testRegister())
	repo.totals[billing.SourceWorkLog] = map[int64]float64{100: 200}
	svc := NewService(repo, repo, repo, nil, nil)
	ctx := context.Background()

	first, err := svc.Save(ctx, DraftInput{ProjectID: 1, SubcontractorID: 5, RetentionPercent: 5})
	require.NoError(t, err)
	require.Equal(t, float64(200), first.Items[0].UptoDateQuantity)

	repo.totals[billing.SourceWorkLog] = map[int64]float64{100: 40}
	second, err := svc.Save(ctx, DraftInput{ProjectID: 1, SubcontractorID: 5, RetentionPercent: 5})
	require.NoError(t, err)
	require.Equal(t, 2, second.OrderOfBill)
	require.Equal(t, float64(200), second.Items[0].PreviousQuantity)
	require.Equal(t, float64(240), second.Items[0].UptoDateQuantity)
	// Gross covers only the current period.
	require.Equal(t, float64(10000), second.GrossAmount)

	// A different subcontractor starts from scratch.
	other, err := svc.Save(ctx, DraftInput{ProjectID: 1, SubcontractorID: 6, RetentionPercent: 10})
	require.NoError(t, err)
	require.Equal(t, "SB-6-001", other.BillNumber)
	require.Equal(t, float64(0), other.Items[0].PreviousQuantity)
}

func TestLifecycleTransitions(t *testing.T) {
	repo := newMemoryRepo(testRegister())
	repo.totals[billing.SourceWorkLog] = map[int64]float64{100: 10}
	svc := NewService(repo, repo, repo, nil, nil)
	ctx := context.Background()

	bill, err := svc.Save(ctx, DraftInput{ProjectID: 1, SubcontractorID: 5, RetentionPercent: 5})
	require.NoError(t, err)

	// Cannot approve or pay a draft.
	require.ErrorIs(t, svc.Approve(ctx, bill.ID, 9), ErrInvalidState)
	require.ErrorIs(t, svc.MarkPaid(ctx, bill.ID, 9), ErrInvalidState)

	require.NoError(t, svc.Submit(ctx, bill.ID, 9))
	require.ErrorIs(t, svc.Submit(ctx, bill.ID, 9), ErrInvalidState)
	require.NoError(t, svc.Approve(ctx, bill.ID, 9))
	require.NoError(t, svc.MarkPaid(ctx, bill.ID, 9))

	stored, err := svc.Get(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, stored.Status)
	require.NotNil(t, stored.PaidAt)
	require.ErrorIs(t, svc.MarkPaid(ctx, bill.ID, 9), ErrInvalidState)
}

func TestSaveValidation(t *testing.T) {
	repo := newMemoryRepo(testRegister())
	svc := NewService(repo, repo, repo, nil, nil)

	_, err := svc.Save(context.Background(), DraftInput{ProjectID: 1})
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.Save(context.Background(), DraftInput{ProjectID: 1, SubcontractorID: 5, RetentionPercent: 120})
	require.ErrorIs(t, err, ErrValidation)
}
