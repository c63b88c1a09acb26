package billing

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

type memoryRepo struct {
	bills    map[int64]ContractBill
	register boq.Register
	totals   map[string]map[int64]float64
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(register boq.Register) *memoryRepo {
	return &memoryRepo{
		bills:    make(map[int64]ContractBill),
		register: register,
		totals:   make(map[string]map[int64]float64),
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetBill(ctx context.Context, id int64) (ContractBill, error) {
	bill, ok := r.bills[id]
	if !ok {
		return ContractBill{}, ErrNotFound
	}
	return bill, nil
}

func (r *memoryRepo) ListBills(ctx context.Context, projectID int64, limit, offset int) ([]ContractBill, int, error) {
	var bills []ContractBill
	for _, b := range r.bills {
		if b.ProjectID == projectID {
			bills = append(bills, b)
		}
	}
	return bills, len(bills), nil
}

func (r *memoryRepo) LatestBill(ctx context.Context, projectID int64) (*ContractBill, error) {
	var latest *ContractBill
	for id := range r.bills {
		b := r.bills[id]
		if b.ProjectID != projectID {
			continue
		}
		if latest == nil || b.OrderOfBill > latest.OrderOfBill {
			latest = &b
		}
	}
	return latest, nil
}

func (r *memoryRepo) NextBillNumber(ctx context.Context, projectID int64) (string, int, error) {
	maxOrder := 0
	for _, b := range r.bills {
		if b.ProjectID == projectID && b.OrderOfBill > maxOrder {
			maxOrder = b.OrderOfBill
		}
	}
	order := maxOrder + 1
	return fmt.Sprintf("IPC-%03d", order), order, nil
}

func (r *memoryRepo) GetRegister(ctx context.Context, projectID int64) (boq.Register, error) {
	reg := r.register
	reg.Items = append([]boq.Item(nil), r.register.Items...)
	return reg, nil
}

func (r *memoryRepo) ApprovedTotals(ctx context.Context, projectID int64, source string, ids []int64) (map[int64]float64, error) {
	totals := map[int64]float64{}
	for k, v := range r.totals[source] {
		totals[k] = v
	}
	return totals, nil
}

func (t *memoryTx) InsertBill(ctx context.Context, bill ContractBill) (int64, error) {
	t.repo.nextID++
	bill.ID = t.repo.nextID
	t.repo.bills[bill.ID] = bill
	return bill.ID, nil
}

func (t *memoryTx) UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error {
	bill, ok := t.repo.bills[id]
	if !ok {
		return ErrNotFound
	}
	bill.Status = status
	t.repo.bills[id] = bill
	return nil
}

func (t *memoryTx) SaveRegister(ctx context.Context, next boq.Register, expectedRevision int64) error {
	if t.repo.register.Revision != expectedRevision {
		return boq.ErrRevisionConflict
	}
	t.repo.register = next
	return nil
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, repo, repo, nil, nil, nil, DefaultPolicy())
}

// cleanRegister is testRegister with no prior completion, matching a project
// that has not been certified yet.
func cleanRegister() boq.Register {
	register := testRegister()
	register.Items[0].CompletedQuantity = 0
	return register
}

func TestSaveFirstBillRollsForwardRegister(t *testing.T) {
	repo := newMemoryRepo(cleanRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 4, 101: 20}
	svc := newTestService(repo)

	bill, err := svc.Save(context.Background(), DraftInput{ProjectID: 1, CPAAmount: 0, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, "IPC-001", bill.BillNumber)
	require.Equal(t, 1, bill.OrderOfBill)
	require.Equal(t, BillStatusDraft, bill.Status)
	require.Equal(t, float64(0), bill.Items[0].PreviousQuantity)
	require.Equal(t, float64(4), bill.Items[0].CurrentQuantity)

	require.Equal(t, int64(4), repo.register.Revision)
	line, ok := repo.register.Find(100)
	require.True(t, ok)
	require.Equal(t, float64(4), line.CompletedQuantity)
	line, ok = repo.register.Find(101)
	require.True(t, ok)
	require.Equal(t, float64(20), line.CompletedQuantity)
}

func TestSaveRefusesCertifyingBelowRegisterCompletion(t *testing.T) {
	// Register already shows 10 completed on item 100; certifying only 4
	// up to date would regress the ledger.
	repo := newMemoryRepo(testRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 4}
	svc := newTestService(repo)

	_, err := svc.Save(context.Background(), DraftInput{ProjectID: 1})
	require.ErrorIs(t, err, boq.ErrCompletedRegression)
	require.Empty(t, repo.bills)
}

func TestSaveCarryForwardUsesLatestOrder(t *testing.T) {
	repo := newMemoryRepo(cleanRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 10}
	svc := newTestService(repo)

	first, err := svc.Save(context.Background(), DraftInput{ProjectID: 1})
	require.NoError(t, err)
	require.Equal(t, float64(10), first.Items[0].UptoDateQuantity)

	repo.totals[SourceMeasurement] = map[int64]float64{100: 4}
	second, err := svc.Save(context.Background(), DraftInput{ProjectID: 1})
	require.NoError(t, err)
	require.Equal(t, 2, second.OrderOfBill)
	require.Equal(t, float64(10), second.Items[0].PreviousQuantity)
	require.Equal(t, float64(4), second.Items[0].CurrentQuantity)
	require.Equal(t, float64(14), second.Items[0].UptoDateQuantity)

	line, _ := repo.register.Find(100)
	require.Equal(t, float64(14), line.CompletedQuantity)
}

func TestSaveNegativeCertificateRefused(t *testing.T) {
	repo := newMemoryRepo(testRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 1}
	svc := newTestService(repo)

	_, err := svc.Save(context.Background(), DraftInput{ProjectID: 1, ProvisionalSum: 1000000})
	require.ErrorIs(t, err, ErrNegativeCertificate)
	require.Empty(t, repo.bills)
	require.Equal(t, int64(3), repo.register.Revision)
}

func TestSaveOverrideRecomputesSingleLine(t *testing.T) {
	repo := newMemoryRepo(cleanRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 4, 101: 20}
	svc := newTestService(repo)

	bill, err := svc.Save(context.Background(), DraftInput{
		ProjectID: 1,
		Overrides: []LineOverride{{BOQItemID: 100, CurrentQuantity: 6}},
	})
	require.NoError(t, err)
	require.Equal(t, float64(6), bill.Items[0].CurrentQuantity)
	require.Equal(t, float64(1500), bill.Items[0].CurrentAmount)
	require.Equal(t, float64(20), bill.Items[1].CurrentQuantity)
}

func TestPreviewPersistsNothing(t *testing.T) {
	repo := newMemoryRepo(testRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 4}
	svc := newTestService(repo)

	bill, err := svc.Preview(context.Background(), DraftInput{ProjectID: 1, CPAAmount: 500})
	require.NoError(t, err)
	require.Empty(t, bill.BillNumber)
	require.NotZero(t, bill.Summary.TotalAmountPayable)
	require.Empty(t, repo.bills)
	require.Equal(t, int64(3), repo.register.Revision)
}

func TestIssueTransition(t *testing.T) {
	repo := newMemoryRepo(cleanRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 4}
	svc := newTestService(repo)

	bill, err := svc.Save(context.Background(), DraftInput{ProjectID: 1, ActorID: 7})
	require.NoError(t, err)

	require.NoError(t, svc.Issue(context.Background(), bill.ID, 7))
	stored, err := svc.Get(context.Background(), bill.ID)
	require.NoError(t, err)
	require.Equal(t, BillStatusIssued, stored.Status)

	require.ErrorIs(t, svc.Issue(context.Background(), bill.ID, 7), ErrInvalidState)
}

func TestLatestSummaryWithoutCache(t *testing.T) {
	repo := newMemoryRepo(cleanRegister())
	repo.totals[SourceMeasurement] = map[int64]float64{100: 4}
	svc := newTestService(repo)

	_, err := svc.LatestSummary(context.Background(), 1)
	require.ErrorIs(t, err, ErrNotFound)

	bill, err := svc.Save(context.Background(), DraftInput{ProjectID: 1})
	require.NoError(t, err)

	summary, err := svc.LatestSummary(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, bill.Summary, summary)
}
