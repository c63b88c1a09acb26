package variation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

type memoryRepo struct {
	orders   map[int64]VariationOrder
	items    map[int64][]VariationItem
	register boq.Register
	nextID   int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(register boq.Register) *memoryRepo {
	return &memoryRepo{
		orders:   make(map[int64]VariationOrder),
		items:    make(map[int64][]VariationItem),
		register: register,
	}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetVO(ctx context.Context, id int64) (VariationOrder, error) {
	vo, ok := r.orders[id]
	if !ok {
		return VariationOrder{}, ErrNotFound
	}
	vo.Items = append([]VariationItem(nil), r.items[id]...)
	return vo, nil
}

func (r *memoryRepo) ListVOs(ctx context.Context, projectID int64, limit, offset int) ([]VariationOrder, int, error) {
	var orders []VariationOrder
	for _, vo := range r.orders {
		if vo.ProjectID == projectID {
			orders = append(orders, vo)
		}
	}
	return orders, len(orders), nil
}

func (r *memoryRepo) NextVONumber(ctx context.Context, projectID int64) (string, error) {
	seq := 0
	for _, vo := range r.orders {
		if vo.ProjectID != projectID {
			continue
		}
		var n int
		if _, err := fmt.Sscanf(vo.VONumber, "VO-%d", &n); err == nil && n > seq {
			seq = n
		}
	}
	return fmt.Sprintf("VO-%03d", seq+1), nil
}

func (r *memoryRepo) GetRegister(ctx context.Context, projectID int64) (boq.Register, error) {
	reg := r.register
	reg.Items = append([]boq.Item(nil), r.register.Items...)
	return reg, nil
}

func (t *memoryTx) next() int64 {
	t.repo.nextID++
	return t.repo.nextID
}

func (t *memoryTx) InsertVO(ctx context.Context, vo VariationOrder) (int64, error) {
	id := t.next()
	vo.ID = id
	t.repo.orders[id] = vo
	return id, nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item VariationItem) (int64, error) {
	item.ID = t.next()
	t.repo.items[item.VOID] = append(t.repo.items[item.VOID], item)
	return item.ID, nil
}

func (t *memoryTx) DeleteItem(ctx context.Context, voID, itemID int64) error {
	items := t.repo.items[voID]
	for i, item := range items {
		if item.ID == itemID {
			t.repo.items[voID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return ErrItemNotFound
}

func (t *memoryTx) UpdateVOStatus(ctx context.Context, id int64, status VOStatus) error {
	vo := t.repo.orders[id]
	vo.Status = status
	t.repo.orders[id] = vo
	return nil
}

func (t *memoryTx) UpdateTotalImpact(ctx context.Context, id int64, total float64) error {
	vo := t.repo.orders[id]
	vo.TotalImpact = total
	t.repo.orders[id] = vo
	return nil
}

func (t *memoryTx) SetApproval(ctx context.Context, id int64, actorID int64, at time.Time) error {
	vo := t.repo.orders[id]
	vo.ApprovedBy = &actorID
	vo.ApprovedAt = &at
	t.repo.orders[id] = vo
	return nil
}

func (t *memoryTx) DeleteVO(ctx context.Context, id int64) error {
	delete(t.repo.orders, id)
	delete(t.repo.items, id)
	return nil
}

func (t *memoryTx) SaveRegister(ctx context.Context, next boq.Register, expectedRevision int64) error {
	if t.repo.register.Revision != expectedRevision {
		return boq.ErrRevisionConflict
	}
	for i, item := range next.Items {
		if item.ID == 0 {
			item.ID = t.next()
			next.Items[i] = item
		}
	}
	t.repo.register = next
	return nil
}

func newTestService(register boq.Register) (*Service, *memoryRepo) {
	repo := newMemoryRepo(register)
	svc := NewService(repo, repo, nil, nil, nil)
	return svc, repo
}

func TestVariationLifecycle(t *testing.T) {
	svc, repo := newTestService(testRegister())
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Foundation rework", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, VOStatusDraft, vo.Status)
	require.Equal(t, "VO-001", vo.VONumber)

	item, err := svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 100, QuantityDelta: 20})
	require.NoError(t, err)
	// description and rate snapped from the register line
	require.Equal(t, "Earthwork", item.Description)
	require.Equal(t, 250.0, item.Rate)

	staged, err := svc.Get(ctx, vo.ID)
	require.NoError(t, err)
	require.Equal(t, 5000.0, staged.TotalImpact)

	require.NoError(t, svc.Submit(ctx, vo.ID, 7))

	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 101, QuantityDelta: 1})
	require.ErrorIs(t, err, ErrInvalidState)

	warnings, err := svc.Approve(ctx, vo.ID, 9)
	require.NoError(t, err)
	require.Empty(t, warnings)

	line, _ := repo.register.Find(100)
	require.Equal(t, 20.0, line.VariationQuantity)
	require.Equal(t, 120.0, line.RevisedQuantity)
	require.Equal(t, int64(2), repo.register.Revision)

	approved, err := svc.Get(ctx, vo.ID)
	require.NoError(t, err)
	require.Equal(t, VOStatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedBy)

	// approval is terminal
	_, err = svc.Approve(ctx, vo.ID, 9)
	require.ErrorIs(t, err, ErrInvalidState)
	require.ErrorIs(t, svc.Reject(ctx, vo.ID, 9, ""), ErrInvalidState)
}

func TestVariationApproveNewScope(t *testing.T) {
	svc, repo := newTestService(testRegister())
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Extra rock cutting", ActorID: 7})
	require.NoError(t, err)

	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{IsNewItem: true, Description: "Rock cutting", Unit: "m3", QuantityDelta: 50, Rate: 200})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, vo.ID, 7))

	warnings, err := svc.Approve(ctx, vo.ID, 9)
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Len(t, repo.register.Items, 3)
	added := repo.register.Items[2]
	require.Equal(t, boq.CategoryExtraWork, added.Category)
	require.Equal(t, 0.0, added.ContractQuantity)
	require.Equal(t, 50.0, added.RevisedQuantity)
	require.Equal(t, 10000.0, added.Amount())
}

func TestVariationApproveUnknownItemLeavesRegisterUntouched(t *testing.T) {
	svc, repo := newTestService(testRegister())
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Mixed", ActorID: 7})
	require.NoError(t, err)
	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 100, QuantityDelta: 10})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, vo.ID, 7))

	// register line disappears between submit and approve
	repo.register.Items = repo.register.Items[1:]

	_, err = svc.Approve(ctx, vo.ID, 9)
	require.ErrorIs(t, err, ErrUnknownBOQItem)

	require.Equal(t, int64(1), repo.register.Revision)
	current, err := svc.Get(ctx, vo.ID)
	require.NoError(t, err)
	require.Equal(t, VOStatusSubmitted, current.Status)
}

func TestVariationRejectReviseCycle(t *testing.T) {
	svc, _ := newTestService(testRegister())
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Scope cut", ActorID: 7})
	require.NoError(t, err)
	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 101, QuantityDelta: -10})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, vo.ID, 7))
	require.NoError(t, svc.Reject(ctx, vo.ID, 9, "rates disputed"))

	// rejected orders reopen for editing
	require.NoError(t, svc.ReviseDraft(ctx, vo.ID, 7))
	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 100, QuantityDelta: 5})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, vo.ID, 7))
	_, err = svc.Approve(ctx, vo.ID, 9)
	require.NoError(t, err)
}

func TestVariationDeleteGuard(t *testing.T) {
	svc, _ := newTestService(testRegister())
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Tentative", ActorID: 7})
	require.NoError(t, err)
	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 100, QuantityDelta: 3})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, vo.ID, 7))

	require.ErrorIs(t, svc.Delete(ctx, vo.ID, 7), ErrInvalidState)

	require.NoError(t, svc.Reject(ctx, vo.ID, 9, ""))
	require.ErrorIs(t, svc.Delete(ctx, vo.ID, 7), ErrInvalidState)

	require.NoError(t, svc.ReviseDraft(ctx, vo.ID, 7))
	require.NoError(t, svc.Delete(ctx, vo.ID, 7))
	_, err = svc.Get(ctx, vo.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestVariationNumberNotReusedAfterDelete(t *testing.T) {
	svc, _ := newTestService(testRegister())
	ctx := context.Background()

	first, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "First", ActorID: 7})
	require.NoError(t, err)
	second, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Second", ActorID: 7})
	require.NoError(t, err)
	third, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Third", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, "VO-001", first.VONumber)
	require.Equal(t, "VO-002", second.VONumber)
	require.Equal(t, "VO-003", third.VONumber)

	// Deleting a middle draft must not free its number: the survivor
	// VO-003 would otherwise be duplicated by the next create.
	require.NoError(t, svc.Delete(ctx, second.ID, 7))

	fourth, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Fourth", ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, "VO-004", fourth.VONumber)
}

func TestVariationZeroDeltaRejected(t *testing.T) {
	svc, _ := newTestService(testRegister())
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Noop", ActorID: 7})
	require.NoError(t, err)
	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 100, QuantityDelta: 0})
	require.Error(t, err)
}

func TestVariationScopeReductionWarns(t *testing.T) {
	register := testRegister()
	register.Items[0].CompletedQuantity = 95
	svc, _ := newTestService(register)
	ctx := context.Background()

	vo, err := svc.CreateDraft(ctx, CreateDraftInput{ProjectID: 1, Title: "Renegotiated scope", ActorID: 7})
	require.NoError(t, err)
	_, err = svc.StageItem(ctx, vo.ID, StageItemInput{BOQItemID: 100, QuantityDelta: -20})
	require.NoError(t, err)
	require.NoError(t, svc.Submit(ctx, vo.ID, 7))

	warnings, err := svc.Approve(ctx, vo.ID, 9)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Equal(t, int64(100), warnings[0].ItemID)
}
