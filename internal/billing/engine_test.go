package billing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

func testRegister() boq.Register {
	return boq.Register{
		ProjectID: 1,
		Revision:  3,
		Items: []boq.Item{
			{ID: 100, ProjectID: 1, ItemNo: "1.1", Description: "Earthwork excavation", Unit: "m3",
				Category: boq.CategoryContract, ContractQuantity: 100, Rate: 250, RevisedQuantity: 100, CompletedQuantity: 10},
			{ID: 101, ProjectID: 1, ItemNo: "1.2", Description: "Brickwork in cement mortar", Unit: "m3",
				Category: boq.CategoryContract, ContractQuantity: 80, Rate: 900, RevisedQuantity: 80},
		},
	}
}

func TestGenerateItemsCarryForward(t *testing.T) {
	register := testRegister()
	previous := []BillItem{
		{BOQItemID: 100, Rate: 250, UptoDateQuantity: 10, UptoDateAmount: 2500},
	}

	items, err := GenerateItems(register, previous, map[int64]float64{100: 4})
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, float64(10), items[0].PreviousQuantity)
	require.Equal(t, float64(4), items[0].CurrentQuantity)
	require.Equal(t, float64(14), items[0].UptoDateQuantity)
	require.Equal(t, float64(2500), items[0].PreviousAmount)
	require.Equal(t, float64(1000), items[0].CurrentAmount)
	require.Equal(t, float64(3500), items[0].UptoDateAmount)

	// No previous bill line and no current movement: everything zero.
	require.Equal(t, float64(0), items[1].PreviousQuantity)
	require.Equal(t, float64(0), items[1].UptoDateAmount)
}

func TestGenerateItemsFirstBill(t *testing.T) {
	items, err := GenerateItems(testRegister(), nil, map[int64]float64{100: 10, 101: 5})
	require.NoError(t, err)
	require.Equal(t, float64(0), items[0].PreviousQuantity)
	require.Equal(t, float64(10), items[0].UptoDateQuantity)
	require.Equal(t, float64(4500), items[1].CurrentAmount)
}

func TestGenerateItemsUnknownSource(t *testing.T) {
	_, err := GenerateItems(testRegister(), nil, map[int64]float64{999: 1})
	require.ErrorIs(t, err, ErrUnknownBOQItem)
}

func TestGenerateItemsNegativeQuantity(t *testing.T) {
	_, err := GenerateItems(testRegister(), nil, map[int64]float64{100: -1})
	require.ErrorIs(t, err, ErrNegativeQuantity)
}

func TestRecomputeLineTouchesOneRow(t *testing.T) {
	items, err := GenerateItems(testRegister(), nil, map[int64]float64{100: 10, 101: 5})
	require.NoError(t, err)

	updated, err := RecomputeLine(items, 100, 12)
	require.NoError(t, err)
	require.Equal(t, float64(12), updated[0].CurrentQuantity)
	require.Equal(t, float64(3000), updated[0].CurrentAmount)
	require.Equal(t, float64(3000), updated[0].UptoDateAmount)
	require.Equal(t, items[1], updated[1])
	// Input slice untouched.
	require.Equal(t, float64(10), items[0].CurrentQuantity)

	_, err = RecomputeLine(items, 999, 1)
	require.ErrorIs(t, err, ErrUnknownBOQItem)
}

func TestComputeSummaryDerivationOrder(t *testing.T) {
	in := SummaryInput{
		Items: []BillItem{
			{CurrentAmount: 60000},
			{CurrentAmount: 40000},
		},
		CPAAmount:               5000,
		ProvisionalSum:          2000,
		AdvancePaymentDeduction: 0,
		LiquidatedDamages:       0,
	}

	s, err := ComputeSummary(in, DefaultPolicy())
	require.NoError(t, err)

	require.Equal(t, float64(100000), s.BillAmountGross)
	require.Equal(t, float64(105000), s.BillAmountWithCPA)
	require.Equal(t, float64(103000), s.BillAmountWithoutPS)
	require.Equal(t, float64(13390), s.VATAmount)
	require.Equal(t, float64(118390), s.TotalBillWithVAT)
	require.Equal(t, float64(5250), s.RetentionAmount)
	require.Equal(t, float64(1575), s.AdvanceIncomeTax)
	require.Equal(t, float64(105), s.ContractorDevFund)
	require.Equal(t, float64(4017), s.DeductibleVAT)
	require.Equal(t, float64(107443), s.TotalAmountPayable)
}

func TestComputeSummaryChargesCurrentPeriodOnly(t *testing.T) {
	register := testRegister()

	first, err := GenerateItems(register, nil, map[int64]float64{100: 10})
	require.NoError(t, err)
	s1, err := ComputeSummary(SummaryInput{Items: first}, DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, float64(2500), s1.BillAmountGross)

	// The second certificate carries 2500 forward but must only charge the
	// new 4 m3 of work, not the cumulative 3500.
	second, err := GenerateItems(register, first, map[int64]float64{100: 4})
	require.NoError(t, err)
	require.Equal(t, float64(1000), second[0].CurrentAmount)
	require.Equal(t, float64(3500), second[0].UptoDateAmount)

	s2, err := ComputeSummary(SummaryInput{Items: second}, DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, float64(1000), s2.BillAmountGross)
}

func TestComputeSummaryNegativeRefused(t *testing.T) {
	in := SummaryInput{
		Items:          []BillItem{{CurrentAmount: 1000}},
		ProvisionalSum: 5000,
	}
	_, err := ComputeSummary(in, DefaultPolicy())
	require.ErrorIs(t, err, ErrNegativeCertificate)
}

func TestComputeSummaryDeterministic(t *testing.T) {
	in := SummaryInput{
		Items:             []BillItem{{CurrentAmount: 123456.78}},
		CPAAmount:         1234.56,
		ProvisionalSum:    999.99,
		LiquidatedDamages: 500,
	}
	first, err := ComputeSummary(in, DefaultPolicy())
	require.NoError(t, err)
	second, err := ComputeSummary(in, DefaultPolicy())
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRollForwardCommands(t *testing.T) {
	register := testRegister()
	items := []BillItem{
		{BOQItemID: 100, UptoDateQuantity: 14},
		{BOQItemID: 101, UptoDateQuantity: 0}, // no movement, completed already 0
	}
	cmds := RollForwardCommands(register, items)
	require.Len(t, cmds, 1)
	require.Equal(t, boq.CommandRollForward, cmds[0].Kind)
	require.Equal(t, int64(100), cmds[0].ItemID)
	require.Equal(t, float64(14), cmds[0].Quantity)
}
