package billing

import (
	"fmt"
	"math"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GenerateItems builds the certificate lines for every register item.
// Previous figures carry forward from the lines of the latest saved
// certificate (empty on the first bill), current quantities come from the
// approved source totals. A source total keyed by an item absent from the
// register fails the whole generation.
func GenerateItems(register boq.Register, previousItems []BillItem, currents map[int64]float64) ([]BillItem, error) {
	for id := range currents {
		if _, ok := register.Find(id); !ok {
			return nil, fmt.Errorf("source quantity for item %d: %w", id, ErrUnknownBOQItem)
		}
	}

	prev := map[int64]BillItem{}
	for _, it := range previousItems {
		prev[it.BOQItemID] = it
	}

	items := make([]BillItem, 0, len(register.Items))
	for _, line := range register.Items {
		current := currents[line.ID]
		if current < 0 {
			return nil, fmt.Errorf("item %s: %w", line.ItemNo, ErrNegativeQuantity)
		}
		previousQty := prev[line.ID].UptoDateQuantity
		items = append(items, makeItem(line, previousQty, current))
	}
	return items, nil
}

// RecomputeLine replaces the current-period quantity of a single line and
// recomputes its derived figures. No other line is touched.
func RecomputeLine(items []BillItem, boqItemID int64, current float64) ([]BillItem, error) {
	if current < 0 {
		return nil, ErrNegativeQuantity
	}
	out := make([]BillItem, len(items))
	copy(out, items)
	for i := range out {
		if out[i].BOQItemID != boqItemID {
			continue
		}
		out[i].CurrentQuantity = current
		out[i].UptoDateQuantity = out[i].PreviousQuantity + current
		out[i].CurrentAmount = round2(current * out[i].Rate)
		out[i].UptoDateAmount = round2(out[i].UptoDateQuantity * out[i].Rate)
		return out, nil
	}
	return nil, fmt.Errorf("line for item %d: %w", boqItemID, ErrUnknownBOQItem)
}

func makeItem(line boq.Item, previousQty, currentQty float64) BillItem {
	uptoDate := previousQty + currentQty
	return BillItem{
		BOQItemID:        line.ID,
		ItemNo:           line.ItemNo,
		Description:      line.Description,
		Unit:             line.Unit,
		ContractQuantity: line.ContractQuantity,
		Rate:             line.Rate,
		PreviousQuantity: previousQty,
		CurrentQuantity:  currentQty,
		UptoDateQuantity: uptoDate,
		PreviousAmount:   round2(previousQty * line.Rate),
		CurrentAmount:    round2(currentQty * line.Rate),
		UptoDateAmount:   round2(uptoDate * line.Rate),
	}
}

// SummaryInput carries the figures a certificate summary is derived from.
type SummaryInput struct {
	Items                   []BillItem
	CPAAmount               float64
	ProvisionalSum          float64
	AdvancePaymentDeduction float64
	LiquidatedDamages       float64
}

// ComputeSummary derives the certificate figures in a fixed order, rounding
// at every step. The order is a policy contract: VAT is charged on the
// CPA-inclusive amount net of the provisional sum, the provisional sum is
// added back for the VAT-inclusive total, and retention, advance income tax
// and the development fund are levied on the CPA-inclusive amount. A
// certificate whose VAT base goes negative is refused.
func ComputeSummary(in SummaryInput, policy Policy) (Summary, error) {
	// Gross is current-period work only. Up-to-date figures carry forward
	// for the register roll-up and must not be charged again.
	var gross float64
	for _, it := range in.Items {
		gross += it.CurrentAmount
	}
	gross = round2(gross)

	withCPA := round2(gross + in.CPAAmount)
	withoutPS := round2(withCPA - in.ProvisionalSum)
	if withoutPS < 0 {
		return Summary{}, ErrNegativeCertificate
	}

	vat := round2(withoutPS * policy.VATRate)
	totalWithVAT := round2(withoutPS + vat + in.ProvisionalSum)

	retention := round2(withCPA * policy.RetentionRate)
	advanceIncomeTax := round2(withCPA * policy.AdvanceIncomeTaxRate)
	devFund := round2(withCPA * policy.ContractorDevFundRate)
	deductibleVAT := round2(vat * policy.DeductibleVATShare)

	deductions := round2(retention + advanceIncomeTax + devFund + deductibleVAT +
		in.AdvancePaymentDeduction + in.LiquidatedDamages)
	payable := round2(totalWithVAT - deductions)

	return Summary{
		BillAmountGross:     gross,
		BillAmountWithCPA:   withCPA,
		BillAmountWithoutPS: withoutPS,
		VATAmount:           vat,
		TotalBillWithVAT:    totalWithVAT,
		RetentionAmount:     retention,
		AdvanceIncomeTax:    advanceIncomeTax,
		ContractorDevFund:   devFund,
		DeductibleVAT:       deductibleVAT,
		TotalAmountPayable:  payable,
	}, nil
}

// RollForwardCommands produces the register commands that advance the
// completed quantity of every certified line to its up-to-date figure.
// Lines with no movement are skipped.
func RollForwardCommands(register boq.Register, items []BillItem) []boq.Command {
	cmds := make([]boq.Command, 0, len(items))
	for _, it := range items {
		line, ok := register.Find(it.BOQItemID)
		if !ok || line.CompletedQuantity == it.UptoDateQuantity {
			continue
		}
		cmds = append(cmds, boq.Command{
			Kind:     boq.CommandRollForward,
			ItemID:   it.BOQItemID,
			Quantity: it.UptoDateQuantity,
		})
	}
	return cmds
}
