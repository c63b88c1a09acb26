package variation

import (
	"fmt"
	"math"

	"github.com/sitecert-cpm/sitecert/internal/boq"
)

// TotalImpact recomputes the order value from its staged items. Callers must
// never trust a cached figure on the order record.
func TotalImpact(items []VariationItem) float64 {
	var total float64
	for _, item := range items {
		total += item.Impact()
	}
	return math.Round(total*100) / 100
}

// BuildCommands translates an order into register commands against the given
// snapshot. Every existing-item reference is validated before any command is
// produced, so approval either applies the whole order or nothing.
func BuildCommands(register boq.Register, vo VariationOrder) ([]boq.Command, error) {
	for _, item := range vo.Items {
		if item.IsNewItem {
			continue
		}
		if _, ok := register.Find(item.BOQItemID); !ok {
			return nil, fmt.Errorf("%w: id %d", ErrUnknownBOQItem, item.BOQItemID)
		}
	}

	cmds := make([]boq.Command, 0, len(vo.Items))
	synthetic := register
	for _, item := range vo.Items {
		if item.IsNewItem {
			cmd := boq.Command{
				Kind: boq.CommandAddItem,
				Item: boq.Item{
					ItemNo:            synthetic.NextSyntheticItemNo(),
					Description:       item.Description,
					Unit:              item.Unit,
					Category:          boq.CategoryExtraWork,
					ContractQuantity:  0,
					Rate:              item.Rate,
					VariationQuantity: item.QuantityDelta,
				},
			}
			cmds = append(cmds, cmd)
			// keep synthetic numbering sequential across one order
			synthetic.Items = append(synthetic.Items, cmd.Item)
			continue
		}
		cmds = append(cmds, boq.Command{
			Kind:     boq.CommandAdjustVariation,
			ItemID:   item.BOQItemID,
			Quantity: item.QuantityDelta,
		})
	}
	return cmds, nil
}
