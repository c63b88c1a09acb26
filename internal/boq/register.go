package boq

import (
	"fmt"
	"math"
)

// CommandKind discriminates register mutation commands.
type CommandKind string

const (
	// CommandAddItem appends a new line item.
	CommandAddItem CommandKind = "ADD_ITEM"
	// CommandAdjustVariation shifts the variation quantity of a line.
	CommandAdjustVariation CommandKind = "ADJUST_VARIATION"
	// CommandRollForward advances the cumulative completed quantity of a line.
	CommandRollForward CommandKind = "ROLL_FORWARD"
)

// Command is one staged mutation against the register.
type Command struct {
	Kind CommandKind

	// ADD_ITEM payload.
	Item Item

	// ADJUST_VARIATION / ROLL_FORWARD payload.
	ItemID   int64
	Quantity float64
}

// Warning flags a line left in a reportable but legal state, such as a scope
// reduction pushing the revised quantity below what was already completed.
type Warning struct {
	ItemID int64  `json:"item_id"`
	ItemNo string `json:"item_no"`
	Detail string `json:"detail"`
}

// Apply validates every command against the snapshot and returns a new
// register with all of them applied and the revision advanced. Any invalid
// reference fails the whole batch; the input register is never mutated.
func (r Register) Apply(cmds []Command) (Register, []Warning, error) {
	index := make(map[int64]int, len(r.Items))
	for i, item := range r.Items {
		index[item.ID] = i
	}
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CommandAddItem:
		case CommandAdjustVariation, CommandRollForward:
			if _, ok := index[cmd.ItemID]; !ok {
				return Register{}, nil, fmt.Errorf("%w: id %d", ErrItemNotFound, cmd.ItemID)
			}
		default:
			return Register{}, nil, fmt.Errorf("boq: unknown command kind %q", cmd.Kind)
		}
	}

	next := Register{ProjectID: r.ProjectID, Revision: r.Revision + 1}
	next.Items = make([]Item, len(r.Items))
	copy(next.Items, r.Items)

	var warnings []Warning
	for _, cmd := range cmds {
		switch cmd.Kind {
		case CommandAddItem:
			item := cmd.Item
			item.ProjectID = r.ProjectID
			item.RevisedQuantity = round2(item.ContractQuantity + item.VariationQuantity)
			next.Items = append(next.Items, item)
		case CommandAdjustVariation:
			i := index[cmd.ItemID]
			item := next.Items[i]
			item.VariationQuantity = round2(item.VariationQuantity + cmd.Quantity)
			item.RevisedQuantity = round2(item.ContractQuantity + item.VariationQuantity)
			if item.RevisedQuantity < item.CompletedQuantity {
				warnings = append(warnings, Warning{
					ItemID: item.ID,
					ItemNo: item.ItemNo,
					Detail: fmt.Sprintf("revised quantity %.2f below completed %.2f", item.RevisedQuantity, item.CompletedQuantity),
				})
			}
			next.Items[i] = item
		case CommandRollForward:
			i := index[cmd.ItemID]
			item := next.Items[i]
			if cmd.Quantity < item.CompletedQuantity {
				return Register{}, nil, fmt.Errorf("%w: item %s has %.2f, roll-forward to %.2f", ErrCompletedRegression, item.ItemNo, item.CompletedQuantity, cmd.Quantity)
			}
			item.CompletedQuantity = round2(cmd.Quantity)
			next.Items[i] = item
		}
	}
	return next, warnings, nil
}

// Find returns the item with the given id.
func (r Register) Find(itemID int64) (Item, bool) {
	for _, item := range r.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return Item{}, false
}

// NextSyntheticItemNo numbers extra-work lines after the existing ones.
func (r Register) NextSyntheticItemNo() string {
	count := 0
	for _, item := range r.Items {
		if item.Category == CategoryExtraWork {
			count++
		}
	}
	return fmt.Sprintf("EW-%02d", count+1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
