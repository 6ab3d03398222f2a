package board

import "errors"

// DefaultIncrement is the spacing used for top-of-column placement and
// for renumbering a column during rebalance.
const DefaultIncrement int64 = 200

// ErrNeedsRebalance is returned when two neighbours are too close to fit
// another item between them. Callers rebalance the column and retry.
var ErrNeedsRebalance = errors.New("priority gap exhausted")

// Assigner computes sparse priorities. Higher priority sits closer to the
// top of a column: "above" is the neighbour with the larger priority and
// "below" the one with the smaller priority.
type Assigner struct {
	Increment int64
}

func NewAssigner(increment int64) Assigner {
	if increment <= 1 {
		increment = DefaultIncrement
	}
	return Assigner{Increment: increment}
}

// Assign returns the priority for an item placed between above and below.
// columnMax is only consulted when neither neighbour is given and is the
// largest priority currently in the column (0 for an empty column).
func (a Assigner) Assign(above, below *int64, columnMax int64) (int64, error) {
	switch {
	case above == nil && below == nil:
		return columnMax + a.increment(), nil
	case above == nil:
		return *below + a.increment(), nil
	case below == nil:
		return *above - a.increment(), nil
	}

	gap := *above - *below
	if gap <= 1 {
		return 0, ErrNeedsRebalance
	}
	return *below + gap/2, nil
}

// Placement is a single priority write produced by Renumber.
type Placement struct {
	ItemID   string
	Priority int64
}

// Renumber spaces ids uniformly. ids must already be in board order (top
// first); the top item receives count*Increment and the bottom Increment.
func (a Assigner) Renumber(ids []string) []Placement {
	placements := make([]Placement, len(ids))
	count := int64(len(ids))
	for i, id := range ids {
		placements[i] = Placement{ItemID: id, Priority: (count - int64(i)) * a.increment()}
	}
	return placements
}

func (a Assigner) increment() int64 {
	if a.Increment <= 1 {
		return DefaultIncrement
	}
	return a.Increment
}
