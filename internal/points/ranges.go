package points

// Range is the reward-catalog visibility band derived from the spendable
// balance. Max is nil for the open-ended top band.
type Range struct {
	Label string `json:"label"`
	Min   int64  `json:"min"`
	Max   *int64 `json:"max,omitempty"`
}

type rangeBound struct {
	label string
	min   int64
	max   int64
}

var ranges = []rangeBound{
	{label: "Iniciante", min: 0, max: 100},
	{label: "Avançado", min: 101, max: 300},
	{label: "Expert", min: 301, max: 600},
	{label: "Master", min: 601, max: 1000},
	{label: "Elite", min: 1001, max: -1},
}

// RangeFor classifies a current balance. Negative balances fall into the
// lowest band.
func RangeFor(balance int64) Range {
	for i := len(ranges) - 1; i >= 0; i-- {
		b := ranges[i]
		if balance >= b.min {
			return b.toRange()
		}
	}
	return ranges[0].toRange()
}

// CheckRangeUpgrade returns the new range when moving from oldBalance to
// newBalance changes the range label.
func CheckRangeUpgrade(oldBalance, newBalance int64) (Range, bool) {
	oldRange := RangeFor(oldBalance)
	newRange := RangeFor(newBalance)
	if oldRange.Label == newRange.Label {
		return Range{}, false
	}
	return newRange, true
}

func (b rangeBound) toRange() Range {
	r := Range{Label: b.label, Min: b.min}
	if b.max >= 0 {
		max := b.max
		r.Max = &max
	}
	return r
}
