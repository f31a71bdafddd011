package domain

import (
	"fmt"
	"time"
)

// ValidateBars checks that bars are ordered by strictly increasing
// timestamp. Duplicate or out-of-order timestamps would let a later bar be
// treated as earlier history.
func ValidateBars(bars []Bar) error {
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return fmt.Errorf("%w: bar %d (%s) is not after bar %d (%s)",
				ErrLookAhead, i, bars[i].Timestamp.Format(time.RFC3339),
				i-1, bars[i-1].Timestamp.Format(time.RFC3339))
		}
	}
	return nil
}

// BarIndex maps bar timestamps to their position in an ordered bar slice.
type BarIndex struct {
	byTime map[int64]int
}

// NewBarIndex builds the timestamp lookup for bars.
func NewBarIndex(bars []Bar) *BarIndex {
	idx := &BarIndex{byTime: make(map[int64]int, len(bars))}
	for i, b := range bars {
		idx.byTime[b.Timestamp.UnixNano()] = i
	}
	return idx
}

// IndexOf returns the position of the bar stamped t.
func (x *BarIndex) IndexOf(t time.Time) (int, bool) {
	i, ok := x.byTime[t.UnixNano()]
	return i, ok
}

// Len returns the number of indexed bars.
func (x *BarIndex) Len() int {
	return len(x.byTime)
}
