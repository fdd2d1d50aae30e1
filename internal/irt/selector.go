package irt

import (
	"errors"
	"math"
)

// ErrNoAvailableItems is returned by a selector when nothing is left to administer.
var ErrNoAvailableItems = errors.New("no available items")

// Selector picks the next item to administer.
type Selector interface {
	Select(theta float64, items []Params, available []int) (int, error)
}

// MaxInfoSelector picks the available item with the highest Fisher information
// at theta. Ties go to the lowest index.
type MaxInfoSelector struct{}

func (MaxInfoSelector) Select(theta float64, items []Params, available []int) (int, error) {
	best := -1
	bestInfo := math.Inf(-1)
	for _, idx := range available {
		if idx < 0 || idx >= len(items) {
			continue
		}
		info := Information(theta, items[idx])
		if math.IsNaN(info) {
			continue
		}
		if info > bestInfo || (info == bestInfo && idx < best) {
			best, bestInfo = idx, info
		}
	}
	if best < 0 {
		return -1, ErrNoAvailableItems
	}
	return best, nil
}
