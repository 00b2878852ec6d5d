package segment

import (
	"fmt"
	"math/rand/v2"

	"safestock/feature/inventory/models"
)

// SelectionStrategy picks the segment that should satisfy a request.
// Returning nil means no single segment qualifies.
type SelectionStrategy interface {
	Select(segments []models.InventorySegment, quantity int) *models.InventorySegment
}

// Strategy names accepted by NewSelection.
const (
	SelectionBestMatch  = "best_match"
	SelectionSequential = "sequential"
)

// NewSelection returns the strategy registered under name.
func NewSelection(name string) (SelectionStrategy, error) {
	switch name {
	case SelectionBestMatch:
		return BestMatch{}, nil
	case SelectionSequential:
		return Sequential{}, nil
	default:
		return nil, fmt.Errorf("unknown selection strategy %q", name)
	}
}

// BestMatch prefers an exact fit, then the smallest surplus, then the
// largest segment (to seed a merge decision). Ties are broken uniformly
// at random so concurrent requests spread across equivalent segments
// instead of piling onto one.
type BestMatch struct{}

// Select implements SelectionStrategy.
func (BestMatch) Select(segments []models.InventorySegment, quantity int) *models.InventorySegment {
	var exact, closest, largest []int

	minDiff := int(^uint(0) >> 1)
	maxStock := 0

	for i := range segments {
		available := segments[i].AvailableStock
		if available < quantity {
			continue
		}
		if available == quantity {
			exact = append(exact, i)
			continue
		}

		diff := available - quantity
		if diff < minDiff {
			closest = closest[:0]
			closest = append(closest, i)
			minDiff = diff
		} else if diff == minDiff {
			closest = append(closest, i)
		}

		if available > maxStock {
			largest = largest[:0]
			largest = append(largest, i)
			maxStock = available
		} else if available == maxStock {
			largest = append(largest, i)
		}
	}

	for _, tier := range [][]int{exact, closest, largest} {
		if len(tier) > 0 {
			return &segments[tier[rand.IntN(len(tier))]]
		}
	}
	return nil
}

// Sequential picks the first fitting segment in id order. Deterministic,
// preferred by workloads with predictable access patterns.
type Sequential struct{}

// Select implements SelectionStrategy.
func (Sequential) Select(segments []models.InventorySegment, quantity int) *models.InventorySegment {
	for i := range segments {
		if segments[i].AvailableStock >= quantity {
			return &segments[i]
		}
	}
	return nil
}
