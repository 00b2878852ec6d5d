package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safestock/feature/inventory/models"
)

func segs(stocks ...int) []models.InventorySegment {
	out := make([]models.InventorySegment, len(stocks))
	for i, s := range stocks {
		out[i] = models.InventorySegment{
			ProductID:      1,
			SegmentID:      i + 1,
			TotalStock:     10,
			AvailableStock: s,
			Status:         models.SegmentValid,
		}
	}
	return out
}

func TestBestMatchPrefersExactFit(t *testing.T) {
	sel := BestMatch{}.Select(segs(10, 3, 7), 3)
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.SegmentID)
}

func TestBestMatchPrefersSmallestSurplus(t *testing.T) {
	// No exact fit; 4 has the smallest surplus over 3.
	sel := BestMatch{}.Select(segs(10, 4, 8), 3)
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.SegmentID)
}

func TestBestMatchSpreadsTies(t *testing.T) {
	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		sel := BestMatch{}.Select(segs(5, 5, 5), 3)
		require.NotNil(t, sel)
		seen[sel.SegmentID] = true
	}
	assert.Len(t, seen, 3, "equivalent segments should all be picked eventually")
}

func TestBestMatchNoFit(t *testing.T) {
	assert.Nil(t, BestMatch{}.Select(segs(2, 1, 3), 4))
	assert.Nil(t, BestMatch{}.Select(nil, 1))
}

func TestSequentialPicksFirstFit(t *testing.T) {
	sel := Sequential{}.Select(segs(1, 2, 9), 2)
	require.NotNil(t, sel)
	assert.Equal(t, 2, sel.SegmentID)

	assert.Nil(t, Sequential{}.Select(segs(1, 1), 2))
}

func TestNewSelectionUnknownName(t *testing.T) {
	_, err := NewSelection("round_robin")
	assert.Error(t, err)
}
