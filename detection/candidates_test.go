package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateSizesExplicit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		target GridSize
		want   []GridSize
	}{
		{
			name:   "rectangular target tries swap and off-by-one",
			target: GridSize{Cols: 9, Rows: 6},
			want: []GridSize{
				{Cols: 9, Rows: 6},
				{Cols: 6, Rows: 9},
				{Cols: 8, Rows: 5},
				{Cols: 5, Rows: 8},
			},
		},
		{
			name:   "square target collapses duplicates",
			target: GridSize{Cols: 7, Rows: 7},
			want: []GridSize{
				{Cols: 7, Rows: 7},
				{Cols: 6, Rows: 6},
			},
		},
		{
			name:   "sub-minimum sizes are filtered out",
			target: GridSize{Cols: 2, Rows: 2},
			want: []GridSize{
				{Cols: 2, Rows: 2},
			},
		},
		{
			name:   "unusable target yields no candidates",
			target: GridSize{Cols: 1, Rows: 4},
			want:   []GridSize{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, candidateSizes(tt.target, -1))
		})
	}
}

func TestCandidateSizesAuto(t *testing.T) {
	t.Parallel()

	t.Run("enumerates the full range largest first", func(t *testing.T) {
		t.Parallel()
		sizes := candidateSizes(Auto, -1)
		require.Len(t, sizes, 81)
		assert.Equal(t, GridSize{Cols: 11, Rows: 11}, sizes[0])
		assert.Equal(t, GridSize{Cols: 3, Rows: 3}, sizes[len(sizes)-1])
		for i := 1; i < len(sizes); i++ {
			assert.GreaterOrEqual(t, sizes[i-1].Area(), sizes[i].Area(),
				"candidate %d out of order", i)
		}
	})

	t.Run("degenerate target falls back to auto search", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, candidateSizes(Auto, -1), candidateSizes(GridSize{Cols: 0, Rows: 5}, -1))
		assert.Equal(t, candidateSizes(Auto, -1), candidateSizes(GridSize{Cols: -2, Rows: 7}, -1))
	})

	t.Run("feature count caps the candidate area", func(t *testing.T) {
		t.Parallel()
		sizes := candidateSizes(Auto, 0)
		require.NotEmpty(t, sizes)
		for _, s := range sizes {
			assert.LessOrEqual(t, s.Area(), featureCountMargin)
		}
	})

	t.Run("feature filter never drops a plausible board", func(t *testing.T) {
		t.Parallel()
		// A clean 6x4 board yields at least its own 24 corners as features.
		sizes := candidateSizes(Auto, 24)
		assert.Contains(t, sizes, GridSize{Cols: 6, Rows: 4})
		assert.Contains(t, sizes, GridSize{Cols: 4, Rows: 6})
	})
}

func TestGridSize(t *testing.T) {
	t.Parallel()

	assert.True(t, GridSize{Cols: 3, Rows: 3}.Specified())
	assert.False(t, Auto.Specified())
	assert.False(t, GridSize{Cols: 4}.Specified())
	assert.Equal(t, 12, GridSize{Cols: 4, Rows: 3}.Area())
	assert.Equal(t, "4x3", GridSize{Cols: 4, Rows: 3}.String())
}
