package detection

import "sort"

// Automatic search range, in internal corners per axis. Covers everything
// from the tiny 4x4-square boards up to a full 12x12-square chessboard.
const (
	autoMinSide = 3
	autoMaxSide = 11
)

// featureCountMargin pads the trackable-feature cap during auto search.
// Feature detection over- and under-shoots the true corner count, so a
// candidate is only rejected when it needs clearly more corners than the
// image can supply.
const featureCountMargin = 20

// normalizeTarget collapses a partially specified target (one dimension
// positive, the other not) to the auto-search sentinel.
func normalizeTarget(target GridSize) GridSize {
	if !target.Specified() {
		return Auto
	}
	return target
}

// candidateSizes builds the ordered list of grid sizes to try.
//
// For a specified target the order is fixed: the target as given, its
// transpose, then both off-by-one variants for users who counted squares
// rather than internal corners. For an automatic search it enumerates all
// sizes in the search range, drops those needing more corners than
// featureCount allows (a negative featureCount disables the filter), and
// orders the rest by descending area so the largest matching board wins.
func candidateSizes(target GridSize, featureCount int) []GridSize {
	target = normalizeTarget(target)

	if target.Specified() {
		sized := []GridSize{
			{Cols: target.Cols, Rows: target.Rows},
			{Cols: target.Rows, Rows: target.Cols},
		}
		if target.Cols > 1 && target.Rows > 1 {
			sized = append(sized,
				GridSize{Cols: target.Cols - 1, Rows: target.Rows - 1},
				GridSize{Cols: target.Rows - 1, Rows: target.Cols - 1},
			)
		}
		// A grid needs two corners per axis; smaller sizes would make the
		// matcher throw rather than fail.
		usable := sized[:0]
		for _, s := range sized {
			if s.Cols >= 2 && s.Rows >= 2 {
				usable = append(usable, s)
			}
		}
		return dedupe(usable)
	}

	var sizes []GridSize
	for r := autoMinSide; r <= autoMaxSide; r++ {
		for c := autoMinSide; c <= autoMaxSide; c++ {
			if featureCount >= 0 && r*c > featureCount+featureCountMargin {
				continue
			}
			sizes = append(sizes, GridSize{Cols: c, Rows: r})
		}
	}
	sort.SliceStable(sizes, func(i, j int) bool {
		return sizes[i].Area() > sizes[j].Area()
	})
	return sizes
}

// dedupe drops repeated sizes while preserving order. A square target makes
// the transposed and off-by-one candidates collide.
func dedupe(sizes []GridSize) []GridSize {
	seen := make(map[GridSize]bool, len(sizes))
	out := sizes[:0]
	for _, s := range sizes {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
