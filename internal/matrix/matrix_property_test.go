package matrix

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

func axesOf(sizes []int) []types.Axis {
	axes := make([]types.Axis, len(sizes))
	for i, n := range sizes {
		values := make([]any, n)
		for j := 0; j < n; j++ {
			values[j] = fmt.Sprintf("v%d", j)
		}
		axes[i] = types.Axis{Name: fmt.Sprintf("axis%d", i), Values: values}
	}
	return axes
}

func TestExpansionCountProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("cell count equals the axis size product", prop.ForAll(
		func(sizes []int) bool {
			spec := &types.MatrixSpec{Axes: axesOf(sizes)}
			cells, err := Expand(spec)
			if err != nil {
				return false
			}
			want := 1
			for _, n := range sizes {
				want *= n
			}
			return len(cells) == want
		},
		gen.SliceOfN(3, gen.IntRange(1, 4)),
	))

	properties.Property("cells are unique", prop.ForAll(
		func(sizes []int) bool {
			spec := &types.MatrixSpec{Axes: axesOf(sizes)}
			cells, err := Expand(spec)
			if err != nil {
				return false
			}
			seen := make(map[string]bool, len(cells))
			for _, c := range cells {
				if seen[c.Key()] {
					return false
				}
				seen[c.Key()] = true
			}
			return true
		},
		gen.SliceOfN(3, gen.IntRange(1, 4)),
	))

	properties.Property("expansion is deterministic", prop.ForAll(
		func(sizes []int) bool {
			spec := &types.MatrixSpec{Axes: axesOf(sizes)}
			first, err := Expand(spec)
			if err != nil {
				return false
			}
			second, err := Expand(spec)
			if err != nil {
				return false
			}
			if len(first) != len(second) {
				return false
			}
			for i := range first {
				if first[i].Key() != second[i].Key() {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.IntRange(1, 3)),
	))

	properties.TestingRun(t)
}

func TestExclusionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// An excluded value pair never appears in the expansion, and exactly
	// the combinations carrying the pair are removed.
	properties.Property("excluded pair produces no cell", prop.ForAll(
		func(sizes []int, i, j int) bool {
			axes := axesOf(sizes)
			pick := func(axis types.Axis, n int) any {
				return axis.Values[n%len(axis.Values)]
			}
			entry := map[string]any{
				axes[0].Name: pick(axes[0], i),
				axes[1].Name: pick(axes[1], j),
			}
			spec := &types.MatrixSpec{Axes: axes, Exclude: []map[string]any{entry}}

			// Removal count is the product of the remaining axis sizes.
			removed := 1
			for _, axis := range axes[2:] {
				removed *= len(axis.Values)
			}
			total := 1
			for _, n := range sizes {
				total *= n
			}

			cells, err := Expand(spec)
			if total == removed {
				// The exclusion empties the matrix, which is rejected.
				return err != nil
			}
			if err != nil {
				return false
			}
			for _, c := range cells {
				if c.matches(entry) {
					return false
				}
			}
			return len(cells) == total-removed
		},
		gen.SliceOfN(3, gen.IntRange(1, 4)),
		gen.IntRange(0, 10),
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
