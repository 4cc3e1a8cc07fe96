// Package matrix expands job matrix declarations into concrete cells: the
// cross product of the declared axes, minus exclusions, plus includes.
package matrix

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/duke-git/lancet/v2/slice"

	"github.com/zacharyburnett/matrixci/pkg/types"
)

// MaxCells caps expansion. A matrix larger than this is a configuration
// mistake, not a workload.
const MaxCells = 256

// Cell is one concrete combination of axis values. Order lists the keys in
// presentation order: declared axes first, then include-added keys.
type Cell struct {
	Values map[string]any
	Order  []string
}

// Get returns the value for an axis, nil when absent.
func (c Cell) Get(name string) any {
	return c.Values[name]
}

// Key renders a stable identity string for the cell.
func (c Cell) Key() string {
	parts := make([]string, 0, len(c.Order))
	for _, name := range c.Order {
		parts = append(parts, fmt.Sprintf("%s=%v", name, c.Values[name]))
	}
	return strings.Join(parts, ",")
}

// Title renders the parenthesized value list appended to job names,
// "(3.10, ubuntu-22.04, 1.22.*)". Empty for the empty cell.
func (c Cell) Title() string {
	if len(c.Order) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.Order))
	for _, name := range c.Order {
		parts = append(parts, fmt.Sprintf("%v", c.Values[name]))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// DecorateName appends the cell title to a job name.
func (c Cell) DecorateName(base string) string {
	title := c.Title()
	if title == "" {
		return base
	}
	return base + " " + title
}

// ContextMap returns a copy of the cell values for the expression context.
func (c Cell) ContextMap() map[string]any {
	out := make(map[string]any, len(c.Values))
	for k, v := range c.Values {
		out[k] = v
	}
	return out
}

func (c Cell) clone() Cell {
	values := make(map[string]any, len(c.Values)+1)
	for k, v := range c.Values {
		values[k] = v
	}
	order := make([]string, len(c.Order), len(c.Order)+1)
	copy(order, c.Order)
	return Cell{Values: values, Order: order}
}

func (c *Cell) set(name string, value any) {
	if _, ok := c.Values[name]; !ok {
		c.Order = append(c.Order, name)
	}
	c.Values[name] = value
}

// matches reports whether every key of entry equals the cell's value.
func (c Cell) matches(entry map[string]any) bool {
	for k, v := range entry {
		have, ok := c.Values[k]
		if !ok || !equalValue(have, v) {
			return false
		}
	}
	return true
}

// Expand computes the cells of a matrix declaration. A nil spec or one
// without axes yields the single empty cell. Axis order is preserved, the
// rightmost axis varying fastest.
func Expand(spec *types.MatrixSpec) ([]Cell, error) {
	if spec == nil || len(spec.Axes) == 0 {
		if spec != nil && len(spec.Include) > 0 {
			return expandIncludeOnly(spec)
		}
		return []Cell{{Values: map[string]any{}}}, nil
	}

	axisNames := spec.AxisNames()
	for _, axis := range spec.Axes {
		if len(axis.Values) == 0 {
			return nil, fmt.Errorf("matrix axis %q has no values", axis.Name)
		}
	}
	if err := checkEntryKeys(spec.Exclude, axisNames, "exclude"); err != nil {
		return nil, err
	}

	cells := []Cell{{Values: map[string]any{}}}
	for _, axis := range spec.Axes {
		next := make([]Cell, 0, len(cells)*len(axis.Values))
		for _, cell := range cells {
			for _, value := range axis.Values {
				c := cell.clone()
				c.set(axis.Name, value)
				next = append(next, c)
			}
		}
		cells = next
	}

	if len(spec.Exclude) > 0 {
		cells = slice.Filter(cells, func(_ int, c Cell) bool {
			for _, entry := range spec.Exclude {
				if len(entry) > 0 && c.matches(entry) {
					return false
				}
			}
			return true
		})
	}

	cells, err := applyIncludes(cells, spec.Include, axisNames)
	if err != nil {
		return nil, err
	}

	if len(cells) == 0 {
		return nil, fmt.Errorf("matrix excludes every combination")
	}
	if len(cells) > MaxCells {
		return nil, fmt.Errorf("matrix expands to %d cells, limit is %d", len(cells), MaxCells)
	}
	return cells, nil
}

// expandIncludeOnly handles a matrix declared with only include entries:
// each entry becomes a standalone cell.
func expandIncludeOnly(spec *types.MatrixSpec) ([]Cell, error) {
	cells := make([]Cell, 0, len(spec.Include))
	for _, entry := range spec.Include {
		cells = append(cells, standaloneCell(entry, nil))
	}
	if len(cells) > MaxCells {
		return nil, fmt.Errorf("matrix expands to %d cells, limit is %d", len(cells), MaxCells)
	}
	return cells, nil
}

// applyIncludes implements include semantics: an entry whose axis-valued
// keys all match an existing cell extends the matching cells with its
// remaining keys; an entry matching no cell is appended as a standalone
// cell. Axis values of non-matching cells are never overwritten.
func applyIncludes(cells []Cell, includes []map[string]any, axisNames []string) ([]Cell, error) {
	for _, entry := range includes {
		if len(entry) == 0 {
			continue
		}
		axisPart := make(map[string]any)
		extraKeys := make([]string, 0, len(entry))
		for k, v := range entry {
			if slice.Contain(axisNames, k) {
				axisPart[k] = v
			} else {
				extraKeys = append(extraKeys, k)
			}
		}
		sort.Strings(extraKeys)

		matched := false
		for i := range cells {
			if cells[i].matches(axisPart) {
				matched = true
				for _, k := range extraKeys {
					cells[i].set(k, entry[k])
				}
			}
		}
		if !matched {
			cells = append(cells, standaloneCell(entry, axisNames))
		}
	}
	return cells, nil
}

// standaloneCell builds a cell straight from an include entry, axis keys in
// declaration order first, then the remaining keys sorted.
func standaloneCell(entry map[string]any, axisNames []string) Cell {
	c := Cell{Values: map[string]any{}}
	for _, name := range axisNames {
		if v, ok := entry[name]; ok {
			c.set(name, v)
		}
	}
	rest := make([]string, 0, len(entry))
	for k := range entry {
		if _, ok := c.Values[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		c.set(k, entry[k])
	}
	return c
}

func checkEntryKeys(entries []map[string]any, axisNames []string, kind string) error {
	for _, entry := range entries {
		for k := range entry {
			if !slice.Contain(axisNames, k) {
				return fmt.Errorf("matrix %s references unknown axis %q", kind, k)
			}
		}
	}
	return nil
}

// equalValue compares axis values loosely: comparable values directly,
// everything else by printed form, so the YAML int 1 matches the float 1.0.
func equalValue(a, b any) bool {
	if a == nil || b == nil {
		return a == b
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.TypeOf(a).Comparable() {
		return a == b
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
