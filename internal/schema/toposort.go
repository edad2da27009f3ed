package schema

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

// ErrCycle reports a dependency graph that cannot be ordered. It is a
// program error in the table descriptors, never a data condition.
var ErrCycle = errors.New("dependency cycle detected")

// Sort orders tables so every table follows the tables it depends on.
//
// Dependencies on tables outside the input set are ignored. When several
// tables are ready at once the one appearing first in the input wins, so the
// result is deterministic for a given input.
func Sort(tables []*Table) ([]*Table, error) {
	n := len(tables)
	if n == 0 {
		return nil, nil
	}

	index := make(map[string]int, n)
	for i, t := range tables {
		index[t.Name] = i
	}

	indeg := make([]int, n)
	out := make([][]int, n)
	for i, t := range tables {
		for _, dep := range t.DependsOn {
			d, ok := index[dep]
			if !ok || d == i {
				continue
			}
			indeg[i]++
			out[d] = append(out[d], i)
		}
	}

	var ready []int
	for i := range n {
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}

	order := make([]*Table, 0, n)
	for len(ready) > 0 {
		i := ready[0]
		ready = ready[1:]
		order = append(order, tables[i])

		for _, j := range out[i] {
			indeg[j]--
			if indeg[j] == 0 {
				// Keep ready sorted by input position.
				k := sort.SearchInts(ready, j)
				ready = slices.Insert(ready, k, j)
			}
		}
	}

	if len(order) != n {
		var stuck []string
		for i, d := range indeg {
			if d > 0 {
				stuck = append(stuck, tables[i].Name)
			}
		}
		return nil, fmt.Errorf("%w among %v", ErrCycle, stuck)
	}
	return order, nil
}

// Reverse returns a copy of order with dependents before their dependencies.
func Reverse(order []*Table) []*Table {
	rev := slices.Clone(order)
	slices.Reverse(rev)
	return rev
}
