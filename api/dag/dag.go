// Package dag orders named nodes by their dependencies.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrCycle             = errors.New("dependency cycle")
	ErrUnknownDependency = errors.New("unknown dependency")
	ErrDuplicate         = errors.New("duplicate name")
)

// Sort returns names in an order where every node follows its dependencies.
// Ties are broken by the order of names, so the result is deterministic.
func Sort(names []string, deps map[string][]string) ([]string, error) {
	index := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := index[n]; dup {
			return nil, fmt.Errorf("%q: %w", n, ErrDuplicate)
		}
		index[n] = i
	}

	indegree := make([]int, len(names))
	dependents := make([][]int, len(names))
	for i, n := range names {
		for _, d := range deps[n] {
			j, ok := index[d]
			if !ok {
				return nil, fmt.Errorf("%q needs %q: %w", n, d, ErrUnknownDependency)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	order := make([]string, 0, len(names))
	done := make([]bool, len(names))
	for len(order) < len(names) {
		next := -1
		for i := range names {
			if !done[i] && indegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var stuck []string
			for i, n := range names {
				if !done[i] {
					stuck = append(stuck, n)
				}
			}
			return nil, fmt.Errorf("%w among %s", ErrCycle, strings.Join(stuck, ", "))
		}
		done[next] = true
		order = append(order, names[next])
		for _, k := range dependents[next] {
			indegree[k]--
		}
	}
	return order, nil
}

// DependsOn reports whether from reaches to by following deps.
func DependsOn(deps map[string][]string, from, to string) bool {
	seen := map[string]bool{}
	stack := append([]string(nil), deps[from]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, deps[n]...)
	}
	return false
}
