package subflow

import (
	"fmt"
	"strings"
)

// graphIndex is built once per compile: steps by id plus the reverse
// adjacency (parents) of every step, both in step-list order.
type graphIndex struct {
	steps   []Step
	byID    map[string]int
	parents map[string][]string
}

func newGraphIndex(steps []Step) graphIndex {
	g := graphIndex{
		steps:   steps,
		byID:    make(map[string]int, len(steps)),
		parents: make(map[string][]string, len(steps)),
	}
	for i, s := range steps {
		g.byID[s.ID] = i
	}
	for _, s := range steps {
		for _, target := range s.Target {
			g.parents[target] = append(g.parents[target], s.ID)
		}
	}
	return g
}

// fanInViolations lists non-gate steps with more than one parent.
func (g graphIndex) fanInViolations(isGate func(Step) bool) []string {
	var out []string
	for _, s := range g.steps {
		parents := g.parents[s.ID]
		if len(parents) <= 1 || isGate(s) {
			continue
		}
		out = append(out, fmt.Sprintf("step %s has %d steps pointing to it (%s)", s.ID, len(parents), strings.Join(parents, ", ")))
	}
	return out
}

// findCycle walks reverse edges depth first from every step. It returns the
// parent that closes the cycle and the step it was reached from.
func (g graphIndex) findCycle() (from, to string, found bool) {
	type frame struct {
		id   string
		next int
	}
	visited := make(map[string]bool, len(g.steps))
	onStack := make(map[string]bool)

	for _, s := range g.steps {
		if visited[s.ID] {
			continue
		}
		stack := []frame{{id: s.ID}}
		onStack[s.ID] = true

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			parents := g.parents[top.id]
			if top.next < len(parents) {
				parent := parents[top.next]
				top.next++
				if onStack[parent] {
					return parent, top.id, true
				}
				if !visited[parent] {
					onStack[parent] = true
					stack = append(stack, frame{id: parent})
				}
				continue
			}
			onStack[top.id] = false
			visited[top.id] = true
			stack = stack[:len(stack)-1]
		}
	}
	return "", "", false
}

func (g graphIndex) hasLeaf() bool {
	for _, s := range g.steps {
		if s.IsLeaf() {
			return true
		}
	}
	return false
}
