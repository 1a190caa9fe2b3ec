package domain

import "sort"

// Validate checks the DAG invariants from spec.md §3 and §8: acyclic, every
// referenced task ID exists, no self-loop, every dependsOn pre-dates the task
// topologically. It returns a *GatewayError wrapping DependencyCycle or
// MissingDependency on violation.
func (d *DAG) Validate() error {
	index := make(map[string]int, len(d.Tasks))
	for i, t := range d.Tasks {
		index[t.ID] = i
	}
	for _, t := range d.Tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return NewError(KindDependencyCycle, "task %q depends on itself", t.ID)
			}
			if _, ok := index[dep]; !ok {
				return NewError(KindMissingDependency, "task %q depends on unknown task %q", t.ID, dep)
			}
		}
	}
	if cyc := findCycle(d); cyc != "" {
		return NewError(KindDependencyCycle, "dependency cycle detected involving task %q", cyc)
	}
	return nil
}

// TopoLayers groups task IDs into ascending topological layers: layer 0
// contains tasks with no dependencies, layer k contains tasks whose deepest
// dependency sits in layer k-1. Within a layer IDs are sorted ascending,
// matching the dispatch order fixed by spec.md §4.H ("topological layer
// ascending, then task ID ascending").
func (d *DAG) TopoLayers() [][]string {
	depOf := make(map[string][]string, len(d.Tasks))
	for _, t := range d.Tasks {
		depOf[t.ID] = t.DependsOn
	}
	layerOf := make(map[string]int, len(d.Tasks))
	var assign func(id string) int
	visiting := make(map[string]bool)
	assign = func(id string) int {
		if l, ok := layerOf[id]; ok {
			return l
		}
		if visiting[id] {
			return 0 // cycle guarded by Validate before this is ever called
		}
		visiting[id] = true
		max := -1
		for _, dep := range depOf[id] {
			if l := assign(dep); l > max {
				max = l
			}
		}
		layerOf[id] = max + 1
		visiting[id] = false
		return max + 1
	}
	maxLayer := 0
	for _, t := range d.Tasks {
		l := assign(t.ID)
		if l > maxLayer {
			maxLayer = l
		}
	}
	layers := make([][]string, maxLayer+1)
	for _, t := range d.Tasks {
		layers[layerOf[t.ID]] = append(layers[layerOf[t.ID]], t.ID)
	}
	for _, l := range layers {
		sort.Strings(l)
	}
	return layers
}

func findCycle(d *DAG) string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.Tasks))
	depOf := make(map[string][]string, len(d.Tasks))
	for _, t := range d.Tasks {
		depOf[t.ID] = t.DependsOn
		color[t.ID] = white
	}
	var cyc string
	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		for _, dep := range depOf[id] {
			switch color[dep] {
			case gray:
				cyc = dep
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[id] = black
		return false
	}
	ids := make([]string, 0, len(d.Tasks))
	for _, t := range d.Tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if color[id] == white {
			if visit(id) {
				return cyc
			}
		}
	}
	return ""
}
