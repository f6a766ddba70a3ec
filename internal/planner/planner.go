// Package planner orders migrations by their declared dependencies.
package planner

import (
	"sort"

	"github.com/ksred/schemaguard/internal/migration"
	"github.com/ksred/schemaguard/internal/utils"
)

// Plan returns the units that still need to run, in an order that respects
// every depends_on edge. Units with no ordering constraint between them run
// in natural version order, so the same input always yields the same plan.
//
// The whole graph is validated, including units that are already applied:
// an unknown dependency or a cycle fails the plan before any SQL runs.
func Plan(units []migration.Unit, applied map[string]bool) ([]migration.Unit, error) {
	graph, err := newGraph(units)
	if err != nil {
		return nil, err
	}
	if err := graph.checkCycles(); err != nil {
		return nil, err
	}
	return graph.order(applied), nil
}

// Order returns every unit in dependency order, ignoring applied state
func Order(units []migration.Unit) ([]migration.Unit, error) {
	return Plan(units, nil)
}

// BlockedBy returns the first dependency of unit found in blocked.
// A runner adds failed, drifted and skipped versions to blocked; since plans
// are topologically ordered this also covers transitive dependents.
func BlockedBy(unit migration.Unit, blocked map[string]bool) (string, bool) {
	deps := append([]string(nil), unit.DependsOn...)
	sort.Slice(deps, func(i, j int) bool {
		return migration.CompareVersions(deps[i], deps[j]) < 0
	})
	for _, dep := range deps {
		if blocked[dep] {
			return dep, true
		}
	}
	return "", false
}

type graph struct {
	// versions in natural order
	versions []string
	units    map[string]migration.Unit
	deps     map[string][]string
}

func newGraph(units []migration.Unit) (*graph, error) {
	g := &graph{
		versions: make([]string, 0, len(units)),
		units:    make(map[string]migration.Unit, len(units)),
		deps:     make(map[string][]string, len(units)),
	}

	for _, u := range units {
		if _, exists := g.units[u.Version]; exists {
			return nil, &utils.DuplicateMigrationError{Version: u.Version}
		}
		g.units[u.Version] = u
		g.versions = append(g.versions, u.Version)
	}
	sortVersions(g.versions)

	for _, v := range g.versions {
		deps := append([]string(nil), g.units[v].DependsOn...)
		sortVersions(deps)
		for _, dep := range deps {
			if _, ok := g.units[dep]; !ok {
				return nil, &utils.UnknownDependencyError{Migration: v, Dependency: dep}
			}
		}
		g.deps[v] = deps
	}

	return g, nil
}

const (
	unvisited = iota
	visiting
	done
)

func (g *graph) checkCycles() error {
	state := make(map[string]int, len(g.versions))
	var stack []string

	var visit func(v string) error
	visit = func(v string) error {
		state[v] = visiting
		stack = append(stack, v)
		for _, dep := range g.deps[v] {
			switch state[dep] {
			case visiting:
				return &utils.CycleError{Path: cyclePath(stack, dep)}
			case unvisited:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[v] = done
		return nil
	}

	for _, v := range g.versions {
		if state[v] == unvisited {
			if err := visit(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// cyclePath extracts the cycle from the DFS stack. The stack walks from a
// unit to its dependencies, so it is reversed to read in apply order.
func cyclePath(stack []string, start string) []string {
	i := len(stack) - 1
	for i >= 0 && stack[i] != start {
		i--
	}
	cycle := append([]string(nil), stack[i:]...)
	for l, r := 0, len(cycle)-1; l < r; l, r = l+1, r-1 {
		cycle[l], cycle[r] = cycle[r], cycle[l]
	}
	return append(cycle, cycle[0])
}

// order runs Kahn's algorithm over the whole graph and keeps the unapplied
// units, so a plan is always a subsequence of Order. The graph is known to
// be acyclic at this point.
func (g *graph) order(applied map[string]bool) []migration.Unit {
	indegree := make(map[string]int, len(g.versions))
	dependents := make(map[string][]string, len(g.versions))
	for _, v := range g.versions {
		for _, dep := range g.deps[v] {
			indegree[v]++
			dependents[dep] = append(dependents[dep], v)
		}
	}

	var ready []string
	for _, v := range g.versions {
		if indegree[v] == 0 {
			ready = append(ready, v)
		}
	}

	result := make([]migration.Unit, 0, len(g.versions))
	for len(ready) > 0 {
		v := ready[0]
		ready = ready[1:]
		if !applied[v] {
			result = append(result, g.units[v])
		}

		released := false
		for _, next := range dependents[v] {
			indegree[next]--
			if indegree[next] == 0 {
				ready = append(ready, next)
				released = true
			}
		}
		if released {
			sortVersions(ready)
		}
	}
	return result
}

func sortVersions(versions []string) {
	sort.Slice(versions, func(i, j int) bool {
		return migration.CompareVersions(versions[i], versions[j]) < 0
	})
}
