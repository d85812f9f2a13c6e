// Package graph models the wiring between revisions as a directed graph
// from requirer to provider.
package graph

import (
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Graph is a directed graph keyed by revision name. Build it with AddEdge.
type Graph struct {
	nodes sets.Set[string]
	edges map[string]sets.Set[string]
}

func New() *Graph {
	return &Graph{nodes: sets.New[string](), edges: map[string]sets.Set[string]{}}
}

func (g *Graph) AddNode(name string) { g.nodes.Insert(name) }

// AddEdge records that from depends on to. Self edges are ignored.
func (g *Graph) AddEdge(from, to string) {
	g.nodes.Insert(from, to)
	if from == to {
		return
	}
	if g.edges[from] == nil {
		g.edges[from] = sets.New[string]()
	}
	g.edges[from].Insert(to)
}

// Dependencies returns the direct dependencies of name, sorted.
func (g *Graph) Dependencies(name string) []string {
	return sets.List(g.edges[name])
}

// Roots returns the nodes nothing depends on, sorted.
func (g *Graph) Roots() []string {
	depended := sets.New[string]()
	for _, to := range g.edges {
		depended = depended.Union(to)
	}
	return sets.List(g.nodes.Difference(depended))
}

// Order returns the nodes with every node after its dependencies. Ties are
// broken by name. Nodes on a cycle, or depending on one, cannot be ordered;
// they are appended in name order and returned as the second result.
func (g *Graph) Order() (order, cyclic []string) {
	pending := map[string]int{}
	dependents := map[string][]string{}
	for n := range g.nodes {
		pending[n] = g.edges[n].Len()
		for to := range g.edges[n] {
			dependents[to] = append(dependents[to], n)
		}
	}

	var ready []string
	for n, count := range pending {
		if count == 0 {
			ready = append(ready, n)
		}
	}
	for len(ready) > 0 {
		sort.Strings(ready)
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		delete(pending, n)
		for _, d := range dependents[n] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}

	for n := range pending {
		cyclic = append(cyclic, n)
	}
	sort.Strings(cyclic)
	return append(order, cyclic...), cyclic
}
