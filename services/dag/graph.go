// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dag

import (
	"fmt"

	"github.com/AleutianAI/Williwaw/services/planner"
)

// Graph is the dependency view of a plan: adjacency lists and per-node
// in-degree counters.
//
// Description:
//
//	NewGraph validates structure and acyclicity once, at build time.
//	Execution never discovers a cycle mid-run. The graph itself is
//	immutable after construction; the executor copies the in-degree
//	counters into per-run state, so one Graph serves concurrent runs.
//
// Thread Safety:
//
//	Safe for concurrent use after construction.
type Graph struct {
	plan       *planner.Plan
	nodes      map[string]planner.PlanNode
	order      []string
	successors map[string][]string
	inDegree   map[string]int
}

// NewGraph builds and validates the dependency graph for a plan.
//
// Description:
//
//	Checks the plan's structure independently of the planner: node IDs
//	must be unique, every edge must reference plan nodes, and the edge
//	set must be acyclic. Acyclicity is established with Kahn's algorithm;
//	when nodes remain with nonzero in-degree, a DFS over the remainder
//	extracts the cycle path for the error message.
//
// Outputs:
//
//	*Graph - The validated graph.
//	error - ErrInvalidGraph for structural violations; a *planner.CycleError
//	(matching planner.ErrPlanCycle) when the plan is cyclic.
func NewGraph(plan *planner.Plan) (*Graph, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: nil plan", ErrInvalidGraph)
	}
	if len(plan.Nodes) == 0 {
		return nil, fmt.Errorf("%w: plan has no nodes", ErrInvalidGraph)
	}

	g := &Graph{
		plan:       plan,
		nodes:      make(map[string]planner.PlanNode, len(plan.Nodes)),
		order:      make([]string, 0, len(plan.Nodes)),
		successors: make(map[string][]string, len(plan.Nodes)),
		inDegree:   make(map[string]int, len(plan.Nodes)),
	}

	for _, n := range plan.Nodes {
		if _, exists := g.nodes[n.ID]; exists {
			return nil, fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, n.ID)
		}
		if len(n.Argv) == 0 || n.Argv[0] == "" {
			return nil, fmt.Errorf("%w: node %q has no command", ErrInvalidGraph, n.ID)
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
		g.inDegree[n.ID] = 0
	}

	for _, e := range plan.Edges {
		if _, ok := g.nodes[e.From]; !ok {
			return nil, fmt.Errorf("%w: edge %s -> %s references unknown node %q",
				ErrInvalidGraph, e.From, e.To, e.From)
		}
		if _, ok := g.nodes[e.To]; !ok {
			return nil, fmt.Errorf("%w: edge %s -> %s references unknown node %q",
				ErrInvalidGraph, e.From, e.To, e.To)
		}
		g.successors[e.From] = append(g.successors[e.From], e.To)
		g.inDegree[e.To]++
	}

	if err := g.detectCycle(); err != nil {
		return nil, err
	}
	return g, nil
}

// detectCycle runs Kahn's algorithm: repeatedly remove zero-in-degree nodes
// and decrement their successors. Nodes left with nonzero in-degree once the
// queue drains are exactly the cycle members (and their in-cycle dependents).
func (g *Graph) detectCycle() error {
	degree := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		degree[id] = d
	}

	queue := make([]string, 0, len(g.order))
	for _, id := range g.order {
		if degree[id] == 0 {
			queue = append(queue, id)
		}
	}

	removed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		removed++
		for _, next := range g.successors[id] {
			degree[next]--
			if degree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if removed == len(g.order) {
		return nil
	}
	return planner.NewCycleError(g.cyclePath(degree))
}

// cyclePath extracts one concrete cycle from the nodes Kahn's algorithm
// could not remove, for the error message. Walking successors within the
// remainder must revisit a node; the walk from that node closes the cycle.
func (g *Graph) cyclePath(degree map[string]int) []string {
	remaining := make(map[string]bool, len(degree))
	for id, d := range degree {
		if d > 0 {
			remaining[id] = true
		}
	}

	var start string
	for _, id := range g.order {
		if remaining[id] {
			start = id
			break
		}
	}

	seen := make(map[string]int)
	path := []string{}
	current := start
	for {
		if at, ok := seen[current]; ok {
			return append(path[at:], current)
		}
		seen[current] = len(path)
		path = append(path, current)

		advanced := false
		for _, next := range g.successors[current] {
			if remaining[next] {
				current = next
				advanced = true
				break
			}
		}
		if !advanced {
			// Unreachable for a true cycle remainder; fall back to
			// whatever path was walked.
			return path
		}
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Plan returns the plan the graph was built from.
func (g *Graph) Plan() *planner.Plan {
	return g.plan
}

// Node returns a plan node by ID.
func (g *Graph) Node(id string) (planner.PlanNode, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// NodeIDs returns all node IDs in plan order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// ReadyNodes returns the IDs of nodes with zero in-degree, in plan order.
// The executor uses this to seed its ready queue.
func (g *Graph) ReadyNodes() []string {
	var ready []string
	for _, id := range g.order {
		if g.inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	return ready
}

// Successors returns the direct successors of a node in edge order.
func (g *Graph) Successors(id string) []string {
	return g.successors[id]
}

// InDegree returns the number of direct dependencies of a node.
func (g *Graph) InDegree(id string) int {
	return g.inDegree[id]
}

// InDegrees returns a mutable copy of the in-degree counters for one run.
func (g *Graph) InDegrees() map[string]int {
	counters := make(map[string]int, len(g.inDegree))
	for id, d := range g.inDegree {
		counters[id] = d
	}
	return counters
}

// TransitiveSuccessors returns every node reachable from the given node,
// in BFS order. Used to mark dependent subtrees SKIPPED after a failure.
func (g *Graph) TransitiveSuccessors(id string) []string {
	seen := map[string]bool{id: true}
	var result []string
	queue := append([]string{}, g.successors[id]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if seen[current] {
			continue
		}
		seen[current] = true
		result = append(result, current)
		queue = append(queue, g.successors[current]...)
	}
	return result
}

// DataParents returns the DATA-edge producers of a node in declaration
// order, mirroring the plan.
func (g *Graph) DataParents(id string) []string {
	return g.plan.DataParents(id)
}
