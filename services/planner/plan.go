// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PlanVersion is the current plan schema version.
const PlanVersion = "1.0"

// EdgeKind classifies what a plan edge means at execution time.
type EdgeKind string

const (
	// EdgeOrdering only constrains start order. No data moves between the
	// two nodes.
	EdgeOrdering EdgeKind = "ORDERING"

	// EdgeData additionally feeds the producer's captured stdout into the
	// consumer's stdin. The producer terminates before the consumer starts;
	// there is never a live pipe between the two processes.
	EdgeData EdgeKind = "DATA"
)

// Valid returns true for a recognized edge kind.
func (k EdgeKind) Valid() bool {
	return k == EdgeOrdering || k == EdgeData
}

// Constraints bound a single node's execution.
type Constraints struct {
	// ReadOnly marks commands that only observe system state.
	ReadOnly bool `yaml:"read_only" json:"read_only"`

	// Timeout caps the node's wall-clock runtime. Zero means the
	// executor's default applies.
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// PlanNode is a single command step in a plan.
type PlanNode struct {
	// ID uniquely identifies the node within one plan.
	ID string `yaml:"id" json:"id"`

	// Description is a short human-readable label for the step.
	Description string `yaml:"description" json:"description"`

	// Argv is the fully bound command line. Argv[0] is the program; no
	// placeholders remain after materialization.
	Argv []string `yaml:"argv" json:"argv"`

	// Inputs names the data this node expects on stdin, if any.
	Inputs []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Outputs names the data this node produces on stdout.
	Outputs []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`

	// Constraints bound the node's execution.
	Constraints Constraints `yaml:"constraints" json:"constraints"`
}

// PlanEdge is a directed dependency between two plan nodes.
type PlanEdge struct {
	// From is the producer node ID.
	From string `yaml:"from" json:"from"`

	// To is the consumer node ID.
	To string `yaml:"to" json:"to"`

	// Kind is ORDERING or DATA.
	Kind EdgeKind `yaml:"kind" json:"kind"`
}

// Plan is a validated set of command nodes and declared edges.
//
// Description:
//
//	A Plan is the materialized form of one hypothesis: concrete argv per
//	node, every dependency declared as an explicit edge, nothing inferred
//	from retrieval similarity. Plans are transient; they live for one
//	query and are never persisted by the planner.
//
// Thread Safety:
//
//	Plans are immutable after materialization. Safe to share across
//	goroutines as long as no caller mutates the slices.
type Plan struct {
	// Version is the plan schema version.
	Version string `yaml:"version" json:"version"`

	// Query is the original natural-language request.
	Query string `yaml:"query" json:"query"`

	// Intent is the classified intent verb (diagnose, generate, analyze).
	Intent string `yaml:"intent" json:"intent"`

	// Domain is the classified subdomain, e.g. audio/system_volume.
	Domain string `yaml:"domain" json:"domain"`

	// Nodes are the command steps in insertion order.
	Nodes []PlanNode `yaml:"nodes" json:"nodes"`

	// Edges are the declared dependencies.
	Edges []PlanEdge `yaml:"edges,omitempty" json:"edges,omitempty"`

	// Metadata carries strategy provenance for display and tracing.
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// Node returns the node with the given ID.
func (p *Plan) Node(id string) (PlanNode, bool) {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return PlanNode{}, false
}

// DataParents returns the producer IDs of every DATA edge into the given
// node, in edge declaration order. The executor concatenates the producers'
// captured stdout in this order to form the node's stdin.
func (p *Plan) DataParents(id string) []string {
	var parents []string
	for _, e := range p.Edges {
		if e.To == id && e.Kind == EdgeData {
			parents = append(parents, e.From)
		}
	}
	return parents
}

// ToYAML serializes the plan to its canonical YAML form.
func (p *Plan) ToYAML() (string, error) {
	out, err := yaml.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshaling plan: %w", err)
	}
	return string(out), nil
}

// Validate checks the plan's structural invariants.
//
// Description:
//
//	Validate fails fast before any process is spawned. It checks, in
//	order: the plan is non-empty, node IDs are unique and well formed,
//	every edge references nodes present in the plan with a recognized
//	kind, and the edge set is acyclic. A self-edge is reported as a
//	cycle of length one.
//
// Outputs:
//
//	error - Non-nil on the first violation found. Cycles (including
//	self-edges) match errors.Is(err, ErrPlanCycle); everything else
//	wraps ErrInvalidPlan.
func (p *Plan) Validate() error {
	if len(p.Nodes) == 0 {
		return fmt.Errorf("%w: plan has no nodes", ErrInvalidPlan)
	}

	ids := make(map[string]bool, len(p.Nodes))
	for _, n := range p.Nodes {
		if strings.TrimSpace(n.ID) == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidPlan)
		}
		if ids[n.ID] {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalidPlan, n.ID)
		}
		if len(n.Argv) == 0 || strings.TrimSpace(n.Argv[0]) == "" {
			return fmt.Errorf("%w: node %q has no argv", ErrInvalidPlan, n.ID)
		}
		ids[n.ID] = true
	}

	successors := make(map[string][]string, len(p.Nodes))
	for _, e := range p.Edges {
		if !ids[e.From] {
			return fmt.Errorf("%w: edge %s -> %s references unknown node %q",
				ErrInvalidPlan, e.From, e.To, e.From)
		}
		if !ids[e.To] {
			return fmt.Errorf("%w: edge %s -> %s references unknown node %q",
				ErrInvalidPlan, e.From, e.To, e.To)
		}
		if !e.Kind.Valid() {
			return fmt.Errorf("%w: edge %s -> %s has unknown kind %q",
				ErrInvalidPlan, e.From, e.To, e.Kind)
		}
		if e.From == e.To {
			return NewCycleError([]string{e.From, e.To})
		}
		successors[e.From] = append(successors[e.From], e.To)
	}

	return detectCycle(p.Nodes, successors)
}

// detectCycle runs a DFS over the successor lists and reports the first
// cycle found with its full node path.
func detectCycle(nodes []PlanNode, successors map[string][]string) error {
	visited := make(map[string]bool, len(nodes))
	recStack := make(map[string]bool, len(nodes))
	path := make([]string, 0, len(nodes))

	var dfs func(id string) error
	dfs = func(id string) error {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, next := range successors[id] {
			if !visited[next] {
				if err := dfs(next); err != nil {
					return err
				}
			} else if recStack[next] {
				cycleStart := 0
				for i, n := range path {
					if n == next {
						cycleStart = i
						break
					}
				}
				return NewCycleError(append(append([]string{}, path[cycleStart:]...), next))
			}
		}

		path = path[:len(path)-1]
		recStack[id] = false
		return nil
	}

	for _, n := range nodes {
		if !visited[n.ID] {
			if err := dfs(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
