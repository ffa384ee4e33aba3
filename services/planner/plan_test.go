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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNode builds a minimal valid plan node.
func testNode(id string) PlanNode {
	return PlanNode{ID: id, Description: id, Argv: []string{"true"}}
}

func TestPlanValidate(t *testing.T) {
	t.Run("empty plan rejected", func(t *testing.T) {
		p := &Plan{Version: PlanVersion}
		err := p.Validate()
		require.ErrorIs(t, err, ErrInvalidPlan)
	})

	t.Run("empty node id rejected", func(t *testing.T) {
		p := &Plan{Nodes: []PlanNode{{ID: "  ", Argv: []string{"true"}}}}
		require.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("duplicate node id rejected", func(t *testing.T) {
		p := &Plan{Nodes: []PlanNode{testNode("a"), testNode("a")}}
		err := p.Validate()
		require.ErrorIs(t, err, ErrInvalidPlan)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("missing argv rejected", func(t *testing.T) {
		p := &Plan{Nodes: []PlanNode{{ID: "a", Description: "no command"}}}
		require.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("edge to unknown node rejected", func(t *testing.T) {
		p := &Plan{
			Nodes: []PlanNode{testNode("a")},
			Edges: []PlanEdge{{From: "a", To: "ghost", Kind: EdgeOrdering}},
		}
		err := p.Validate()
		require.ErrorIs(t, err, ErrInvalidPlan)
		assert.Contains(t, err.Error(), "ghost")
	})

	t.Run("unknown edge kind rejected", func(t *testing.T) {
		p := &Plan{
			Nodes: []PlanNode{testNode("a"), testNode("b")},
			Edges: []PlanEdge{{From: "a", To: "b", Kind: "STREAMING"}},
		}
		require.ErrorIs(t, p.Validate(), ErrInvalidPlan)
	})

	t.Run("self edge is a cycle", func(t *testing.T) {
		p := &Plan{
			Nodes: []PlanNode{testNode("a")},
			Edges: []PlanEdge{{From: "a", To: "a", Kind: EdgeOrdering}},
		}
		err := p.Validate()
		require.ErrorIs(t, err, ErrPlanCycle)

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		assert.Equal(t, []string{"a", "a"}, cycleErr.Path)
	})

	t.Run("three node cycle rejected with path", func(t *testing.T) {
		p := &Plan{
			Nodes: []PlanNode{testNode("a"), testNode("b"), testNode("c")},
			Edges: []PlanEdge{
				{From: "a", To: "b", Kind: EdgeOrdering},
				{From: "b", To: "c", Kind: EdgeOrdering},
				{From: "c", To: "a", Kind: EdgeOrdering},
			},
		}
		err := p.Validate()
		require.ErrorIs(t, err, ErrPlanCycle)

		var cycleErr *CycleError
		require.True(t, errors.As(err, &cycleErr))
		// Path closes on its starting node.
		require.GreaterOrEqual(t, len(cycleErr.Path), 4)
		assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
	})

	t.Run("diamond is not a cycle", func(t *testing.T) {
		p := &Plan{
			Nodes: []PlanNode{testNode("a"), testNode("b"), testNode("c"), testNode("d")},
			Edges: []PlanEdge{
				{From: "a", To: "b", Kind: EdgeOrdering},
				{From: "a", To: "c", Kind: EdgeOrdering},
				{From: "b", To: "d", Kind: EdgeData},
				{From: "c", To: "d", Kind: EdgeData},
			},
		}
		require.NoError(t, p.Validate())
	})

	t.Run("disconnected components pass", func(t *testing.T) {
		p := &Plan{
			Nodes: []PlanNode{testNode("a"), testNode("b"), testNode("c")},
			Edges: []PlanEdge{{From: "a", To: "b", Kind: EdgeData}},
		}
		require.NoError(t, p.Validate())
	})
}

func TestDataParents(t *testing.T) {
	p := &Plan{
		Nodes: []PlanNode{testNode("a"), testNode("b"), testNode("c"), testNode("agg")},
		Edges: []PlanEdge{
			{From: "a", To: "agg", Kind: EdgeData},
			{From: "b", To: "agg", Kind: EdgeOrdering},
			{From: "c", To: "agg", Kind: EdgeData},
		},
	}

	t.Run("preserves declaration order, skips ordering edges", func(t *testing.T) {
		assert.Equal(t, []string{"a", "c"}, p.DataParents("agg"))
	})

	t.Run("no data parents", func(t *testing.T) {
		assert.Empty(t, p.DataParents("a"))
	})
}

func TestPlanToYAML(t *testing.T) {
	p := &Plan{
		Version: PlanVersion,
		Query:   "check the disk",
		Intent:  IntentDiagnose,
		Domain:  "storage/disk_usage",
		Nodes:   []PlanNode{testNode("disk-usage")},
	}
	out, err := p.ToYAML()
	require.NoError(t, err)
	assert.Contains(t, out, "version:")
	assert.Contains(t, out, "disk-usage")
}
