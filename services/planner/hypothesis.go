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

import "github.com/AleutianAI/Williwaw/services/index"

// Strategy names a hypothesis-generation approach.
type Strategy string

const (
	// StrategyTemplate uses a curated diagnostic plan for a recognized
	// (intent, domain) pair.
	StrategyTemplate Strategy = "template"

	// StrategyRetrieval builds a plan directly from the top retrieved
	// command entries.
	StrategyRetrieval Strategy = "retrieval"
)

// Hypothesis is one candidate strategy for satisfying a query.
//
// Description:
//
//	A hypothesis is transient: it exists between retrieval and
//	materialization and carries everything Materialize needs to build a
//	Plan without re-querying the index. Hypotheses with the same corpus
//	state and query text are byte-for-byte identical across runs.
type Hypothesis struct {
	// ID is stable for a given corpus state and query.
	ID string `json:"id"`

	// Strategy names how the hypothesis was generated.
	Strategy Strategy `json:"strategy"`

	// Description is a human-readable summary of the approach.
	Description string `json:"description"`

	// Query is the original query text.
	Query string `json:"query"`

	// Intent is the classified intent the hypothesis was generated under.
	Intent Intent `json:"intent"`

	// Matches are the ranked retrieval candidates backing this
	// hypothesis, highest score first.
	Matches []index.Match `json:"matches,omitempty"`
}
