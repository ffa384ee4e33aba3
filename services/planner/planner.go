// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner turns retrieval results into candidate strategies and
// materializes the chosen one into a validated Plan.
//
// The planner is deterministic: the same corpus state and query text always
// produce the same ordered hypotheses and the same plans. LLM-backed intent
// refinement is the one optional non-deterministic input, and it only picks
// between strategies the deterministic rules already generated.
package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/Williwaw/services/catalog"
	"github.com/AleutianAI/Williwaw/services/index"
)

var tracer = otel.Tracer("williwaw.planner")

// Planner generates hypotheses for a query and materializes them into plans.
//
// Thread Safety:
//
//	Safe for concurrent use. The planner holds no per-query state.
type Planner struct {
	catalog    *catalog.Catalog
	classifier *Classifier
	logger     *slog.Logger
}

// New creates a planner over a catalog.
//
// Inputs:
//
//	cat - Corpus catalog used to bind template entries. Must not be nil.
//	classifier - Optional LLM-refined intent classifier. Nil means
//	keyword-only classification.
//	logger - Logger for planning decisions. If nil, uses slog.Default().
//
// Outputs:
//
//	*Planner - The configured planner.
//	error - Non-nil if cat is nil.
func New(cat *catalog.Catalog, classifier *Classifier, logger *slog.Logger) (*Planner, error) {
	if cat == nil {
		return nil, fmt.Errorf("planner requires a catalog")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		catalog:    cat,
		classifier: classifier,
		logger:     logger,
	}, nil
}

// GenerateHypotheses produces the ordered candidate strategies for a query.
//
// Description:
//
//	Classifies the query's intent, then generates up to two hypotheses:
//	a curated template strategy when the (intent, domain) pair has one
//	and the catalog carries its entries, followed by a retrieval strategy
//	built from the runnable entries among the retrieval matches. Template
//	hypotheses are ordered first: a curated diagnostic path beats a bag
//	of individually similar commands. Each hypothesis represents a
//	different diagnostic path, not a reordering of the same commands.
//
// Inputs:
//
//	ctx - Context for the optional LLM refinement call.
//	query - Natural-language query text. Must not be empty.
//	retrieved - Ranked retrieval matches for the query, best first.
//
// Outputs:
//
//	[]Hypothesis - Ordered hypotheses, preferred first.
//	error - ErrEmptyQuery or ErrNoHypotheses.
func (p *Planner) GenerateHypotheses(ctx context.Context, query string, retrieved []index.Match) ([]Hypothesis, error) {
	ctx, span := tracer.Start(ctx, "planner.GenerateHypotheses")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	var intent Intent
	if p.classifier != nil {
		intent = p.classifier.Classify(ctx, query)
	} else {
		intent = ClassifyIntent(query)
	}
	span.SetAttributes(
		attribute.String("planner.intent", intent.Verb),
		attribute.String("planner.domain", intent.Domain),
		attribute.String("planner.intent_source", intent.Source),
	)

	var hypotheses []Hypothesis

	if intent.Recognized() {
		if tmpl, ok := templateFor(intent.Domain); ok && p.templateUsable(tmpl) {
			hypotheses = append(hypotheses, Hypothesis{
				ID:          templateHypothesisID(intent.Domain),
				Strategy:    StrategyTemplate,
				Description: tmpl.description,
				Query:       query,
				Intent:      intent,
				Matches:     retrieved,
			})
		}
	}

	if p.countRunnable(retrieved) > 0 {
		hypotheses = append(hypotheses, Hypothesis{
			ID:          "hyp-retrieval",
			Strategy:    StrategyRetrieval,
			Description: "Run the best-matching commands from the corpus and aggregate their output",
			Query:       query,
			Intent:      intent,
			Matches:     retrieved,
		})
	}

	if len(hypotheses) == 0 {
		return nil, fmt.Errorf("%w: intent %s/%s, %d retrieval matches",
			ErrNoHypotheses, intent.Verb, intent.Domain, len(retrieved))
	}

	p.logger.Debug("hypotheses generated",
		slog.String("intent", intent.Verb),
		slog.String("domain", intent.Domain),
		slog.Int("count", len(hypotheses)),
	)
	span.SetAttributes(attribute.Int("planner.hypotheses", len(hypotheses)))

	return hypotheses, nil
}

// Materialize binds a hypothesis to a concrete, validated Plan.
//
// Description:
//
//	Resolves the hypothesis's entries against the catalog, substitutes
//	{query} placeholders in argv templates, and declares every edge
//	explicitly. The returned plan has passed Validate: every edge
//	references plan nodes and the edge set is acyclic. A plan that fails
//	validation is never returned, so no command of a cyclic plan can
//	ever start.
//
// Outputs:
//
//	*Plan - The validated plan.
//	error - ErrUnknownStrategy, ErrInvalidPlan, or ErrPlanCycle.
func (p *Planner) Materialize(h Hypothesis) (*Plan, error) {
	var (
		plan *Plan
		err  error
	)
	switch h.Strategy {
	case StrategyTemplate:
		plan, err = p.materializeTemplate(h)
	case StrategyRetrieval:
		plan, err = p.materializeRetrieval(h)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, h.Strategy)
	}
	if err != nil {
		return nil, err
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}

	p.logger.Debug("plan materialized",
		slog.String("hypothesis", h.ID),
		slog.Int("nodes", len(plan.Nodes)),
		slog.Int("edges", len(plan.Edges)),
	)
	return plan, nil
}

// templateUsable reports whether the catalog carries enough of a template
// to materialize it: the probe, the aggregate, and at least one collector.
func (p *Planner) templateUsable(tmpl planTemplate) bool {
	if _, ok := p.catalog.Get(tmpl.probe); !ok {
		return false
	}
	if _, ok := p.catalog.Get(aggregateEntryID); !ok {
		return false
	}
	for _, id := range tmpl.fanOut {
		if _, ok := p.catalog.Get(id); ok {
			return true
		}
	}
	return false
}

// countRunnable counts command entries among the matches, excluding the
// aggregation entry, which never stands alone.
func (p *Planner) countRunnable(matches []index.Match) int {
	n := 0
	for _, m := range matches {
		if m.Entry.Kind == catalog.KindCommand && m.Entry.ID != aggregateEntryID {
			n++
		}
	}
	return n
}

// materializeTemplate builds the probe -> fan-out -> aggregate plan for a
// curated template. Collectors missing from the catalog are dropped.
func (p *Planner) materializeTemplate(h Hypothesis) (*Plan, error) {
	tmpl, ok := templateFor(h.Intent.Domain)
	if !ok {
		return nil, fmt.Errorf("%w: no template for domain %q", ErrInvalidPlan, h.Intent.Domain)
	}

	probe, ok := p.catalog.Get(tmpl.probe)
	if !ok {
		return nil, fmt.Errorf("%w: template probe %q not in catalog", ErrInvalidPlan, tmpl.probe)
	}
	aggregate, ok := p.catalog.Get(aggregateEntryID)
	if !ok {
		return nil, fmt.Errorf("%w: aggregate entry %q not in catalog", ErrInvalidPlan, aggregateEntryID)
	}

	plan := &Plan{
		Version: PlanVersion,
		Query:   h.Query,
		Intent:  h.Intent.Verb,
		Domain:  h.Intent.Domain,
	}
	plan.Nodes = append(plan.Nodes, nodeFromEntry(probe, h.Query))

	var collectors []string
	for _, id := range tmpl.fanOut {
		entry, ok := p.catalog.Get(id)
		if !ok {
			p.logger.Warn("template collector missing from catalog, dropping",
				slog.String("entry", id),
				slog.String("domain", h.Intent.Domain),
			)
			continue
		}
		plan.Nodes = append(plan.Nodes, nodeFromEntry(entry, h.Query))
		plan.Edges = append(plan.Edges, PlanEdge{From: probe.ID, To: entry.ID, Kind: EdgeOrdering})
		collectors = append(collectors, entry.ID)
	}
	if len(collectors) == 0 {
		return nil, fmt.Errorf("%w: no template collector available for domain %q",
			ErrInvalidPlan, h.Intent.Domain)
	}

	plan.Nodes = append(plan.Nodes, nodeFromEntry(aggregate, h.Query))
	for _, id := range collectors {
		plan.Edges = append(plan.Edges, PlanEdge{From: id, To: aggregate.ID, Kind: EdgeData})
	}

	plan.Metadata = planMetadata(h, plan)
	return plan, nil
}

// materializeRetrieval builds independent nodes from the runnable matches,
// feeding an aggregation node over DATA edges when more than one command
// was retrieved.
func (p *Planner) materializeRetrieval(h Hypothesis) (*Plan, error) {
	plan := &Plan{
		Version: PlanVersion,
		Query:   h.Query,
		Intent:  h.Intent.Verb,
		Domain:  h.Intent.Domain,
	}

	for _, m := range h.Matches {
		if m.Entry.Kind != catalog.KindCommand || m.Entry.ID == aggregateEntryID {
			continue
		}
		plan.Nodes = append(plan.Nodes, nodeFromEntry(m.Entry, h.Query))
	}
	if len(plan.Nodes) == 0 {
		return nil, fmt.Errorf("%w: no runnable entries among %d matches",
			ErrInvalidPlan, len(h.Matches))
	}

	if len(plan.Nodes) > 1 {
		if aggregate, ok := p.catalog.Get(aggregateEntryID); ok {
			commandIDs := make([]string, len(plan.Nodes))
			for i, n := range plan.Nodes {
				commandIDs[i] = n.ID
			}
			plan.Nodes = append(plan.Nodes, nodeFromEntry(aggregate, h.Query))
			for _, id := range commandIDs {
				plan.Edges = append(plan.Edges, PlanEdge{From: id, To: aggregate.ID, Kind: EdgeData})
			}
		}
	}

	plan.Metadata = planMetadata(h, plan)
	return plan, nil
}

// nodeFromEntry binds a catalog entry to a plan node, substituting
// placeholders from the query context.
func nodeFromEntry(e catalog.Entry, query string) PlanNode {
	return PlanNode{
		ID:          e.ID,
		Description: e.Title,
		Argv:        substituteArgv(e.Exec, query),
		Inputs:      e.Inputs,
		Outputs:     e.Outputs,
		Constraints: Constraints{
			ReadOnly: e.ReadOnly,
			Timeout:  time.Duration(e.TimeoutSeconds) * time.Second,
		},
	}
}

// substituteArgv replaces {query} placeholders in an argv template.
func substituteArgv(argv []string, query string) []string {
	bound := make([]string, len(argv))
	for i, arg := range argv {
		bound[i] = strings.ReplaceAll(arg, "{query}", query)
	}
	return bound
}

// planMetadata records strategy provenance on a materialized plan.
func planMetadata(h Hypothesis, plan *Plan) map[string]string {
	return map[string]string{
		"strategy":      string(h.Strategy),
		"hypothesis_id": h.ID,
		"node_count":    strconv.Itoa(len(plan.Nodes)),
		"edge_count":    strconv.Itoa(len(plan.Edges)),
	}
}
