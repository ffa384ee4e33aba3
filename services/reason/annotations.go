// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reason

// Provenance records whether an annotation came from the model or from
// the deterministic fallback text.
type Provenance string

const (
	ProvenanceGenerated Provenance = "generated"
	ProvenanceFallback  Provenance = "fallback"
)

// TargetKind names the three pipeline decision points an annotation can
// explain.
type TargetKind string

const (
	// TargetSelection explains why a retrieved corpus entry was chosen.
	TargetSelection TargetKind = "selection"
	// TargetEdge explains a dependency between two plan nodes.
	TargetEdge TargetKind = "edge"
	// TargetResult interprets one node's execution outcome.
	TargetResult TargetKind = "result"
)

// Target identifies what an annotation explains. Selection and result
// targets carry an ID (entry ID and node ID respectively); edge targets
// carry the producing and consuming node IDs.
type Target struct {
	Kind TargetKind `json:"kind"`
	ID   string     `json:"id,omitempty"`
	From string     `json:"from,omitempty"`
	To   string     `json:"to,omitempty"`
}

func (t Target) key() string {
	return string(t.Kind) + "|" + t.ID + "|" + t.From + "|" + t.To
}

// Annotation is one explanation attached to a pipeline decision. It is
// additive metadata: execution results are never modified by reasoning.
type Annotation struct {
	Target     Target     `json:"target"`
	Text       string     `json:"text"`
	Provenance Provenance `json:"provenance"`
}

// Annotations holds a run's explanations in deterministic order:
// selections first (rank order), then edges (plan order), then results
// (plan node order).
type Annotations []Annotation

// ForTarget returns the annotation for a target, if one exists.
func (as Annotations) ForTarget(t Target) (Annotation, bool) {
	want := t.key()
	for _, a := range as {
		if a.Target.key() == want {
			return a, true
		}
	}
	return Annotation{}, false
}

// ByKind returns the annotations of one kind, preserving order.
func (as Annotations) ByKind(kind TargetKind) []Annotation {
	var out []Annotation
	for _, a := range as {
		if a.Target.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// GeneratedCount reports how many annotations came from the model rather
// than a fallback.
func (as Annotations) GeneratedCount() int {
	n := 0
	for _, a := range as {
		if a.Provenance == ProvenanceGenerated {
			n++
		}
	}
	return n
}
