// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package catalog holds the command corpus: the set of candidate operations
// the retrieval index embeds and the planner materializes into plans.
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrInvalidEntry indicates an entry failed structural validation.
	ErrInvalidEntry = errors.New("invalid corpus entry")

	// ErrDuplicateID indicates two entries share the same ID.
	ErrDuplicateID = errors.New("duplicate corpus entry id")

	// ErrEmptyCorpus indicates a corpus source produced no entries.
	ErrEmptyCorpus = errors.New("corpus is empty")
)

// -----------------------------------------------------------------------------
// Entry Model
// -----------------------------------------------------------------------------

// Kind classifies a corpus entry.
type Kind string

const (
	// KindCommand is an executable operation with an argv template.
	KindCommand Kind = "command"

	// KindDocumentation is descriptive text that informs retrieval but is
	// never materialized into a plan node.
	KindDocumentation Kind = "documentation"
)

// Valid reports whether k is a known entry kind.
func (k Kind) Valid() bool {
	return k == KindCommand || k == KindDocumentation
}

// Entry is a single corpus item.
//
// Description:
//
//	Command entries carry an argv template (placeholders like {query} are
//	bound at plan materialization). Documentation entries carry prose that
//	improves retrieval for the commands they describe. Entries are immutable
//	after load; the retrieval index is rebuilt wholesale on corpus changes,
//	never patched in place.
type Entry struct {
	// ID uniquely identifies the entry within one corpus.
	ID string `yaml:"id" json:"id"`

	// Title is a short human-readable name, typically the command line.
	Title string `yaml:"title" json:"title"`

	// Kind is command or documentation.
	Kind Kind `yaml:"kind" json:"kind"`

	// Body is the prose description embedded for retrieval.
	Body string `yaml:"body" json:"body"`

	// Tags are free-form labels (domain, category) that sharpen retrieval.
	Tags []string `yaml:"tags,omitempty" json:"tags,omitempty"`

	// Exec is the argv template for command entries. Exec[0] is the program;
	// arguments may contain placeholders bound from the query context.
	Exec []string `yaml:"exec,omitempty" json:"exec,omitempty"`

	// Inputs names the data this command expects on stdin, if any.
	Inputs []string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Outputs names the data this command produces on stdout.
	Outputs []string `yaml:"outputs,omitempty" json:"outputs,omitempty"`

	// ReadOnly marks commands that only observe system state.
	ReadOnly bool `yaml:"read_only,omitempty" json:"read_only,omitempty"`

	// TimeoutSeconds overrides the executor's default per-node timeout.
	// Zero means use the default.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Validate checks the entry's structural invariants.
//
// Outputs:
//
//	error - Non-nil (wrapping ErrInvalidEntry) when a field is malformed.
func (e Entry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Title) == "" {
		return fmt.Errorf("%w: entry %q has no title", ErrInvalidEntry, e.ID)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: entry %q has unknown kind %q", ErrInvalidEntry, e.ID, e.Kind)
	}
	if strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("%w: entry %q has no body", ErrInvalidEntry, e.ID)
	}
	if e.Kind == KindCommand {
		if len(e.Exec) == 0 || strings.TrimSpace(e.Exec[0]) == "" {
			return fmt.Errorf("%w: command entry %q has no argv", ErrInvalidEntry, e.ID)
		}
	}
	if e.Kind == KindDocumentation && len(e.Exec) > 0 {
		return fmt.Errorf("%w: documentation entry %q must not declare argv", ErrInvalidEntry, e.ID)
	}
	if e.TimeoutSeconds < 0 {
		return fmt.Errorf("%w: entry %q has negative timeout", ErrInvalidEntry, e.ID)
	}
	return nil
}

// EmbeddingText returns the text the retrieval index embeds for this entry.
// Title, body, and tags are concatenated so all three influence similarity.
func (e Entry) EmbeddingText() string {
	var b strings.Builder
	b.WriteString(e.Title)
	b.WriteString("\n")
	b.WriteString(e.Body)
	if len(e.Tags) > 0 {
		b.WriteString("\n")
		b.WriteString(strings.Join(e.Tags, " "))
	}
	return b.String()
}

// HasTag reports whether the entry carries the given tag.
func (e Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Catalog
// -----------------------------------------------------------------------------

// Catalog is an immutable, validated corpus snapshot.
//
// Thread Safety: safe for concurrent reads after construction.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// New validates the given entries and builds a catalog.
//
// Inputs:
//
//	entries - Corpus entries in their authoritative insertion order. The
//	order is preserved; the retrieval index uses it to break score ties.
//
// Outputs:
//
//	*Catalog - The validated catalog.
//	error - ErrEmptyCorpus, ErrDuplicateID, or a validation failure.
func New(entries []Entry) (*Catalog, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyCorpus
	}

	byID := make(map[string]int, len(entries))
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if prev, exists := byID[e.ID]; exists {
			return nil, fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateID, e.ID, prev, i)
		}
		byID[e.ID] = i
	}

	owned := make([]Entry, len(entries))
	copy(owned, entries)

	return &Catalog{entries: owned, byID: byID}, nil
}

// Entries returns the entries in insertion order. Callers must not mutate
// the returned slice.
func (c *Catalog) Entries() []Entry {
	return c.entries
}

// Len returns the number of entries.
func (c *Catalog) Len() int {
	return len(c.entries)
}

// Get returns the entry with the given ID.
func (c *Catalog) Get(id string) (Entry, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[i], true
}

// Commands returns only the executable command entries, in insertion order.
func (c *Catalog) Commands() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Kind == KindCommand {
			out = append(out, e)
		}
	}
	return out
}

// WithTag returns the entries carrying the given tag, in insertion order.
func (c *Catalog) WithTag(tag string) []Entry {
	var out []Entry
	for _, e := range c.entries {
		if e.HasTag(tag) {
			out = append(out, e)
		}
	}
	return out
}
