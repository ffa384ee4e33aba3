// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultChunkSize is the maximum body length, in characters, before a
	// documentation entry is split into chunk entries for embedding.
	DefaultChunkSize = 1000

	// DefaultChunkOverlap is carried between adjacent chunks so sentences
	// spanning a boundary stay retrievable. 10% of the chunk size.
	DefaultChunkOverlap = DefaultChunkSize / 10
)

// docSeparators orders split points from strongest to weakest so chunks
// break at paragraphs before lines before words.
var docSeparators = []string{"\n\n", "\n", " ", ""}

// LoadOptions configures corpus loading.
type LoadOptions struct {
	// IncludeBuiltin prepends the builtin seed corpus. Default true via
	// DefaultLoadOptions.
	IncludeBuiltin bool

	// ChunkSize is the maximum documentation body length before chunking.
	ChunkSize int

	// ChunkOverlap is the overlap between adjacent chunks.
	ChunkOverlap int

	// Logger receives load progress. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// DefaultLoadOptions returns the standard loading configuration.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		IncludeBuiltin: true,
		ChunkSize:      DefaultChunkSize,
		ChunkOverlap:   DefaultChunkOverlap,
	}
}

// Load builds a catalog from the builtin corpus plus YAML corpus files.
//
// Description:
//
//	Each path may be a YAML file or a directory scanned for *.yaml and *.yml
//	files. Directory entries are visited in lexical order so the corpus
//	insertion order, which breaks retrieval score ties, is reproducible.
//	Documentation entries longer than the chunk size are split into derived
//	entries ("<id>#0", "<id>#1", ...) before validation.
//
// Inputs:
//
//	paths - Corpus files or directories. May be empty.
//	opts - Loading configuration. Nil uses DefaultLoadOptions.
//
// Outputs:
//
//	*Catalog - The validated catalog.
//	error - Non-nil on unreadable files, YAML errors, or invalid entries.
func Load(paths []string, opts *LoadOptions) (*Catalog, error) {
	if opts == nil {
		defaults := DefaultLoadOptions()
		opts = &defaults
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var entries []Entry
	if opts.IncludeBuiltin {
		entries = append(entries, BuiltinEntries()...)
	}

	for _, path := range paths {
		files, err := corpusFiles(path)
		if err != nil {
			return nil, err
		}
		for _, file := range files {
			loaded, err := loadFile(file)
			if err != nil {
				return nil, err
			}
			logger.Debug("loaded corpus file", "path", file, "entries", len(loaded))
			entries = append(entries, loaded...)
		}
	}

	entries, err := chunkDocumentation(entries, opts.ChunkSize, opts.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	cat, err := New(entries)
	if err != nil {
		return nil, err
	}

	logger.Info("corpus loaded",
		"entries", cat.Len(),
		"commands", len(cat.Commands()),
		"paths", len(paths))
	return cat, nil
}

// corpusFiles expands a path into the YAML files it denotes.
func corpusFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("corpus path %q: %w", path, err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("corpus dir %q: %w", path, err)
	}

	var files []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		ext := filepath.Ext(de.Name())
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(path, de.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// loadFile parses one YAML corpus file holding a list of entries.
func loadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read corpus file %q: %w", path, err)
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse corpus file %q: %w", path, err)
	}
	return entries, nil
}

// chunkDocumentation splits oversized documentation bodies into derived
// chunk entries. Command entries pass through untouched: an argv template
// must never be split.
func chunkDocumentation(entries []Entry, chunkSize, chunkOverlap int) ([]Entry, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if chunkOverlap < 0 {
		chunkOverlap = DefaultChunkOverlap
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators(docSeparators),
	)

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Kind != KindDocumentation || len(e.Body) <= chunkSize {
			out = append(out, e)
			continue
		}

		chunks, err := splitter.SplitText(e.Body)
		if err != nil {
			return nil, fmt.Errorf("chunk entry %q: %w", e.ID, err)
		}
		for i, chunk := range chunks {
			derived := e
			derived.ID = fmt.Sprintf("%s#%d", e.ID, i)
			derived.Title = fmt.Sprintf("%s (part %d)", e.Title, i+1)
			derived.Body = strings.TrimSpace(chunk)
			out = append(out, derived)
		}
	}
	return out, nil
}
