// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import "errors"

// Sentinel errors for the retrieval index.
//
// Callers use errors.Is to classify failures:
//   - ErrCorpusEmpty: Build was asked to index zero entries.
//   - ErrNotBuilt: Query was called before a successful Build.
//   - ErrRetrievalEmpty: Query matched nothing above the score floor.
//   - ErrEmbedding: the embedding backend failed or returned bad data.
//   - ErrDimensionMismatch: vectors of different lengths were compared
//     or indexed together.
var (
	ErrCorpusEmpty       = errors.New("corpus is empty")
	ErrNotBuilt          = errors.New("index has not been built")
	ErrRetrievalEmpty    = errors.New("retrieval returned no results")
	ErrEmbedding         = errors.New("embedding failed")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
