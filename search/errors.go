// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package search

import "errors"

var (
	// ErrConceptRepositoryRequired is returned when a concept repository is not provided.
	ErrConceptRepositoryRequired = errors.New("concept repository required")

	// ErrEmbeddingRepositoryRequired is returned when an embedding repository is not provided.
	ErrEmbeddingRepositoryRequired = errors.New("embedding repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrBlankQuery is returned when the query is empty or whitespace only.
	ErrBlankQuery = errors.New("query must not be blank")

	// ErrInvalidLimit is returned when a negative result limit is requested.
	ErrInvalidLimit = errors.New("limit must not be negative")

	// ErrInvalidMode is returned when an unrecognized search mode is requested.
	ErrInvalidMode = errors.New("unrecognized search mode")

	// ErrModelMismatch is returned when semantic search is requested but
	// the stored embeddings belong to a different model identity than the
	// configured embedder.
	ErrModelMismatch = errors.New("stored embeddings belong to a different model")
)
