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


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidConcept indicates a Concept failed validation.
	ErrInvalidConcept = errors.New("invalid concept")

	// ErrInvalidEmbedding indicates a ConceptEmbedding failed validation.
	ErrInvalidEmbedding = errors.New("invalid embedding")

	// ErrZeroConceptID indicates a concept id of zero, which is never valid.
	ErrZeroConceptID = errors.New("concept id must be positive")

	// ErrEmptyVector indicates an embedding with no vector data.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrEmptyModelName indicates an embedding without a model name.
	ErrEmptyModelName = errors.New("model name cannot be empty")

	// ErrInvalidStandardFlag indicates an unrecognized standard-concept flag.
	ErrInvalidStandardFlag = errors.New("invalid standard concept flag")
)
