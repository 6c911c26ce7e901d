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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/vocabdex/core"
)

// Record serialization uses hand-written MUS serializers. The record
// shapes are few and stable, so the serializers are maintained by hand
// rather than generated. Timestamps round-trip at microsecond precision
// in UTC.

// MarshalConcept serializes a Concept to bytes.
func MarshalConcept(c *core.Concept) []byte {
	buf := make([]byte, ConceptSer.Size(*c))
	ConceptSer.Marshal(*c, buf)
	return buf
}

// UnmarshalConcept deserializes a Concept from bytes.
func UnmarshalConcept(data []byte) (*core.Concept, error) {
	c, _, err := ConceptSer.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: concept: %w", ErrSerializationFailed, err)
	}
	return &c, nil
}

// MarshalEmbedding serializes a ConceptEmbedding to bytes.
func MarshalEmbedding(e *core.ConceptEmbedding) []byte {
	buf := make([]byte, EmbeddingSer.Size(*e))
	EmbeddingSer.Marshal(*e, buf)
	return buf
}

// UnmarshalEmbedding deserializes a ConceptEmbedding from bytes.
func UnmarshalEmbedding(data []byte) (*core.ConceptEmbedding, error) {
	e, _, err := EmbeddingSer.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %w", ErrSerializationFailed, err)
	}
	return &e, nil
}

// MarshalGenerationRun serializes a GenerationRun to bytes.
func MarshalGenerationRun(r *core.GenerationRun) []byte {
	buf := make([]byte, GenerationRunSer.Size(*r))
	GenerationRunSer.Marshal(*r, buf)
	return buf
}

// UnmarshalGenerationRun deserializes a GenerationRun from bytes.
func UnmarshalGenerationRun(data []byte) (*core.GenerationRun, error) {
	r, _, err := GenerationRunSer.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: generation run: %w", ErrSerializationFailed, err)
	}
	return &r, nil
}

// ConceptSer is the MUS serializer for core.Concept.
var ConceptSer = conceptSer{}

type conceptSer struct{}

func (conceptSer) Marshal(c core.Concept, bs []byte) (n int) {
	n = varint.Uint64.Marshal(c.ConceptID, bs)
	n += ord.String.Marshal(c.Name, bs[n:])
	n += ord.String.Marshal(c.Code, bs[n:])
	n += ord.String.Marshal(c.DomainID, bs[n:])
	n += ord.String.Marshal(c.VocabularyID, bs[n:])
	n += ord.String.Marshal(c.ConceptClassID, bs[n:])
	n += ord.String.Marshal(string(c.Standard), bs[n:])
	n += marshalTime(c.ValidStart, bs[n:])
	n += marshalTime(c.ValidEnd, bs[n:])
	n += ord.String.Marshal(c.InvalidReason, bs[n:])
	return n
}

func (conceptSer) Unmarshal(bs []byte) (c core.Concept, n int, err error) {
	var n1 int
	if c.ConceptID, n, err = varint.Uint64.Unmarshal(bs); err != nil {
		return
	}
	if c.Name, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if c.Code, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if c.DomainID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if c.VocabularyID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if c.ConceptClassID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var standard string
	if standard, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	c.Standard = core.StandardFlag(standard)
	if c.ValidStart, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if c.ValidEnd, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if c.InvalidReason, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (conceptSer) Size(c core.Concept) (size int) {
	size = varint.Uint64.Size(c.ConceptID)
	size += ord.String.Size(c.Name)
	size += ord.String.Size(c.Code)
	size += ord.String.Size(c.DomainID)
	size += ord.String.Size(c.VocabularyID)
	size += ord.String.Size(c.ConceptClassID)
	size += ord.String.Size(string(c.Standard))
	size += sizeTime()
	size += sizeTime()
	size += ord.String.Size(c.InvalidReason)
	return size
}

func (s conceptSer) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// EmbeddingSer is the MUS serializer for core.ConceptEmbedding.
var EmbeddingSer = embeddingSer{}

type embeddingSer struct{}

func (embeddingSer) Marshal(e core.ConceptEmbedding, bs []byte) (n int) {
	n = varint.Uint64.Marshal(e.ConceptID, bs)
	n += marshalVector(e.Vector, bs[n:])
	n += ord.String.Marshal(e.ModelName, bs[n:])
	n += ord.String.Marshal(e.ModelVersion, bs[n:])
	n += marshalTime(e.GeneratedAt, bs[n:])
	return n
}

func (embeddingSer) Unmarshal(bs []byte) (e core.ConceptEmbedding, n int, err error) {
	var n1 int
	if e.ConceptID, n, err = varint.Uint64.Unmarshal(bs); err != nil {
		return
	}
	if e.Vector, n1, err = unmarshalVector(bs[n:]); err != nil {
		return
	}
	n += n1
	if e.ModelName, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if e.ModelVersion, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if e.GeneratedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (embeddingSer) Size(e core.ConceptEmbedding) (size int) {
	size = varint.Uint64.Size(e.ConceptID)
	size += sizeVector(e.Vector)
	size += ord.String.Size(e.ModelName)
	size += ord.String.Size(e.ModelVersion)
	size += sizeTime()
	return size
}

func (s embeddingSer) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// GenerationRunSer is the MUS serializer for core.GenerationRun.
var GenerationRunSer = generationRunSer{}

type generationRunSer struct{}

func (generationRunSer) Marshal(r core.GenerationRun, bs []byte) (n int) {
	n = ord.String.Marshal(r.Holder, bs)
	n += ord.String.Marshal(r.ModelName, bs[n:])
	n += ord.String.Marshal(r.ModelVersion, bs[n:])
	n += marshalTime(r.StartedAt, bs[n:])
	n += marshalTime(r.FinishedAt, bs[n:])
	n += varint.Int.Marshal(r.Processed, bs[n:])
	n += varint.Int.Marshal(r.Failed, bs[n:])
	n += varint.Int.Marshal(len(r.FailedIDs), bs[n:])
	for _, id := range r.FailedIDs {
		n += varint.Uint64.Marshal(id, bs[n:])
	}
	return n
}

func (generationRunSer) Unmarshal(bs []byte) (r core.GenerationRun, n int, err error) {
	var n1 int
	if r.Holder, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if r.ModelName, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if r.ModelVersion, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if r.StartedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if r.FinishedAt, n1, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += n1
	if r.Processed, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if r.Failed, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	var count int
	if count, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if count < 0 {
		err = fmt.Errorf("%w: negative id count", ErrSerializationFailed)
		return
	}
	if count > 0 {
		r.FailedIDs = make([]uint64, count)
		for i := 0; i < count; i++ {
			if r.FailedIDs[i], n1, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
				return
			}
			n += n1
		}
	}
	return
}

func (generationRunSer) Size(r core.GenerationRun) (size int) {
	size = ord.String.Size(r.Holder)
	size += ord.String.Size(r.ModelName)
	size += ord.String.Size(r.ModelVersion)
	size += sizeTime()
	size += sizeTime()
	size += varint.Int.Size(r.Processed)
	size += varint.Int.Size(r.Failed)
	size += varint.Int.Size(len(r.FailedIDs))
	for _, id := range r.FailedIDs {
		size += varint.Uint64.Size(id)
	}
	return size
}

func (s generationRunSer) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

func marshalVector(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, x := range v {
		n += raw.Float32.Marshal(x, bs[n:])
	}
	return n
}

func unmarshalVector(bs []byte) (v []float32, n int, err error) {
	var count int
	if count, n, err = varint.Int.Unmarshal(bs); err != nil {
		return
	}
	if count < 0 {
		err = fmt.Errorf("%w: negative vector length", ErrSerializationFailed)
		return
	}
	if count == 0 {
		return
	}
	v = make([]float32, count)
	var n1 int
	for i := 0; i < count; i++ {
		if v[i], n1, err = raw.Float32.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += n1
	}
	return
}

func sizeVector(v []float32) int {
	size := varint.Int.Size(len(v))
	for _, x := range v {
		size += raw.Float32.Size(x)
	}
	return size
}

func marshalTime(t time.Time, bs []byte) int {
	return raw.Int64.Marshal(t.UTC().UnixMicro(), bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	micros, n, err := raw.Int64.Unmarshal(bs)
	if err != nil {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func sizeTime() int {
	return raw.Int64.Size(0)
}
