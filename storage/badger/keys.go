package badger

import (
	"encoding/binary"
	"fmt"
)

// Key prefixes for different data types. Concept and embedding keys carry
// the concept id in BigEndian form so lexicographic iteration visits
// records in ascending id order.
const (
	conceptRecordPrefix   = "conrec"
	conceptStandardPrefix = "constd"
	trigramPostingPrefix  = "contrg"
	embeddingRecordPrefix = "embrec"
	ivfMetaKeyName        = "ivfmeta"
	ivfCentroidPrefix     = "ivfcent"
	ivfPostingPrefix      = "ivfpost"
	ivfAssignPrefix       = "ivfasgn"
	runLockKeyName        = "embrun:lock"
	runLastKeyName        = "embrun:last"
)

// makeConceptKey generates a key for a concept record by id.
func makeConceptKey(id uint64) []byte {
	return appendUint64([]byte(conceptRecordPrefix+":"), id)
}

// makeStandardKey generates a membership key for the embeddable set.
func makeStandardKey(id uint64) []byte {
	return appendUint64([]byte(conceptStandardPrefix+":"), id)
}

// makeTrigramKey generates a composite key for the trigram posting index.
// Format: prefix:trigram:id
func makeTrigramKey(trigram string, id uint64) []byte {
	return appendUint64(makePartialTrigramKey(trigram), id)
}

// makePartialTrigramKey generates a prefix covering all postings of one
// trigram.
func makePartialTrigramKey(trigram string) []byte {
	return []byte(trigramPostingPrefix + ":" + trigram + ":")
}

// makeEmbeddingKey generates a key for a stored embedding by concept id.
func makeEmbeddingKey(id uint64) []byte {
	return appendUint64([]byte(embeddingRecordPrefix+":"), id)
}

// makeCentroidKey generates a key for a trained centroid by list number.
func makeCentroidKey(list uint32) []byte {
	buf := make([]byte, 0, len(ivfCentroidPrefix)+5)
	buf = append(buf, []byte(ivfCentroidPrefix+":")...)
	buf = binary.BigEndian.AppendUint32(buf, list)
	return buf
}

// makeIVFPostingKey generates a composite key for an inverted-file
// posting. Format: prefix:list:id
func makeIVFPostingKey(list uint32, id uint64) []byte {
	return appendUint64(makePartialIVFPostingKey(list), id)
}

// makePartialIVFPostingKey generates a prefix covering one list.
func makePartialIVFPostingKey(list uint32) []byte {
	buf := make([]byte, 0, len(ivfPostingPrefix)+5)
	buf = append(buf, []byte(ivfPostingPrefix+":")...)
	buf = binary.BigEndian.AppendUint32(buf, list)
	return buf
}

// makeIVFAssignKey generates a key recording which list a concept's
// vector currently belongs to.
func makeIVFAssignKey(id uint64) []byte {
	return appendUint64([]byte(ivfAssignPrefix+":"), id)
}

func appendUint64(prefix []byte, id uint64) []byte {
	buf := make([]byte, 0, len(prefix)+8)
	buf = append(buf, prefix...)
	return binary.BigEndian.AppendUint64(buf, id)
}

// idFromKey extracts the trailing BigEndian id from a composite key.
func idFromKey(key []byte) (uint64, error) {
	if len(key) < 8 {
		return 0, fmt.Errorf("key too short: %q", key)
	}
	return binary.BigEndian.Uint64(key[len(key)-8:]), nil
}
