// Package search implements hybrid concept search. A Router fans a
// request out to substring, trigram and vector matching, applies the
// request filter inside each mechanism, and merges the ranked lists into
// one deterministic result set.
package search
