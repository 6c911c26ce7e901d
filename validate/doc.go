// Package validate checks the integrity of the stored embedding set:
// coverage of the embeddable corpus, orphaned embeddings, vector
// dimensionality, unit norms, model identity and value finiteness.
package validate
