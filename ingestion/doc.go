// Package ingestion bulk-loads tab-separated vocabulary release files
// into the concept repository.
package ingestion
