// Package badger is the BadgerDB implementation of the storage
// repositories. All records share one keyspace: concept records, the
// embeddable set, trigram postings, embedding records and the
// inverted-file index each live under their own key prefix.
package badger
