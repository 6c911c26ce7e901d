package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB. It keeps
// the advisory generation lock and the record of the most recent run.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository.
func NewRunRepository(backend *Backend) (*RunRepository, error) {
	return &RunRepository{
		backend: backend,
	}, nil
}

// AcquireRunLock takes the generation lock for holder. A lock whose
// holder has not refreshed it within ttl is treated as stale and taken
// over.
func (r *RunRepository) AcquireRunLock(ctx context.Context, holder string, ttl time.Duration) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(runLockKeyName))
		if err == nil {
			var owner string
			var acquiredAt time.Time
			if err := item.Value(func(val []byte) error {
				var verr error
				owner, acquiredAt, verr = decodeLock(val)
				return verr
			}); err != nil {
				return err
			}
			if owner != holder && time.Since(acquiredAt) < ttl {
				return fmt.Errorf("%w: held by %s", storage.ErrRunLockHeld, owner)
			}
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := tx.Set([]byte(runLockKeyName), encodeLock(holder, time.Now())); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// ReleaseRunLock releases the lock if holder owns it. Releasing an
// already free lock is a no-op.
func (r *RunRepository) ReleaseRunLock(ctx context.Context, holder string) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(runLockKeyName))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		var owner string
		if err := item.Value(func(val []byte) error {
			var verr error
			owner, _, verr = decodeLock(val)
			return verr
		}); err != nil {
			return err
		}
		if owner != holder {
			return fmt.Errorf("%w: held by %s", storage.ErrNotLockHolder, owner)
		}

		if err := tx.Delete([]byte(runLockKeyName)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// SaveRun persists the summary of a completed generation run.
func (r *RunRepository) SaveRun(ctx context.Context, run *core.GenerationRun) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set([]byte(runLastKeyName), storage.MarshalGenerationRun(run)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LastRun retrieves the most recently saved run summary, or nil if no
// run has been recorded.
func (r *RunRepository) LastRun(ctx context.Context) (*core.GenerationRun, error) {
	var run *core.GenerationRun
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(runLastKeyName))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var verr error
			run, verr = storage.UnmarshalGenerationRun(val)
			return verr
		})
	}, false)
	return run, err
}

// encodeLock serializes a lock record as an 8-byte BigEndian timestamp
// followed by the holder name.
func encodeLock(holder string, acquiredAt time.Time) []byte {
	buf := make([]byte, 0, 8+len(holder))
	buf = binary.BigEndian.AppendUint64(buf, uint64(acquiredAt.UTC().UnixMicro()))
	return append(buf, holder...)
}

func decodeLock(data []byte) (holder string, acquiredAt time.Time, err error) {
	if len(data) < 8 {
		return "", time.Time{}, fmt.Errorf("%w: bad lock encoding", storage.ErrSerializationFailed)
	}
	micros := int64(binary.BigEndian.Uint64(data[:8]))
	return string(data[8:]), time.UnixMicro(micros).UTC(), nil
}
