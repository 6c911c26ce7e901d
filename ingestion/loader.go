package ingestion

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/vocabdex/core"
	"github.com/poiesic/vocabdex/storage"
)

// conceptColumns is the expected column count of a vocabulary release
// row: concept_id, concept_name, domain_id, vocabulary_id,
// concept_class_id, standard_concept, concept_code, valid_start_date,
// valid_end_date, invalid_reason.
const conceptColumns = 10

const releaseDateLayout = "20060102"

// maxLineBytes bounds a single vocabulary row. Concept names are short,
// but release files occasionally carry long synonym-laden names.
const maxLineBytes = 1 << 20

// LoadStats summarizes a completed load.
type LoadStats struct {
	// Rows is the number of data rows read.
	Rows int

	// Loaded is the number of concepts persisted.
	Loaded int

	// Malformed is the number of rows skipped as unparseable.
	Malformed int

	// Elapsed is the wall time of the load.
	Elapsed time.Duration
}

// Loader bulk-loads a tab-separated vocabulary release into the concept
// repository. Rows are parsed on the reader goroutine and persisted in
// batches by a worker pool, so index maintenance overlaps with parsing.
type Loader struct {
	repo      storage.ConceptRepository
	pool      *ants.Pool
	batchSize int
	logger    *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader) error

// WithPoolSize sets the worker pool size for concurrent batch writes.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(l *Loader) error {
		if size < 1 {
			size = 1
		}
		if l.pool != nil {
			l.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		l.pool = pool
		return nil
	}
}

// WithBatchSize sets how many concepts are persisted per transaction.
// Default is 500.
func WithBatchSize(size int) Option {
	return func(l *Loader) error {
		if size < 1 {
			size = 1
		}
		l.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) error {
		if logger == nil {
			logger = slog.Default()
		}
		l.logger = logger
		return nil
	}
}

// NewLoader creates a new vocabulary loader.
func NewLoader(repo storage.ConceptRepository, opts ...Option) (*Loader, error) {
	if repo == nil {
		return nil, ErrConceptRepositoryRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		repo:      repo,
		pool:      pool,
		batchSize: 500,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			pool.Release()
			return nil, err
		}
	}

	return l, nil
}

// Close releases the worker pool.
func (l *Loader) Close() error {
	l.pool.Release()
	return nil
}

// LoadFile loads a vocabulary release file.
func (l *Loader) LoadFile(ctx context.Context, path string) (*LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return l.Load(ctx, f)
}

// Load reads tab-separated vocabulary rows and persists them. A header
// row is detected and skipped. Malformed rows are counted and skipped;
// storage failures abort the load.
func (l *Loader) Load(ctx context.Context, r io.Reader) (*LoadStats, error) {
	start := time.Now()
	stats := &LoadStats{}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error
	loaded := 0

	submit := func(batch []*core.Concept) error {
		mu.Lock()
		err := firstErr
		mu.Unlock()
		if err != nil {
			return err
		}

		wg.Add(1)
		submitErr := l.pool.Submit(func() {
			defer wg.Done()
			if err := l.repo.AddConcepts(ctx, batch...); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return
			}
			mu.Lock()
			loaded += len(batch)
			mu.Unlock()
		})
		if submitErr != nil {
			// The task never ran, so its Add must be undone here.
			wg.Done()
			return submitErr
		}
		return nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var batch []*core.Concept
	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			wg.Wait()
			return nil, err
		}

		line := scanner.Text()
		lineNo++
		if line == "" {
			continue
		}
		if lineNo == 1 && strings.HasPrefix(line, "concept_id") {
			continue
		}

		stats.Rows++
		concept, err := parseConceptRow(line)
		if err != nil {
			stats.Malformed++
			l.logger.Warn("skipping malformed row", "line", lineNo, "err", err)
			continue
		}

		batch = append(batch, concept)
		if len(batch) >= l.batchSize {
			if err := submit(batch); err != nil {
				wg.Wait()
				return nil, err
			}
			batch = nil
		}
	}
	if err := scanner.Err(); err != nil {
		wg.Wait()
		return nil, fmt.Errorf("failed reading vocabulary file: %w", err)
	}
	if len(batch) > 0 {
		if err := submit(batch); err != nil {
			wg.Wait()
			return nil, err
		}
	}

	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	stats.Loaded = loaded
	stats.Elapsed = time.Since(start)
	return stats, nil
}

// parseConceptRow parses one tab-separated vocabulary row.
func parseConceptRow(line string) (*core.Concept, error) {
	fields := strings.Split(line, "\t")
	if len(fields) != conceptColumns {
		return nil, fmt.Errorf("%w: expected %d columns, got %d", ErrMalformedRow, conceptColumns, len(fields))
	}

	id, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil || id == 0 {
		return nil, fmt.Errorf("%w: bad concept_id %q", ErrMalformedRow, fields[0])
	}

	validStart, err := parseReleaseDate(fields[7])
	if err != nil {
		return nil, fmt.Errorf("%w: bad valid_start_date %q", ErrMalformedRow, fields[7])
	}
	validEnd, err := parseReleaseDate(fields[8])
	if err != nil {
		return nil, fmt.Errorf("%w: bad valid_end_date %q", ErrMalformedRow, fields[8])
	}

	concept := &core.Concept{
		ConceptID:      id,
		Name:           fields[1],
		DomainID:       fields[2],
		VocabularyID:   fields[3],
		ConceptClassID: fields[4],
		Standard:       core.StandardFlag(fields[5]),
		Code:           fields[6],
		ValidStart:     validStart,
		ValidEnd:       validEnd,
		InvalidReason:  fields[9],
	}
	if err := core.ValidateConcept(concept); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRow, err)
	}
	return concept, nil
}

func parseReleaseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(releaseDateLayout, s)
}
