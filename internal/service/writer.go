package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

type chunkApplier interface {
	ApplyChunk(ctx context.Context, chunk []models.Mutation) error
}

// BatchedWriter applies the mutation set produced by a reconciliation run in
// bounded-size chunks. Each chunk commits atomically (one transaction); the
// run as a whole is not atomic. A failing chunk aborts the remainder while
// already-committed chunks stay committed. Callers recover by re-running the
// sync, which is idempotent.
type BatchedWriter struct {
	applier     chunkApplier
	chunkSize   int
	maxInFlight int
	waveDelay   time.Duration
	logger      *zap.Logger
	metrics     *MetricsService
}

// NewBatchedWriter constructs a writer with the given tuning.
func NewBatchedWriter(applier chunkApplier, chunkSize, maxInFlight int, waveDelay time.Duration, logger *zap.Logger) *BatchedWriter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if maxInFlight <= 0 {
		maxInFlight = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchedWriter{
		applier:     applier,
		chunkSize:   chunkSize,
		maxInFlight: maxInFlight,
		waveDelay:   waveDelay,
		logger:      logger,
	}
}

// WithMetrics enables per-chunk commit timing.
func (w *BatchedWriter) WithMetrics(metrics *MetricsService) *BatchedWriter {
	w.metrics = metrics
	return w
}

// Apply sanitises, orders and writes all mutations. Diagnostic (reporting)
// mutations are queued after all user-visible data. Returns the number of
// mutations in committed chunks.
func (w *BatchedWriter) Apply(ctx context.Context, mutations []models.Mutation) (int, error) {
	ordered := w.sanitize(mutations)
	if len(ordered) == 0 {
		return 0, nil
	}

	var chunks [][]models.Mutation
	for start := 0; start < len(ordered); start += w.chunkSize {
		end := start + w.chunkSize
		if end > len(ordered) {
			end = len(ordered)
		}
		chunks = append(chunks, ordered[start:end])
	}

	applied := 0
	for wave := 0; wave < len(chunks); wave += w.maxInFlight {
		if wave > 0 && w.waveDelay > 0 {
			timer := time.NewTimer(w.waveDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return applied, ctx.Err()
			case <-timer.C:
			}
		}

		end := wave + w.maxInFlight
		if end > len(chunks) {
			end = len(chunks)
		}

		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			waveErr  error
			waveDone int
		)
		for i := wave; i < end; i++ {
			wg.Add(1)
			go func(idx int, chunk []models.Mutation) {
				defer wg.Done()
				started := time.Now()
				err := w.applier.ApplyChunk(ctx, chunk)
				w.metrics.ObserveChunkApply(time.Since(started))
				if err != nil {
					mu.Lock()
					if waveErr == nil {
						waveErr = fmt.Errorf("apply chunk %d (%d mutations): %w", idx, len(chunk), err)
					}
					mu.Unlock()
					return
				}
				mu.Lock()
				waveDone += len(chunk)
				mu.Unlock()
			}(i, chunks[i])
		}
		wg.Wait()
		applied += waveDone
		if waveErr != nil {
			w.logger.Error("mutation chunk failed, aborting sync write",
				zap.Int("chunks_total", len(chunks)),
				zap.Int("mutations_applied", applied),
				zap.Error(waveErr))
			return applied, waveErr
		}
	}

	return applied, nil
}

// sanitize drops or repairs mutations the store would reject and moves
// diagnostic writes to the back of the queue so user-visible data commits
// first.
func (w *BatchedWriter) sanitize(mutations []models.Mutation) []models.Mutation {
	data := make([]models.Mutation, 0, len(mutations))
	var diagnostics []models.Mutation

	for _, m := range mutations {
		switch m.Kind {
		case models.MutationRecordUpsert:
			if m.Record == nil {
				w.logger.Warn("dropping record upsert without a record", zap.String("record_id", string(m.RecordID)))
				continue
			}
			if n := len(m.Record.AlternateVersions); n == 1 {
				// a single-element version list is equivalent to none
				w.logger.Warn("collapsing singleton alternate versions list",
					zap.String("record_id", string(m.Record.ID)))
				rec := *m.Record
				rec.AlternateVersions = nil
				m.Record = &rec
			}
		case models.MutationLinkUpsert:
			if m.Link == nil || m.Link.SourceRecordID == "" {
				w.logger.Warn("dropping link upsert without a source record",
					zap.String("summary_key", string(m.SummaryKey)),
					zap.String("course_code", m.CourseCode))
				continue
			}
		case models.MutationSummaryFlags:
			if m.Flags == nil || (m.Flags.NeedsCourseAssignment == nil && m.Flags.StatusMismatch == nil) {
				continue
			}
		}

		if m.Diagnostic() {
			diagnostics = append(diagnostics, m)
			continue
		}
		data = append(data, m)
	}

	return append(data, diagnostics...)
}
