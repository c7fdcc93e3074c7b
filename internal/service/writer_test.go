package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

type mockApplier struct {
	mu        sync.Mutex
	chunks    [][]models.Mutation
	failAfter int // fail chunks applied at or beyond this count; -1 never
	inFlight  int
	maxSeen   int
}

func newMockApplier() *mockApplier { return &mockApplier{failAfter: -1} }

func (m *mockApplier) ApplyChunk(ctx context.Context, chunk []models.Mutation) error {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	if m.failAfter >= 0 && len(m.chunks) >= m.failAfter {
		m.inFlight--
		m.mu.Unlock()
		return errors.New("store rejected chunk")
	}
	m.chunks = append(m.chunks, chunk)
	m.inFlight--
	m.mu.Unlock()
	return nil
}

func recordUpsert(id string) models.Mutation {
	return models.Mutation{
		Kind:     models.MutationRecordUpsert,
		RecordID: models.NaturalKey(id),
		Record:   &models.PasiRecord{ID: models.NaturalKey(id)},
	}
}

func TestWriterChunksBySize(t *testing.T) {
	applier := newMockApplier()
	writer := NewBatchedWriter(applier, 2, 1, 0, nil)

	muts := []models.Mutation{recordUpsert("a"), recordUpsert("b"), recordUpsert("c")}
	applied, err := writer.Apply(context.Background(), muts)
	require.NoError(t, err)
	require.Equal(t, 3, applied)
	require.Len(t, applier.chunks, 2)
	require.Len(t, applier.chunks[0], 2)
	require.Len(t, applier.chunks[1], 1)
}

func TestWriterDiagnosticsSortedLast(t *testing.T) {
	applier := newMockApplier()
	writer := NewBatchedWriter(applier, 10, 1, 0, nil)

	report := models.Mutation{Kind: models.MutationRunReport, RunID: "run-1", Report: &models.SyncReport{}}
	muts := []models.Mutation{report, recordUpsert("a"), recordUpsert("b")}

	_, err := writer.Apply(context.Background(), muts)
	require.NoError(t, err)
	require.Len(t, applier.chunks, 1)
	chunk := applier.chunks[0]
	require.Equal(t, models.MutationRecordUpsert, chunk[0].Kind)
	require.Equal(t, models.MutationRecordUpsert, chunk[1].Kind)
	require.Equal(t, models.MutationRunReport, chunk[2].Kind)
}

func TestWriterCollapsesSingletonAlternateVersions(t *testing.T) {
	applier := newMockApplier()
	writer := NewBatchedWriter(applier, 10, 1, 0, nil)

	rec := &models.PasiRecord{
		ID:                "a",
		AlternateVersions: []models.AlternateVersion{{Status: models.RecordStatusActive}},
	}
	_, err := writer.Apply(context.Background(), []models.Mutation{{Kind: models.MutationRecordUpsert, Record: rec}})
	require.NoError(t, err)
	require.Empty(t, applier.chunks[0][0].Record.AlternateVersions)
	// original record untouched
	require.Len(t, rec.AlternateVersions, 1)
}

func TestWriterDropsInvalidLinkUpserts(t *testing.T) {
	applier := newMockApplier()
	writer := NewBatchedWriter(applier, 10, 1, 0, nil)

	applied, err := writer.Apply(context.Background(), []models.Mutation{
		{Kind: models.MutationLinkUpsert, SummaryKey: "k", CourseCode: "eng30"},
		recordUpsert("a"),
	})
	require.NoError(t, err)
	require.Equal(t, 1, applied)
	require.Len(t, applier.chunks[0], 1)
}

func TestWriterFailingChunkAborts(t *testing.T) {
	applier := newMockApplier()
	applier.failAfter = 1
	writer := NewBatchedWriter(applier, 1, 1, 0, nil)

	muts := []models.Mutation{recordUpsert("a"), recordUpsert("b"), recordUpsert("c")}
	applied, err := writer.Apply(context.Background(), muts)
	require.Error(t, err)
	require.Contains(t, err.Error(), "store rejected chunk")
	// the first chunk committed and stays committed
	require.Equal(t, 1, applied)
	require.Len(t, applier.chunks, 1)
}

func TestWriterBoundedConcurrency(t *testing.T) {
	applier := newMockApplier()
	writer := NewBatchedWriter(applier, 1, 3, 0, nil)

	var muts []models.Mutation
	for i := 0; i < 12; i++ {
		muts = append(muts, recordUpsert(string(rune('a'+i))))
	}
	_, err := writer.Apply(context.Background(), muts)
	require.NoError(t, err)
	require.LessOrEqual(t, applier.maxSeen, 3)
	require.Len(t, applier.chunks, 12)
}
