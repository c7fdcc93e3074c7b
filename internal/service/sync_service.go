package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
	"github.com/rtdacademy/pasi-sync-api/pkg/config"
	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
	"github.com/rtdacademy/pasi-sync-api/pkg/jobs"
)

const (
	courseMapCacheKey = "pasi:course_map"
	syncLockPrefix    = "pasi:sync:lock:"
	syncJobType       = "pasi_sync"
)

type pasiRecordReader interface {
	ListBySchoolYear(ctx context.Context, year models.SchoolYear) ([]models.PasiRecord, error)
}

type summaryStore interface {
	List(ctx context.Context) ([]models.StudentCourseSummary, error)
	ClearRunDiagnostics(ctx context.Context, year models.SchoolYear) error
}

type courseCatalog interface {
	Map(ctx context.Context) (models.CourseMap, error)
}

type syncRunStore interface {
	Create(ctx context.Context, run *models.SyncRun) error
	Complete(ctx context.Context, id string, runErr error) error
	FindByID(ctx context.Context, id string) (*models.SyncRun, error)
	List(ctx context.Context, year *models.SchoolYear, page, pageSize int) ([]models.SyncRun, int, error)
}

type syncLocker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type uploadArchiver interface {
	Save(filename string, data []byte) (string, error)
}

type mutationApplier interface {
	Apply(ctx context.Context, mutations []models.Mutation) (int, error)
}

// SyncRequest carries one roster upload through the pipeline.
type SyncRequest struct {
	Year        models.SchoolYear
	CSV         []byte
	Filename    string
	InitiatedBy string
}

// syncJobPayload is what travels through the background queue. StartedAt is
// the stamp persisted at enqueue so the worker reports the same duration the
// stored row implies.
type syncJobPayload struct {
	RunID     string
	StartedAt time.Time
	Request   SyncRequest
}

// SyncServiceDeps wires the orchestrator's collaborators.
type SyncServiceDeps struct {
	Roster    *RosterService
	Emails    *EmailResolverService
	Records   pasiRecordReader
	Summaries summaryStore
	Courses   courseCatalog
	Runs      syncRunStore
	Locker    syncLocker
	Cache     snapshotCache
	Archive   uploadArchiver
	Writer    mutationApplier
	Metrics   *MetricsService
	Config    config.SyncConfig
	Logger    *zap.Logger
}

// SyncService orchestrates one reconciliation run end to end: parse,
// snapshot, diff, link, validate, write, report. The whole run works against
// snapshots taken up front; nothing re-reads the store mid-run.
type SyncService struct {
	roster    *RosterService
	emails    *EmailResolverService
	records   pasiRecordReader
	summaries summaryStore
	courses   courseCatalog
	runs      syncRunStore
	locker    syncLocker
	cache     snapshotCache
	archive   uploadArchiver
	writer    mutationApplier
	metrics   *MetricsService
	cfg       config.SyncConfig
	logger    *zap.Logger
	queue     *jobs.Queue
	now       func() time.Time
}

// NewSyncService constructs the orchestrator and its background queue. Call
// StartWorkers before using RunAsync.
func NewSyncService(deps SyncServiceDeps) *SyncService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &SyncService{
		roster:    deps.Roster,
		emails:    deps.Emails,
		records:   deps.Records,
		summaries: deps.Summaries,
		courses:   deps.Courses,
		runs:      deps.Runs,
		locker:    deps.Locker,
		cache:     deps.Cache,
		archive:   deps.Archive,
		writer:    deps.Writer,
		metrics:   deps.Metrics,
		cfg:       deps.Config,
		logger:    deps.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	s.queue = jobs.NewQueue("pasi-sync", s.handleJob, jobs.QueueConfig{
		Workers:    1,
		MaxRetries: 1,
		Logger:     deps.Logger,
	})
	return s
}

// StartWorkers launches the background queue workers.
func (s *SyncService) StartWorkers(ctx context.Context) {
	s.queue.Start(ctx)
}

// StopWorkers drains the background queue.
func (s *SyncService) StopWorkers() {
	s.queue.Stop()
}

// Run executes a full reconciliation synchronously and returns the report.
func (s *SyncService) Run(ctx context.Context, req SyncRequest) (*models.SyncRun, error) {
	incoming, err := s.roster.ParseRoster(req.CSV, req.Year)
	if err != nil {
		return nil, err
	}

	release, err := s.acquireLock(ctx, req.Year)
	if err != nil {
		return nil, err
	}
	defer release()

	run := &models.SyncRun{SchoolYear: req.Year, InitiatedBy: req.InitiatedBy}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	report, execErr := s.execute(ctx, run, req, incoming)
	if err := s.runs.Complete(ctx, run.ID, execErr); err != nil {
		s.logger.Error("failed to finalise sync run", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.finishRun(run, report, execErr)
	if execErr != nil {
		return run, appErrors.Wrap(execErr, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, appErrors.ErrSyncFailed.Message)
	}
	return run, nil
}

// RunAsync validates the upload, records a RUNNING run and queues the rest.
// The returned run holds the id callers poll for completion.
func (s *SyncService) RunAsync(ctx context.Context, req SyncRequest) (*models.SyncRun, error) {
	// Parse up front so an invalid roster is rejected at request time, not
	// minutes later inside a worker.
	if _, err := s.roster.ParseRoster(req.CSV, req.Year); err != nil {
		return nil, err
	}

	run := &models.SyncRun{SchoolYear: req.Year, InitiatedBy: req.InitiatedBy}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, err
	}

	err := s.queue.Enqueue(jobs.Job{
		ID:      run.ID,
		Type:    syncJobType,
		Payload: syncJobPayload{RunID: run.ID, StartedAt: run.StartedAt, Request: req},
	})
	if err != nil {
		if completeErr := s.runs.Complete(ctx, run.ID, err); completeErr != nil {
			s.logger.Error("failed to mark queued run failed", zap.String("run_id", run.ID), zap.Error(completeErr))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to queue sync job")
	}
	return run, nil
}

// FindRun returns one persisted run.
func (s *SyncService) FindRun(ctx context.Context, id string) (*models.SyncRun, error) {
	return s.runs.FindByID(ctx, id)
}

// ListRuns pages through run history, newest first.
func (s *SyncService) ListRuns(ctx context.Context, year *models.SchoolYear, page, pageSize int) ([]models.SyncRun, int, error) {
	return s.runs.List(ctx, year, page, pageSize)
}

func (s *SyncService) handleJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(syncJobPayload)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	if s.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.JobTimeout)
		defer cancel()
	}

	req := payload.Request
	incoming, err := s.roster.ParseRoster(req.CSV, req.Year)
	if err != nil {
		return s.runs.Complete(ctx, payload.RunID, err)
	}

	release, err := s.acquireLock(ctx, req.Year)
	if err != nil {
		return s.runs.Complete(ctx, payload.RunID, err)
	}
	defer release()

	started := payload.StartedAt
	if started.IsZero() {
		started = s.now()
	}
	run := &models.SyncRun{ID: payload.RunID, SchoolYear: req.Year, InitiatedBy: req.InitiatedBy, StartedAt: started}
	report, execErr := s.execute(ctx, run, req, incoming)
	if err := s.runs.Complete(ctx, run.ID, execErr); err != nil {
		s.logger.Error("failed to finalise sync run", zap.String("run_id", run.ID), zap.Error(err))
	}
	s.finishRun(run, report, execErr)
	// Errors inside the run are terminal for this job; retrying would need a
	// fresh run row, so report success to the queue either way.
	return nil
}

func (s *SyncService) acquireLock(ctx context.Context, year models.SchoolYear) (func(), error) {
	key := syncLockPrefix + year.Underscore()
	token := uuid.NewString()
	ok, err := s.locker.AcquireLock(ctx, key, token, s.cfg.LockTTL)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrSyncFailed.Code, appErrors.ErrSyncFailed.Status, "failed to acquire sync lock")
	}
	if !ok {
		return nil, appErrors.ErrSyncInProgress
	}
	return func() {
		if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			s.logger.Warn("failed to release sync lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *SyncService) finishRun(run *models.SyncRun, report *models.SyncReport, execErr error) {
	status := models.SyncRunCompleted
	if execErr != nil {
		status = models.SyncRunFailed
		message := execErr.Error()
		run.Error = &message
	}
	run.Status = status
	run.Report = report
	completed := s.now()
	run.CompletedAt = &completed
	s.metrics.ObserveSyncRun(status, completed.Sub(run.StartedAt))
}

// execute is the pipeline proper. It assumes the caller holds the partition
// lock and owns run lifecycle bookkeeping.
func (s *SyncService) execute(ctx context.Context, run *models.SyncRun, req SyncRequest, incoming []models.PasiRecord) (*models.SyncReport, error) {
	log := s.logger.With(zap.String("run_id", run.ID), zap.String("school_year", req.Year.Slash()))
	log.Info("sync run started", zap.Int("roster_records", len(incoming)))

	s.archiveUpload(req, run.ID, log)

	if err := s.summaries.ClearRunDiagnostics(ctx, req.Year); err != nil {
		return nil, err
	}

	stored, err := s.records.ListBySchoolYear(ctx, req.Year)
	if err != nil {
		return nil, err
	}
	summaries, err := s.summaries.List(ctx)
	if err != nil {
		return nil, err
	}
	courseMap, err := s.loadCourseMap(ctx, log)
	if err != nil {
		return nil, err
	}
	emailIndex, err := s.emails.BuildIndex(ctx)
	if err != nil {
		return nil, err
	}

	for i := range incoming {
		incoming[i].Email = emailIndex.Resolve(incoming[i].ASN)
	}

	diff := diffPartition(incoming, stored)
	s.metrics.ObserveDiff(diff.Counts)
	log.Info("diff computed",
		zap.Int("new", diff.Counts.New),
		zap.Int("updated", diff.Counts.Updated),
		zap.Int("unchanged", diff.Counts.Unchanged),
		zap.Int("removed", diff.Counts.Removed))

	resolver := NewLinkResolver(courseMap, summaries, s.now)

	surviving := make([]*models.PasiRecord, 0, diff.Counts.New+diff.Counts.Updated+diff.Counts.Unchanged)
	for i := range diff.New {
		surviving = append(surviving, &diff.New[i])
	}
	for i := range diff.Updated {
		surviving = append(surviving, &diff.Updated[i])
	}
	for i := range diff.Unchanged {
		surviving = append(surviving, &diff.Unchanged[i])
	}

	// Unchanged records only need a store write if the link resolver rewires
	// them; remember their pre-link state to detect that.
	unchangedBefore := make(map[models.NaturalKey]models.PasiRecord, len(diff.Unchanged))
	for _, rec := range diff.Unchanged {
		unchangedBefore[rec.ID] = rec
	}

	existingReport, existingMutations := resolver.ProcessExisting(surviving)
	newReport, newMutations := resolver.ProcessUnlinked(surviving)
	removalMutations, missingDetails := resolver.ProcessRemovals(diff.Removed, diff.Surviving(), req.Year)
	mismatchReport, mismatchMutations := validateStatusConsistency(surviving, resolver.summaries)

	s.metrics.ObserveLinkOps(newReport.Created, existingReport.Updated, len(missingDetails),
		len(existingReport.Failed)+len(newReport.Failed))

	report := &models.SyncReport{
		Timestamp:     s.now(),
		InitiatedBy:   req.InitiatedBy,
		SchoolYear:    req.Year.Slash(),
		Changes:       diff.Counts,
		ExistingLinks: existingReport,
		NewLinks:      newReport,
		MissingRecords: models.MissingRecordsReport{
			Total:   len(missingDetails),
			Details: missingDetails,
		},
		StatusMismatches: mismatchReport,
		MissingEmails: models.MissingEmailReport{
			Total: len(emailIndex.Unresolved()),
			ASNs:  emailIndex.Unresolved(),
		},
	}

	var mutations []models.Mutation
	mutations = append(mutations, existingMutations...)
	mutations = append(mutations, newMutations...)
	mutations = append(mutations, removalMutations...)
	mutations = append(mutations, mismatchMutations...)

	for i := range diff.New {
		mutations = append(mutations, models.Mutation{Kind: models.MutationRecordUpsert, Record: &diff.New[i]})
	}
	for i := range diff.Updated {
		mutations = append(mutations, models.Mutation{Kind: models.MutationRecordUpsert, Record: &diff.Updated[i]})
	}
	for i := range diff.Unchanged {
		rec := &diff.Unchanged[i]
		if before, ok := unchangedBefore[rec.ID]; ok && !sameLinkState(before, *rec) {
			mutations = append(mutations, models.Mutation{Kind: models.MutationRecordUpsert, Record: rec})
		}
	}
	for _, rec := range diff.Removed {
		mutations = append(mutations, models.Mutation{Kind: models.MutationRecordDelete, RecordID: rec.ID})
	}
	mutations = append(mutations, models.Mutation{Kind: models.MutationRunReport, RunID: run.ID, Report: report})

	applied, err := s.writer.Apply(ctx, mutations)
	if err != nil {
		log.Error("sync run aborted mid-write",
			zap.Int("applied_mutations", applied),
			zap.Int("total_mutations", len(mutations)),
			zap.Error(err))
		return report, err
	}

	log.Info("sync run completed", zap.Int("applied_mutations", applied))
	return report, nil
}

func (s *SyncService) loadCourseMap(ctx context.Context, log *zap.Logger) (models.CourseMap, error) {
	var cached models.CourseMap
	if err := s.cache.Get(ctx, courseMapCacheKey, &cached); err == nil && len(cached) > 0 {
		s.metrics.RecordCacheOperation(true)
		return cached, nil
	}
	s.metrics.RecordCacheOperation(false)

	courseMap, err := s.courses.Map(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Set(ctx, courseMapCacheKey, courseMap, s.cfg.CourseMapTTL); err != nil {
		log.Warn("failed to cache course map", zap.Error(err))
	}
	return courseMap, nil
}

// archiveUpload keeps a copy of the raw roster for later audits. Failures are
// logged and swallowed; the run must not depend on archive storage.
func (s *SyncService) archiveUpload(req SyncRequest, runID string, log *zap.Logger) {
	if s.archive == nil {
		return
	}
	name := req.Filename
	if name == "" {
		name = "roster.csv"
	}
	path := fmt.Sprintf("%s/%s_%s", req.Year.Underscore(), runID, name)
	if _, err := s.archive.Save(path, req.CSV); err != nil {
		log.Warn("failed to archive roster upload", zap.String("path", path), zap.Error(err))
	}
}

func sameLinkState(a, b models.PasiRecord) bool {
	if a.Linked != b.Linked {
		return false
	}
	if (a.SummaryLinkKey == nil) != (b.SummaryLinkKey == nil) {
		return false
	}
	if a.SummaryLinkKey != nil && *a.SummaryLinkKey != *b.SummaryLinkKey {
		return false
	}
	if (a.LinkedAt == nil) != (b.LinkedAt == nil) {
		return false
	}
	if a.LinkedAt != nil && !a.LinkedAt.Equal(*b.LinkedAt) {
		return false
	}
	return true
}
