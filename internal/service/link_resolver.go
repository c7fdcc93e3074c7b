package service

import (
	"sort"
	"strings"
	"time"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// linkPair identifies one summary link entry. Links are keyed per summary by
// lower-cased course code, so each pair holds at most one source record.
type linkPair struct {
	summary models.SummaryKey
	code    string
}

// LinkResolver maintains the association between flat PASI records and the
// per-student-per-course summaries. It works entirely against the summary
// snapshot fetched at the start of the run, accumulating mutations; the
// batched writer applies them later.
//
// Invariant preserved: after a full run, every record with Linked=true has a
// summary link entry whose SourceRecordID equals the record id, and each
// (summary, course code) pair is held by at most one record.
type LinkResolver struct {
	courses   models.CourseMap
	summaries map[models.SummaryKey]*models.StudentCourseSummary
	byASN     map[string][]*models.StudentCourseSummary

	// claimed tracks which record owns each link entry this run. The first
	// surviving record to claim a pair keeps it; later claimants are unlinked
	// so re-runs converge instead of flip-flopping the entry between records.
	claimed map[linkPair]models.NaturalKey
	// cleared remembers pairs whose entries were already deleted this run.
	cleared map[linkPair]struct{}
	// snapshot lists, per source record, the entries pointing at it when the
	// run started, so a rewire can sweep the stale ones.
	snapshot map[models.NaturalKey][]linkPair

	now func() time.Time
}

// NewLinkResolver indexes the summary snapshot for link resolution.
func NewLinkResolver(courses models.CourseMap, summaries []models.StudentCourseSummary, now func() time.Time) *LinkResolver {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	lr := &LinkResolver{
		courses:   courses,
		summaries: make(map[models.SummaryKey]*models.StudentCourseSummary, len(summaries)),
		byASN:     make(map[string][]*models.StudentCourseSummary),
		claimed:   make(map[linkPair]models.NaturalKey),
		cleared:   make(map[linkPair]struct{}),
		snapshot:  make(map[models.NaturalKey][]linkPair),
		now:       now,
	}
	for i := range summaries {
		s := &summaries[i]
		lr.summaries[s.SummaryKey] = s
		lr.byASN[s.ASN] = append(lr.byASN[s.ASN], s)
		for codeKey, link := range s.PasiLinks {
			pair := linkPair{summary: s.SummaryKey, code: codeKey}
			lr.snapshot[link.SourceRecordID] = append(lr.snapshot[link.SourceRecordID], pair)
		}
	}
	for asn := range lr.byASN {
		group := lr.byASN[asn]
		sort.Slice(group, func(i, j int) bool { return group[i].SummaryKey < group[j].SummaryKey })
	}
	for id := range lr.snapshot {
		pairs := lr.snapshot[id]
		sort.Slice(pairs, func(i, j int) bool {
			if pairs[i].summary != pairs[j].summary {
				return pairs[i].summary < pairs[j].summary
			}
			return pairs[i].code < pairs[j].code
		})
	}
	return lr
}

// resolveCourse resolves the record's course code, attempting placeholder
// disambiguation through the student's other summaries.
func (lr *LinkResolver) resolveCourse(rec *models.PasiRecord) models.CourseRef {
	ref := lr.courses.Resolve(rec.CourseCode)
	if ref.Kind != models.CoursePlaceholder {
		return ref
	}
	for _, summary := range lr.byASN[rec.ASN] {
		if _, generic := models.GenericCourseIDs[summary.CourseID]; !generic {
			return models.CourseRef{Kind: models.CourseResolved, ID: summary.CourseID}
		}
	}
	return ref
}

type linkOutcomeKind int

const (
	linkNone linkOutcomeKind = iota
	linkRefreshed
	linkCreated
	linkFailed
)

type linkOutcome struct {
	kind         linkOutcomeKind
	needsMapping *models.CourseMappingIssue
	failure      *models.LinkFailure
	mutations    []models.Mutation
}

// linkRecord computes the target summary key for a record with a resolved
// email and rewires its link as needed. The record is mutated in place so the
// subsequent record upsert carries the new link state.
func (lr *LinkResolver) linkRecord(rec *models.PasiRecord) linkOutcome {
	ref := lr.resolveCourse(rec)
	if ref.Kind == models.CourseUnknown {
		return linkOutcome{kind: linkFailed, needsMapping: &models.CourseMappingIssue{
			RecordID:   rec.ID,
			ASN:        rec.ASN,
			CourseCode: rec.CourseCode,
		}}
	}

	targetKey := models.MakeSummaryKey(rec.Email, ref.ID)
	summary, ok := lr.summaries[targetKey]
	if !ok {
		return linkOutcome{kind: linkFailed, failure: &models.LinkFailure{
			RecordID: rec.ID,
			ASN:      rec.ASN,
			Reason:   "summary " + string(targetKey) + " not found",
		}}
	}

	codeKey := strings.ToLower(rec.CourseCode)
	target := linkPair{summary: targetKey, code: codeKey}

	if winner, taken := lr.claimed[target]; taken && winner != rec.ID {
		// Another surviving record already owns this entry. Unlink the loser
		// so its stored row stops asserting a link the summary does not hold.
		out := linkOutcome{kind: linkFailed, failure: &models.LinkFailure{
			RecordID: rec.ID,
			ASN:      rec.ASN,
			Reason:   "summary entry " + string(targetKey) + "/" + codeKey + " already linked to record " + string(winner),
		}}
		out.mutations = append(out.mutations, lr.sweepStaleEntries(rec, target)...)
		unlinkRecord(rec)
		return out
	}

	var out linkOutcome
	link := models.PasiLink{
		CourseDescription: rec.CourseDescription,
		CreditsAttempted:  rec.CreditsAttempted,
		Term:              rec.Term,
		Period:            rec.Period,
		SchoolYear:        rec.SchoolYear.Slash(),
		StudentName:       rec.StudentName,
		SourceRecordID:    rec.ID,
	}

	alreadyCorrect := rec.Linked && rec.SummaryLinkKey != nil && *rec.SummaryLinkKey == targetKey
	if alreadyCorrect {
		if existing, found := summary.LinkFor(rec.CourseCode); found && existing == link {
			out.kind = linkNone
		} else {
			out.kind = linkRefreshed
			out.mutations = append(out.mutations, models.Mutation{
				Kind:       models.MutationLinkUpsert,
				SummaryKey: targetKey,
				CourseCode: codeKey,
				Link:       &link,
			})
		}
	} else {
		// Exclusivity: clear entries left behind elsewhere before creating
		// the new one.
		out.mutations = append(out.mutations, lr.sweepStaleEntries(rec, target)...)

		if !rec.Linked {
			linkedAt := lr.now()
			rec.LinkedAt = &linkedAt
		}
		rec.Linked = true
		key := targetKey
		rec.SummaryLinkKey = &key

		out.kind = linkCreated
		out.mutations = append(out.mutations, models.Mutation{
			Kind:       models.MutationLinkUpsert,
			SummaryKey: targetKey,
			CourseCode: codeKey,
			Link:       &link,
		})
	}
	lr.claimed[target] = rec.ID

	// Placeholder bookkeeping: flag for manual mapping when undisambiguated,
	// clear the marker once a concrete id is in play.
	if ref.Kind == models.CoursePlaceholder {
		out.needsMapping = &models.CourseMappingIssue{
			RecordID:   rec.ID,
			ASN:        rec.ASN,
			CourseCode: rec.CourseCode,
			SummaryKey: targetKey,
		}
		if !summary.NeedsCourseAssignment {
			needs := true
			summary.NeedsCourseAssignment = true
			out.mutations = append(out.mutations, models.Mutation{
				Kind:       models.MutationSummaryFlags,
				SummaryKey: targetKey,
				Flags:      &models.SummaryFlags{NeedsCourseAssignment: &needs},
			})
		}
	} else if summary.NeedsCourseAssignment {
		cleared := false
		summary.NeedsCourseAssignment = false
		out.mutations = append(out.mutations, models.Mutation{
			Kind:       models.MutationSummaryFlags,
			SummaryKey: targetKey,
			Flags:      &models.SummaryFlags{NeedsCourseAssignment: &cleared},
		})
	}

	return out
}

// sweepStaleEntries clears link entries the record holds anywhere other than
// the target pair: the one its SummaryLinkKey points at plus any the snapshot
// attributes to it.
func (lr *LinkResolver) sweepStaleEntries(rec *models.PasiRecord, target linkPair) []models.Mutation {
	var out []models.Mutation
	if rec.SummaryLinkKey != nil {
		prior := linkPair{summary: *rec.SummaryLinkKey, code: strings.ToLower(rec.CourseCode)}
		if prior != target {
			out = append(out, lr.clearPair(prior)...)
		}
	}
	for _, stale := range lr.snapshot[rec.ID] {
		if stale != target {
			out = append(out, lr.clearPair(stale)...)
		}
	}
	return out
}

// clearPair emits a delete for the pair's entry unless a surviving record
// claimed it this run or it was already cleared.
func (lr *LinkResolver) clearPair(p linkPair) []models.Mutation {
	if _, taken := lr.claimed[p]; taken {
		return nil
	}
	if _, done := lr.cleared[p]; done {
		return nil
	}
	lr.cleared[p] = struct{}{}
	return []models.Mutation{{
		Kind:       models.MutationLinkDelete,
		SummaryKey: p.summary,
		CourseCode: p.code,
	}}
}

func unlinkRecord(rec *models.PasiRecord) {
	rec.Linked = false
	rec.LinkedAt = nil
	rec.SummaryLinkKey = nil
}

// ProcessExisting verifies and refreshes records that are already linked.
// Records whose email is still the sentinel are left alone.
func (lr *LinkResolver) ProcessExisting(records []*models.PasiRecord) (models.ExistingLinksReport, []models.Mutation) {
	report := models.ExistingLinksReport{Failed: []models.LinkFailure{}}
	var mutations []models.Mutation

	for _, rec := range records {
		if !rec.Linked || rec.Email == models.EmailNotFound {
			continue
		}
		report.Processed++
		out := lr.linkRecord(rec)
		mutations = append(mutations, out.mutations...)
		switch out.kind {
		case linkRefreshed, linkCreated:
			report.Updated++
		case linkFailed:
			if out.failure != nil {
				report.Failed = append(report.Failed, *out.failure)
			}
		}
	}
	return report, mutations
}

// ProcessUnlinked attempts first-time links for records without one. Records
// with an unresolved email are skipped; the orchestrator reports their ASNs.
func (lr *LinkResolver) ProcessUnlinked(records []*models.PasiRecord) (models.NewLinksReport, []models.Mutation) {
	report := models.NewLinksReport{
		NeedsManualCourseMapping: []models.CourseMappingIssue{},
		Failed:                   []models.LinkFailure{},
	}
	var mutations []models.Mutation

	for _, rec := range records {
		if rec.Linked || rec.Email == models.EmailNotFound {
			continue
		}
		report.Processed++
		out := lr.linkRecord(rec)
		mutations = append(mutations, out.mutations...)
		if out.needsMapping != nil {
			report.NeedsManualCourseMapping = append(report.NeedsManualCourseMapping, *out.needsMapping)
		}
		switch out.kind {
		case linkCreated:
			report.Created++
		case linkFailed:
			if out.failure != nil {
				report.Failed = append(report.Failed, *out.failure)
			}
		}
	}
	return report, mutations
}

// ProcessRemovals cascades link deletion for records absent from the upload
// and sweeps orphaned link entries whose source record no longer exists in
// this partition.
func (lr *LinkResolver) ProcessRemovals(removed []models.PasiRecord, surviving map[models.NaturalKey]struct{}, year models.SchoolYear) ([]models.Mutation, []models.MissingRecordDetail) {
	var mutations []models.Mutation
	details := make([]models.MissingRecordDetail, 0, len(removed))

	for _, rec := range removed {
		detail := models.MissingRecordDetail{
			RecordID:    rec.ID,
			ASN:         rec.ASN,
			StudentName: rec.StudentName,
			CourseCode:  rec.CourseCode,
		}
		if rec.SummaryLinkKey != nil {
			detail.SummaryKey = *rec.SummaryLinkKey
			pair := linkPair{summary: *rec.SummaryLinkKey, code: strings.ToLower(rec.CourseCode)}
			mutations = append(mutations, lr.clearPair(pair)...)
		}
		details = append(details, detail)
	}

	// Orphan sweep, scoped to this partition's link entries.
	summaryKeys := make([]models.SummaryKey, 0, len(lr.summaries))
	for key := range lr.summaries {
		summaryKeys = append(summaryKeys, key)
	}
	sort.Slice(summaryKeys, func(i, j int) bool { return summaryKeys[i] < summaryKeys[j] })

	for _, key := range summaryKeys {
		summary := lr.summaries[key]
		codeKeys := make([]string, 0, len(summary.PasiLinks))
		for codeKey := range summary.PasiLinks {
			codeKeys = append(codeKeys, codeKey)
		}
		sort.Strings(codeKeys)
		for _, codeKey := range codeKeys {
			link := summary.PasiLinks[codeKey]
			if link.SchoolYear != year.Slash() {
				continue
			}
			if _, alive := surviving[link.SourceRecordID]; alive {
				continue
			}
			mutations = append(mutations, lr.clearPair(linkPair{summary: key, code: codeKey})...)
		}
	}

	return mutations, details
}
