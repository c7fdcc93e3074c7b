package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
	appErrors "github.com/rtdacademy/pasi-sync-api/pkg/errors"
)

type asnDirectoryReader interface {
	List(ctx context.Context) ([]models.ASNDirectoryEntry, error)
}

// EmailIndex is the one-time ASN → contact address index built per sync run.
type EmailIndex struct {
	byASN      map[string]string
	byStripped map[string][]string
	unresolved map[string]struct{}
}

// Resolve maps an ASN to its best-known address. Unresolvable ASNs yield the
// sentinel and are remembered for the run report; Resolve never fails.
func (idx *EmailIndex) Resolve(asn string) string {
	if email, ok := idx.byASN[asn]; ok {
		return email
	}
	// Fallback: compare with separator hyphens stripped. Only an unambiguous
	// single match is trusted.
	if matches, ok := idx.byStripped[models.StripASN(asn)]; ok && len(matches) == 1 {
		return idx.byASN[matches[0]]
	}
	idx.unresolved[asn] = struct{}{}
	return models.EmailNotFound
}

// Unresolved returns the ASNs Resolve failed on, sorted for stable reporting.
func (idx *EmailIndex) Unresolved() []string {
	out := make([]string, 0, len(idx.unresolved))
	for asn := range idx.unresolved {
		out = append(out, asn)
	}
	sort.Strings(out)
	return out
}

// EmailResolverService builds EmailIndex values from the ASN directory.
type EmailResolverService struct {
	directory asnDirectoryReader
	logger    *zap.Logger
}

// NewEmailResolverService constructs EmailResolverService.
func NewEmailResolverService(directory asnDirectoryReader, logger *zap.Logger) *EmailResolverService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EmailResolverService{directory: directory, logger: logger}
}

// BuildIndex scans the directory once and precomputes the lookup maps.
// Selection rule per ASN: a key flagged preferred wins; among equally
// preferred candidates the lexicographically smallest key is taken so the
// choice is deterministic across runs.
func (s *EmailResolverService) BuildIndex(ctx context.Context) (*EmailIndex, error) {
	entries, err := s.directory.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ASN directory")
	}

	idx := &EmailIndex{
		byASN:      make(map[string]string, len(entries)),
		byStripped: make(map[string][]string),
		unresolved: make(map[string]struct{}),
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key, ok := pickEmailKey(entry.EmailKeys)
		if !ok {
			s.logger.Warn("directory entry has no email keys", zap.String("asn", entry.ASN))
			continue
		}
		idx.byASN[entry.ASN] = models.UnsanitizeEmail(key)
		stripped := models.StripASN(entry.ASN)
		idx.byStripped[stripped] = append(idx.byStripped[stripped], entry.ASN)
	}

	return idx, nil
}

func pickEmailKey(keys map[string]bool) (string, bool) {
	if len(keys) == 0 {
		return "", false
	}
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	for _, k := range ordered {
		if keys[k] {
			return k, true
		}
	}
	return ordered[0], true
}
