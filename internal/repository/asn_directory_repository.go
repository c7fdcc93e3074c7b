package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/rtdacademy/pasi-sync-api/internal/models"
)

// ASNDirectoryRepository reads the ASN-to-email directory maintained by the
// registration system.
type ASNDirectoryRepository struct {
	db *sqlx.DB
}

// NewASNDirectoryRepository constructs the repository.
func NewASNDirectoryRepository(db *sqlx.DB) *ASNDirectoryRepository {
	return &ASNDirectoryRepository{db: db}
}

type asnDirectoryRow struct {
	ASN           string `db:"asn"`
	EmailKeysJSON []byte `db:"email_keys"`
}

// List returns every directory entry with its decoded email-key map. The map
// value marks whether that key is the preferred address.
func (r *ASNDirectoryRepository) List(ctx context.Context) ([]models.ASNDirectoryEntry, error) {
	const query = `SELECT asn, email_keys FROM asn_directory ORDER BY asn`
	var rows []asnDirectoryRow
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list asn directory: %w", err)
	}
	entries := make([]models.ASNDirectoryEntry, 0, len(rows))
	for _, row := range rows {
		entry := models.ASNDirectoryEntry{ASN: row.ASN, EmailKeys: map[string]bool{}}
		if len(row.EmailKeysJSON) > 0 {
			if err := json.Unmarshal(row.EmailKeysJSON, &entry.EmailKeys); err != nil {
				return nil, fmt.Errorf("decode email keys for asn %s: %w", row.ASN, err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
