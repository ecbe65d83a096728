package publish

import (
	"context"

	"github.com/lucasnoah/imgchar/internal/db"
)

// SQLiteStore publishes into the published_outputs table of the local
// database.
type SQLiteStore struct {
	db *db.DB
}

// NewSQLiteStore returns a Putter backed by d. d must already be migrated.
func NewSQLiteStore(d *db.DB) *SQLiteStore {
	return &SQLiteStore{db: d}
}

// Put implements Putter.
func (s *SQLiteStore) Put(ctx context.Context, value any, name string, id DataID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.PutPublished(name, id.String(), value)
}
