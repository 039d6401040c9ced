package database

import (
	"fmt"
	"io/fs"
	"sort"

	dbsql "github.com/replydeck/helmsman/pkg/database/sql"
	"github.com/replydeck/helmsman/pkg/logging"
)

// ApplySchema executes the embedded schema files in lexical order. Statements
// are idempotent (CREATE IF NOT EXISTS) so this is safe to run at every boot.
func ApplySchema(db PostgresConn, logger logging.Logger) error {
	entries, err := fs.Glob(dbsql.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("list schema files: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		content, err := dbsql.Content.ReadFile(name)
		if err != nil {
			return fmt.Errorf("read schema file %s: %w", name, err)
		}
		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}
	return nil
}
