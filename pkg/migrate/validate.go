package migrate

import (
	"bytes"
	"fmt"
	"io/fs"
	"path"
	"regexp"
)

var migrationFile = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)

// Validate checks every .sql file for a well-formed, unique version prefix
// and both goose section markers.
func Validate(migrations fs.FS) error {
	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("migrate: list migrations: %w", err)
	}
	versions := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || path.Ext(name) != ".sql" {
			continue
		}
		match := migrationFile.FindStringSubmatch(name)
		if match == nil {
			return fmt.Errorf("migrate: %s: want <YYYYMMDDHHMMSS>_<name>.sql", name)
		}
		if other, dup := versions[match[1]]; dup {
			return fmt.Errorf("migrate: %s and %s share version %s", other, name, match[1])
		}
		versions[match[1]] = name

		body, err := fs.ReadFile(migrations, name)
		if err != nil {
			return fmt.Errorf("migrate: read %s: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !bytes.Contains(body, []byte(marker)) {
				return fmt.Errorf("migrate: %s lacks %q", name, marker)
			}
		}
	}
	return nil
}
