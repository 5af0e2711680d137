package migrate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var unsafeName = regexp.MustCompile(`[^a-z0-9]+`)

const skeleton = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- undo %[1]s
-- +goose StatementEnd
`

// Create writes an empty goose migration named <version>_<slug>.sql and
// returns its path.
func Create(dir, name string, now time.Time) (string, error) {
	if dir == "" {
		return "", errors.New("migrate: dir is required")
	}
	slug := strings.Trim(unsafeName.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migrate: name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("migrate: create %s: %w", dir, err)
	}

	path := filepath.Join(dir, now.UTC().Format(versionLayout)+"_"+slug+".sql")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("migrate: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, skeleton, slug); err != nil {
		return "", fmt.Errorf("migrate: write %s: %w", path, err)
	}
	return path, nil
}
