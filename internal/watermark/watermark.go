// Package watermark persists the last successful sync timestamp per
// direction. A watermark only advances after the corresponding batch is
// durably staged; on a crash between fetch and watermark write the next
// run re-fetches an overlapping window, and the duplicates are absorbed
// by the idempotent upsert on the push side.
package watermark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/npclinic/databridge/internal/record"
)

// Direction identifies one incremental pull.
type Direction string

const (
	// PullGeo bounds the GEO incident fetch.
	PullGeo Direction = "geo"
	// PullCMS bounds the CMS case fetch.
	PullCMS Direction = "cms"
)

// Store keeps one watermark file per direction under dir.
type Store struct {
	dir string
}

// NewStore creates the watermark directory if needed and returns a Store.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create watermark directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(d Direction) string {
	return filepath.Join(s.dir, string(d))
}

// Read returns the current watermark for a direction. A missing or
// unparseable file is not an error: it signals a full sync from epoch.
func (s *Store) Read(d Direction) (string, bool) {
	data, err := os.ReadFile(s.path(d))
	if err != nil {
		return "", false
	}
	stamp := strings.TrimSpace(string(data))
	if _, err := record.ParseTimestamp(stamp); err != nil {
		return "", false
	}
	return stamp, true
}

// Write replaces the watermark for a direction. The replace is atomic
// (temp file + rename) so a crash never leaves a partial watermark
// visible.
func (s *Store) Write(d Direction, stamp string) error {
	path := s.path(d)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(stamp), 0600); err != nil {
		return fmt.Errorf("failed to write watermark temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace watermark %s: %w", d, err)
	}
	return nil
}
