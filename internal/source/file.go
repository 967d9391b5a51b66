package source

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/basket/shadowbook/internal/identity"
)

// FileAdapter reads a source's contacts from a JSON export on disk: a flat
// array of raw contact objects. It backs the built-in address book, backup,
// and mailbox sources when those systems are reachable only through exported
// snapshots.
type FileAdapter struct {
	src  identity.Source
	path string
}

func NewFileAdapter(src identity.Source, path string) *FileAdapter {
	return &FileAdapter{src: src, path: path}
}

func (f *FileAdapter) Source() identity.Source { return f.src }

// Read loads the export file. A missing or unreadable file means the source
// is unavailable, not that it is empty.
func (f *FileAdapter) Read(ctx context.Context, userID string) ([]identity.RawContact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, f.src, err)
	}
	var records []identity.RawContact
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("%w: %s: parse %s: %v", ErrUnavailable, f.src, f.path, err)
	}
	return records, nil
}
