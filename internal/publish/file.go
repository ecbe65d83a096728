package publish

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/imgchar/internal/pipeline"
)

// FileStore publishes each value as JSON under <root>/<name>/<data id>.json.
type FileStore struct {
	root string
}

// NewFileStore returns a FileStore rooted at root.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

var pathUnsafe = strings.NewReplacer("/", "_", `\`, "_", " ", "_", ":", "_")

// Path returns where name/id is stored.
func (f *FileStore) Path(name string, id DataID) string {
	parts := make([]string, 0, len(id))
	for _, k := range id.Keys() {
		parts = append(parts, k+"="+id[k])
	}
	base := "default"
	if len(parts) > 0 {
		base = pathUnsafe.Replace(strings.Join(parts, "_"))
	}
	return filepath.Join(f.root, pathUnsafe.Replace(name), base+".json")
}

// Put implements Putter. Existing files are replaced atomically.
func (f *FileStore) Put(ctx context.Context, value any, name string, id DataID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := pipeline.WriteJSON(f.Path(name, id), value); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Get decodes a published value into v.
func (f *FileStore) Get(name string, id DataID, v any) error {
	return pipeline.ReadJSON(f.Path(name, id), v)
}
