// Stores each table as a JSON object file and watches for external changes.

package docstore

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

const tableExt = ".json"

// recentWrites is how many of its own writes per table the backend remembers
// to recognize their change events, which may arrive late.
const recentWrites = 8

// FileBackend stores table "Name" in the file "<dir>/Name.json".
//
// Writes go to a temporary file in the same directory which is then renamed
// over the table file, so readers never see a partial table.
type FileBackend struct {
	dir string

	mu      sync.Mutex
	written map[string][][sha256.Size]byte
}

// NewFileBackend creates dir if needed and returns a backend rooted there.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return &FileBackend{dir: dir, written: make(map[string][][sha256.Size]byte)}, nil
}

// Dir returns the directory holding the table files.
func (b *FileBackend) Dir() string {
	return b.dir
}

// Path returns the file backing table name.
func (b *FileBackend) Path(name string) string {
	return filepath.Join(b.dir, name+tableExt)
}

// Location implements Backend.
func (b *FileBackend) Location(name string) string {
	return b.Path(name)
}

// Load implements Backend.
func (b *FileBackend) Load(name string) ([]byte, bool, error) {
	data, err := os.ReadFile(b.Path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Save implements Backend.
func (b *FileBackend) Save(name string, data []byte) error {
	f, err := os.CreateTemp(b.dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmp := f.Name()
	defer func() {
		_ = os.Remove(tmp)
	}()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write table: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close table: %w", err)
	}
	// Record before the rename so the watcher recognizes our own write.
	b.mu.Lock()
	h := append(b.written[name], sha256.Sum256(data))
	if len(h) > recentWrites {
		h = h[len(h)-recentWrites:]
	}
	b.written[name] = h
	b.mu.Unlock()
	if err := os.Rename(tmp, b.Path(name)); err != nil {
		return fmt.Errorf("failed to replace table file: %w", err)
	}
	return nil
}

// Exists implements Backend.
func (b *FileBackend) Exists(name string) (bool, error) {
	_, err := os.Stat(b.Path(name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Watch calls onChange with the table name whenever a table file is modified
// or removed by someone other than this backend. It returns once the watcher
// is running; watching stops when ctx is canceled.
func (b *FileBackend) Watch(ctx context.Context, onChange func(name string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(b.dir); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if name, ok := b.external(event); ok {
					onChange(name)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching tables", "dir", b.dir, "err", err)
			}
		}
	}()
	return nil
}

// external returns the table name of event if the event was not caused by
// this backend.
func (b *FileBackend) external(event fsnotify.Event) (string, bool) {
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, tableExt) {
		return "", false
	}
	name := strings.TrimSuffix(base, tableExt)
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return "", false
	}
	data, ok, err := b.Load(name)
	if err != nil {
		return name, true
	}
	if !ok {
		return name, true
	}
	sum := sha256.Sum256(data)
	b.mu.Lock()
	own := slices.Contains(b.written[name], sum)
	b.mu.Unlock()
	if own {
		return "", false
	}
	return name, true
}
