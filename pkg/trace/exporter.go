package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultMaxSize    = 10 * 1024 * 1024
	defaultMaxBackups = 5
)

// FileExporter appends records to a JSON Lines file and rotates it once
// it grows past a size limit. Rotated files keep the base name with a
// numeric suffix, .1 being the newest.
type FileExporter struct {
	path       string
	maxSize    int64
	maxBackups int

	mu     sync.Mutex
	out    *os.File
	size   int64
	closed bool
}

// FileExporterOption configures a FileExporter.
type FileExporterOption func(*FileExporter)

// WithMaxSize sets the rotation threshold in bytes (default 10MB).
func WithMaxSize(bytes int64) FileExporterOption {
	return func(fe *FileExporter) { fe.maxSize = bytes }
}

// WithMaxRotatedFiles sets how many rotated files are kept (default 5).
func WithMaxRotatedFiles(count int) FileExporterOption {
	return func(fe *FileExporter) { fe.maxBackups = count }
}

// NewFileExporter opens path for appending and returns a file-backed
// exporter. An empty path yields the no-op exporter so callers can pass
// their configuration through unconditionally. Parent directories are
// created as needed.
func NewFileExporter(path string, opts ...FileExporterOption) (Exporter, error) {
	if path == "" {
		return NewNoopExporter(), nil
	}

	fe := &FileExporter{
		path:       path,
		maxSize:    defaultMaxSize,
		maxBackups: defaultMaxBackups,
	}
	for _, opt := range opts {
		opt(fe)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create trace directory: %w", err)
	}
	if err := fe.open(); err != nil {
		return nil, err
	}
	return fe, nil
}

// Export appends record as one JSON line, rotating afterwards if the
// file crossed the size limit.
func (fe *FileExporter) Export(ctx context.Context, record *TraceRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode trace record: %w", err)
	}
	line = append(line, '\n')

	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return errors.New("trace exporter is closed")
	}

	n, err := fe.out.Write(line)
	fe.size += int64(n)
	if err != nil {
		return fmt.Errorf("write trace record: %w", err)
	}
	if fe.size >= fe.maxSize {
		if err := fe.rotate(); err != nil {
			return fmt.Errorf("rotate trace file: %w", err)
		}
	}
	return nil
}

// Close syncs and closes the current file. Further Export calls fail;
// calling Close again is a no-op.
func (fe *FileExporter) Close() error {
	fe.mu.Lock()
	defer fe.mu.Unlock()

	if fe.closed {
		return nil
	}
	fe.closed = true

	if fe.out == nil {
		return nil
	}
	if err := fe.out.Sync(); err != nil {
		fe.out.Close()
		return fmt.Errorf("sync trace file: %w", err)
	}
	return fe.out.Close()
}

// open starts a fresh append handle on the base path and seeds the size
// counter from whatever is already on disk.
func (fe *FileExporter) open() error {
	f, err := os.OpenFile(fe.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open trace file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat trace file: %w", err)
	}
	fe.out = f
	fe.size = info.Size()
	return nil
}

// rotate closes the current file, shifts the backup chain up by one and
// reopens the base path. Caller holds the lock.
func (fe *FileExporter) rotate() error {
	if err := fe.out.Close(); err != nil {
		return fmt.Errorf("close for rotation: %w", err)
	}

	// The oldest backup falls off the end of the chain.
	if err := os.Remove(fe.backupPath(fe.maxBackups)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("drop oldest backup: %w", err)
	}
	for i := fe.maxBackups - 1; i >= 1; i-- {
		err := os.Rename(fe.backupPath(i), fe.backupPath(i+1))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("shift backup %d: %w", i, err)
		}
	}
	if err := os.Rename(fe.path, fe.backupPath(1)); err != nil {
		return fmt.Errorf("archive current file: %w", err)
	}

	return fe.open()
}

func (fe *FileExporter) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", fe.path, n)
}
