// Package queue implements the durable staging queue between fetch and
// push: one newline-delimited JSON batch file per fetch, named by the
// fetch timestamp. Batch files are created by the fetch pipeline and
// thereafter touched only by requeue, which rewrites a file down to its
// still-failing records or removes it once everything has been pushed.
//
// A batch file exists on disk if and only if it holds at least one record
// not yet successfully pushed. A crash mid-push leaves the original file
// intact, so the next run reprocesses the whole batch; the destination
// upsert must be idempotent under the record's correlation key for that
// to be safe.
package queue

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Staging is the queue contract consumed by the pipelines. The on-disk
// format is an implementation detail behind it.
type Staging[T any] interface {
	// Enqueue writes a new batch file named by the fetch timestamp.
	// An empty batch writes nothing. An unwritable queue directory is
	// fatal, not retried.
	Enqueue(stamp string, records []T) error

	// Pending returns batch names sorted ascending, i.e. FIFO by fetch
	// time across process invocations.
	Pending() ([]string, error)

	// Read decodes every record in a batch, preserving order.
	Read(name string) ([]T, error)

	// Requeue atomically replaces a batch with only the still-failing
	// records, or removes the file when none remain.
	Requeue(name string, remaining []T) error
}

// FileQueue is the JSONL file implementation of Staging.
type FileQueue[T any] struct {
	dir string
}

// New creates the queue directory if needed and returns a FileQueue.
func New[T any](dir string) (*FileQueue[T], error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory %s: %w", dir, err)
	}
	return &FileQueue[T]{dir: dir}, nil
}

// Dir returns the queue directory path.
func (q *FileQueue[T]) Dir() string {
	return q.dir
}

// Enqueue implements Staging.Enqueue.
func (q *FileQueue[T]) Enqueue(stamp string, records []T) error {
	if len(records) == 0 {
		return nil
	}
	return q.write(filepath.Join(q.dir, stamp), records)
}

// Pending implements Staging.Pending.
func (q *FileQueue[T]) Pending() ([]string, error) {
	entries, err := os.ReadDir(q.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue directory %s: %w", q.dir, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		// Skip a temp file left behind by an interrupted requeue; its
		// original batch file is still intact and will be reprocessed.
		if filepath.Ext(entry.Name()) == ".tmp" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Read implements Staging.Read.
func (q *FileQueue[T]) Read(name string) ([]T, error) {
	path := filepath.Join(q.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch %s: %w", name, err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("invalid record at %s:%d: %w", name, line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %w", name, err)
	}
	return records, nil
}

// Requeue implements Staging.Requeue.
func (q *FileQueue[T]) Requeue(name string, remaining []T) error {
	path := filepath.Join(q.dir, name)
	if len(remaining) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove batch %s: %w", name, err)
		}
		return nil
	}
	return q.write(path, remaining)
}

// write serializes records to a temp file and renames it into place, so
// a crash mid-write never exposes a truncated batch.
func (q *FileQueue[T]) write(path string, records []T) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create batch temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return fmt.Errorf("failed to encode record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to flush batch: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync batch: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close batch temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace batch file: %w", err)
	}
	return nil
}
