// Package audit keeps an append-only, fsynced JSON-lines trail of every
// destructive step.
package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yairfalse/wipeit/pkg/resource"
)

// FilePrefix names every audit file written by this package.
const FilePrefix = "wipeit"

// EntryType is the lifecycle step an entry records.
type EntryType string

const (
	EntryApproved EntryType = "approved"
	EntrySkipped  EntryType = "skipped"
	EntryDeleting EntryType = "deleting"
	EntryDeleted  EntryType = "deleted"
	EntryFailed   EntryType = "failed"
)

// Entry is one line of the audit trail.
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	RunID     string          `json:"run_id"`
	Type      EntryType       `json:"type"`
	Kind      resource.Kind   `json:"kind,omitempty"`
	Resource  string          `json:"resource,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Cause     resource.Cause  `json:"cause,omitempty"`
}

// Recorder receives audit events. The deletion engine writes through it.
type Recorder interface {
	Record(e Entry) error
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(Entry) error { return nil }

// Log writes entries to a per-process file under dir.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	path     string
}

// Open creates a new audit file in dir.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s-%d.wal", FilePrefix, time.Now().UTC().Format("20060102-150405"), os.Getpid())
	path := filepath.Join(dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600) // #nosec G304 -- path built from configured dir
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}

	return &Log{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}, nil
}

// Path returns the file being written.
func (l *Log) Path() string {
	return l.path
}

// Record stamps and appends e, flushing to disk before returning.
func (l *Log) Record(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++
	e.Sequence = l.sequence
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := l.writer.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("flush audit entry: %w", err)
	}
	return l.file.Sync()
}

// Close flushes and closes the file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Reader iterates entries of one audit file.
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader opens an audit file for reading.
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path) // #nosec G304 -- audit files are listed from the configured dir
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	return &Reader{scanner: bufio.NewScanner(file), file: file}, nil
}

// Next returns the next entry or io.EOF.
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var e Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal audit entry: %w", err)
	}
	return &e, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay feeds every entry newer than since to fn, oldest file first.
func Replay(dir string, since time.Time, fn func(*Entry) error) error {
	files, err := filepath.Glob(filepath.Join(dir, FilePrefix+"-*.wal"))
	if err != nil {
		return fmt.Errorf("list audit files: %w", err)
	}
	sort.Strings(files)

	for _, path := range files {
		if err := replayFile(path, since, fn); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, fn func(*Entry) error) error {
	r, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()

	for {
		e, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Timestamp.After(since) {
			if err := fn(e); err != nil {
				return err
			}
		}
	}
}

// Incomplete returns references that were marked deleting in a run but never
// reached deleted or failed, such as after a crash.
func Incomplete(dir, runID string) ([]resource.Ref, error) {
	pending := map[resource.Ref]int{}
	var order []resource.Ref

	err := Replay(dir, time.Time{}, func(e *Entry) error {
		if e.RunID != runID {
			return nil
		}
		ref := resource.Ref{Kind: e.Kind, ID: e.Resource}
		switch e.Type {
		case EntryDeleting:
			if _, seen := pending[ref]; !seen {
				order = append(order, ref)
			}
			pending[ref]++
		case EntryDeleted, EntryFailed:
			// Failures recorded before dispatch have no deleting entry.
			if pending[ref] > 0 {
				pending[ref]--
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []resource.Ref
	for _, ref := range order {
		if pending[ref] > 0 {
			out = append(out, ref)
		}
	}
	return out, nil
}
