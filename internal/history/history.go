// Package history persists inventory and deletion runs in a local bbolt
// database and keeps an in-memory index of every resource it has seen.
package history

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/btree"
	"go.etcd.io/bbolt"

	"github.com/yairfalse/wipeit/pkg/resource"
)

var (
	bucketRuns = []byte("runs")
	bucketMeta = []byte("meta")
	keyRev     = []byte("current_revision")
)

// RunType distinguishes inventory from deletion runs.
type RunType string

const (
	RunInventory RunType = "inventory"
	RunDeletion  RunType = "deletion"
)

// Run is one persisted inventory or deletion run.
type Run struct {
	Revision   int64                     `json:"revision"`
	ID         string                    `json:"id"`
	Type       RunType                   `json:"type"`
	Scope      resource.Scope            `json:"scope"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Counts     map[resource.Kind]int     `json:"counts,omitempty"`
	Inventory  resource.Inventory        `json:"inventory,omitempty"`
	Results    []resource.DeletionResult `json:"results,omitempty"`
	Skipped    []resource.Ref            `json:"skipped,omitempty"`
	Summary    resource.Summary          `json:"summary"`
}

// ResourceState tracks what history knows about one resource.
type ResourceState struct {
	Ref          resource.Ref `json:"ref"`
	FirstSeenRev int64        `json:"first_seen_rev"`
	LastSeenRev  int64        `json:"last_seen_rev"`
	DeletedRev   int64        `json:"deleted_rev,omitempty"`
	Exists       bool         `json:"exists"`
}

func lessState(a, b *ResourceState) bool {
	if a.Ref.Kind != b.Ref.Kind {
		return a.Ref.Kind < b.Ref.Kind
	}
	return a.Ref.ID < b.Ref.ID
}

// Store is the run history database.
type Store struct {
	mu         sync.RWMutex
	db         *bbolt.DB
	index      *btree.BTreeG[*ResourceState]
	currentRev int64
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init history buckets: %w", err)
	}

	s := &Store{
		db:    db,
		index: btree.NewG[*ResourceState](32, lessState),
	}
	if err := s.rebuild(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record persists run under the next revision and returns it.
func (s *Store) Record(run Run) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rev := s.currentRev + 1
	run.Revision = rev
	if run.Type == RunInventory && run.Counts == nil && run.Inventory != nil {
		run.Counts = counts(run.Inventory)
	}
	if run.Type == RunDeletion {
		run.Summary = resource.Summarize(run.Results)
	}

	value, err := json.Marshal(run)
	if err != nil {
		return 0, fmt.Errorf("marshal run: %w", err)
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put(revKey(rev), value); err != nil {
			return err
		}
		return tx.Bucket(bucketMeta).Put(keyRev, revKey(rev))
	})
	if err != nil {
		return 0, fmt.Errorf("store run: %w", err)
	}

	s.currentRev = rev
	s.apply(run)
	return rev, nil
}

// Get returns the run stored at rev.
func (s *Store) Get(rev int64) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRuns).Get(revKey(rev))
		if v == nil {
			return fmt.Errorf("run %d not found", rev)
		}
		run = &Run{}
		return json.Unmarshal(v, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns up to limit runs, newest first, without inventory bodies.
// A limit of zero returns every run.
func (s *Store) List(limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshal run %d: %w", binary.BigEndian.Uint64(k), err)
			}
			run.Inventory = nil
			runs = append(runs, run)
			if limit > 0 && len(runs) == limit {
				break
			}
		}
		return nil
	})
	return runs, err
}

// State returns what history knows about ref.
func (s *Store) State(ref resource.Ref) (*ResourceState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.index.Get(&ResourceState{Ref: ref})
	if !ok {
		return nil, false
	}
	cp := *st
	return &cp, true
}

// Revision returns the latest stored revision.
func (s *Store) Revision() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRev
}

func (s *Store) rebuild() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketMeta).Get(keyRev); v != nil {
			s.currentRev = int64(binary.BigEndian.Uint64(v)) // #nosec G115 -- revisions are positive
		}
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("rebuild history index: %w", err)
			}
			s.apply(run)
			return nil
		})
	})
}

// apply folds one run into the resource index. Callers hold s.mu.
func (s *Store) apply(run Run) {
	for _, kind := range run.Inventory.Kinds() {
		for _, d := range run.Inventory[kind] {
			key := &ResourceState{Ref: resource.Ref{Kind: d.Kind, ID: d.ID}}
			st, ok := s.index.Get(key)
			if !ok {
				st = key
				st.FirstSeenRev = run.Revision
			}
			st.LastSeenRev = run.Revision
			st.Exists = true
			st.DeletedRev = 0
			s.index.ReplaceOrInsert(st)
		}
	}

	for _, r := range run.Results {
		if r.Outcome != resource.OutcomeDeleted {
			continue
		}
		key := &ResourceState{Ref: resource.Ref{Kind: r.Kind, ID: r.Resource}}
		st, ok := s.index.Get(key)
		if !ok {
			st = key
		}
		st.Exists = false
		st.DeletedRev = run.Revision
		s.index.ReplaceOrInsert(st)
	}
}

func counts(inv resource.Inventory) map[resource.Kind]int {
	out := make(map[resource.Kind]int, len(inv))
	for k, ds := range inv {
		out[k] = len(ds)
	}
	return out
}

func revKey(rev int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(rev)) // #nosec G115 -- revisions are positive
	return b
}
