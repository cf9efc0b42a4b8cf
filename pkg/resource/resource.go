// Package resource defines the resource model shared by discovery and deletion.
package resource

import (
	"fmt"
	"sort"
	"time"
)

// Kind identifies one resource kind. The set is closed: every Kind maps to
// exactly one handler.
type Kind string

const (
	KindComputeInstance   Kind = "compute-instance"
	KindManagedDatabase   Kind = "managed-database"
	KindMessageQueue      Kind = "message-queue"
	KindSecret            Kind = "secret"
	KindObjectStoreBucket Kind = "object-store-bucket"
	KindFunction          Kind = "function"
	KindAPIEndpoint       Kind = "api-endpoint"
	KindLogGroup          Kind = "log-group"
	KindBlockVolume       Kind = "block-volume"
)

var allKinds = []Kind{
	KindComputeInstance,
	KindManagedDatabase,
	KindMessageQueue,
	KindSecret,
	KindObjectStoreBucket,
	KindFunction,
	KindAPIEndpoint,
	KindLogGroup,
	KindBlockVolume,
}

// AllKinds returns every kind in declaration order.
func AllKinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// ParseKind maps a kind name to a Kind. Unknown names wrap ErrUnsupportedKind.
func ParseKind(s string) (Kind, error) {
	for _, k := range allKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	_, err := ParseKind(string(k))
	return err == nil
}

func (k Kind) String() string { return string(k) }

// Scope bounds a discovery or deletion run to one account and region.
type Scope struct {
	Profile string `json:"profile,omitempty"`
	Account string `json:"account"`
	Region  string `json:"region"`
}

// Descriptor describes one discovered resource. Identity is (Kind, ID); the
// ID format is owned by the kind's handler.
type Descriptor struct {
	Kind         Kind              `json:"kind"`
	ID           string            `json:"id"`
	DisplayName  string            `json:"display_name"`
	Attributes   map[string]string `json:"attributes,omitempty"`
	DiscoveredAt time.Time         `json:"discovered_at"`
}

// Ref returns the canonical "<kind>/<id>" reference for d.
func (d Descriptor) Ref() string {
	return FormatRef(d.Kind, d.ID)
}

// Inventory maps every kind to the resources discovered for it.
type Inventory map[Kind][]Descriptor

// NewInventory returns an inventory with an empty, non-nil entry per kind.
func NewInventory() Inventory {
	inv := make(Inventory, len(allKinds))
	for _, k := range allKinds {
		inv[k] = []Descriptor{}
	}
	return inv
}

// Count returns the total number of descriptors across all kinds.
func (inv Inventory) Count() int {
	n := 0
	for _, ds := range inv {
		n += len(ds)
	}
	return n
}

// Kinds returns the inventory keys in declaration order.
func (inv Inventory) Kinds() []Kind {
	var out []Kind
	for _, k := range allKinds {
		if _, ok := inv[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// IDs returns the identifiers of one kind in inventory order.
func (inv Inventory) IDs(k Kind) []string {
	ids := make([]string, 0, len(inv[k]))
	for _, d := range inv[k] {
		ids = append(ids, d.ID)
	}
	return ids
}

// Find looks up a descriptor by identity.
func (inv Inventory) Find(k Kind, id string) (Descriptor, bool) {
	for _, d := range inv[k] {
		if d.ID == id {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Selection is the set of ids chosen for deletion, keyed by kind.
type Selection map[Kind][]string

// Requests converts a selection into deletion requests in kind declaration
// order. Kinds outside the known set are appended last, sorted by name, so
// they still produce results.
func (s Selection) Requests() []DeletionRequest {
	var reqs []DeletionRequest
	for _, k := range allKinds {
		if ids, ok := s[k]; ok && len(ids) > 0 {
			reqs = append(reqs, DeletionRequest{Kind: k, IDs: append([]string(nil), ids...)})
		}
	}

	var unknown []Kind
	for k, ids := range s {
		if !k.Valid() && len(ids) > 0 {
			unknown = append(unknown, k)
		}
	}
	sort.Slice(unknown, func(i, j int) bool { return unknown[i] < unknown[j] })
	for _, k := range unknown {
		reqs = append(reqs, DeletionRequest{Kind: k, IDs: append([]string(nil), s[k]...)})
	}
	return reqs
}

// Count returns the number of ids in the selection.
func (s Selection) Count() int {
	n := 0
	for _, ids := range s {
		n += len(ids)
	}
	return n
}

// Clone returns a deep copy of s.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, ids := range s {
		out[k] = append([]string(nil), ids...)
	}
	return out
}

// DeletionRequest is a batch of same-kind deletions in caller order.
type DeletionRequest struct {
	Kind Kind     `json:"kind"`
	IDs  []string `json:"ids"`
}

// Outcome is the terminal state of one deletion.
type Outcome string

const (
	OutcomeDeleted Outcome = "deleted"
	OutcomeFailed  Outcome = "failed"
)

// DeletionResult records the outcome for one requested id.
type DeletionResult struct {
	Resource string        `json:"resource"`
	Kind     Kind          `json:"kind"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Cause    Cause         `json:"cause,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Deleted builds a successful result.
func Deleted(kind Kind, id string) DeletionResult {
	return DeletionResult{Resource: id, Kind: kind, Outcome: OutcomeDeleted}
}

// Failed builds a failed result, classifying err.
func Failed(kind Kind, id string, err error) DeletionResult {
	return DeletionResult{
		Resource: id,
		Kind:     kind,
		Outcome:  OutcomeFailed,
		Error:    err.Error(),
		Cause:    Classify(err),
	}
}

// Summary counts results by outcome.
type Summary struct {
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Summarize counts results by outcome.
func Summarize(results []DeletionResult) Summary {
	var s Summary
	for _, r := range results {
		if r.Outcome == OutcomeDeleted {
			s.Deleted++
		} else {
			s.Failed++
		}
	}
	return s
}
