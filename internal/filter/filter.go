// Package filter selects inventory entries by kind and tag.
package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/yairfalse/wipeit/pkg/resource"
)

const tagPrefix = "tag:"

// Filter controls which kinds are considered and which resources are kept.
type Filter struct {
	kinds       map[resource.Kind]bool
	includeTags map[string]string
	excludeTags map[string]string
}

// New creates a Filter. An empty kind list matches every kind.
func New(kinds []resource.Kind, includeTags, excludeTags map[string]string) *Filter {
	kindSet := make(map[resource.Kind]bool, len(kinds))
	for _, k := range kinds {
		kindSet[k] = true
	}

	return &Filter{
		kinds:       kindSet,
		includeTags: includeTags,
		excludeTags: excludeTags,
	}
}

// Parse builds a Filter from command line values: kind names and
// key=value tag pairs.
func Parse(kinds, include, exclude []string) (*Filter, error) {
	parsedKinds := make([]resource.Kind, 0, len(kinds))
	for _, name := range kinds {
		k, err := resource.ParseKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		parsedKinds = append(parsedKinds, k)
	}

	includeTags, err := ParseTags(include)
	if err != nil {
		return nil, err
	}
	excludeTags, err := ParseTags(exclude)
	if err != nil {
		return nil, err
	}
	return New(parsedKinds, includeTags, excludeTags), nil
}

// ParseTags parses key=value pairs. A pair without "=" matches an empty value.
func ParseTags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	tags := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, _ := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid tag filter %q: empty key", pair)
		}
		tags[key] = strings.TrimSpace(value)
	}
	return tags, nil
}

// MatchesKind returns true if resources of kind k are considered.
func (f *Filter) MatchesKind(k resource.Kind) bool {
	return len(f.kinds) == 0 || f.kinds[k]
}

// Matches returns true if d passes the kind and tag filters.
func (f *Filter) Matches(d resource.Descriptor) bool {
	if !f.MatchesKind(d.Kind) {
		return false
	}

	// Include tags: all must match
	for k, v := range f.includeTags {
		got, ok := d.Attributes[tagPrefix+k]
		if !ok || got != v {
			return false
		}
	}

	// Exclude tags: any match excludes
	for k, v := range f.excludeTags {
		if got, ok := d.Attributes[tagPrefix+k]; ok && got == v {
			return false
		}
	}

	return true
}

// Select returns the ids of every matching resource in inv, keyed by kind.
// Kinds with no match are absent from the result.
func (f *Filter) Select(inv resource.Inventory) resource.Selection {
	sel := resource.Selection{}
	for _, k := range inv.Kinds() {
		if !f.MatchesKind(k) {
			continue
		}
		var ids []string
		for _, d := range inv[k] {
			if f.Matches(d) {
				ids = append(ids, d.ID)
			}
		}
		if len(ids) > 0 {
			sort.Strings(ids)
			sel[k] = ids
		}
	}
	return sel
}

// Apply returns a copy of inv holding only matching resources. Every kind
// key of inv is kept, with an empty list when nothing matches.
func (f *Filter) Apply(inv resource.Inventory) resource.Inventory {
	if f.IsEmpty() {
		return inv
	}
	out := make(resource.Inventory, len(inv))
	for k, ds := range inv {
		kept := make([]resource.Descriptor, 0, len(ds))
		for _, d := range ds {
			if f.Matches(d) {
				kept = append(kept, d)
			}
		}
		out[k] = kept
	}
	return out
}

// IsEmpty returns true if no filters are configured.
func (f *Filter) IsEmpty() bool {
	return len(f.kinds) == 0 && len(f.includeTags) == 0 && len(f.excludeTags) == 0
}
