// Package report renders inventories and deletion results as terminal
// tables, per-kind CSV exports and reusable id lists.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"

	"github.com/yairfalse/wipeit/pkg/resource"
)

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetHeaderLine(false)
	table.SetColumnSeparator(" ")
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	return table
}

// InventoryTable writes inv grouped by kind in declaration order.
func InventoryTable(w io.Writer, inv resource.Inventory) {
	table := newTable(w, []string{"Kind", "ID", "Name"})
	for _, kind := range inv.Kinds() {
		for _, d := range inv[kind] {
			table.Append([]string{string(kind), d.ID, d.DisplayName})
		}
	}
	table.Render()

	fmt.Fprintln(w)
	summary := newTable(w, []string{"Kind", "Count"})
	for _, kind := range inv.Kinds() {
		summary.Append([]string{string(kind), fmt.Sprintf("%d", len(inv[kind]))})
	}
	summary.SetFooter([]string{"Total", fmt.Sprintf("%d", inv.Count())})
	summary.Render()
}

// ResultsTable writes one row per deletion result followed by a summary line.
func ResultsTable(w io.Writer, results []resource.DeletionResult) {
	table := newTable(w, []string{"Kind", "Resource", "Outcome", "Cause", "Duration", "Error"})
	for _, r := range results {
		table.Append([]string{
			string(r.Kind),
			r.Resource,
			string(r.Outcome),
			string(r.Cause),
			r.Duration.Round(time.Millisecond).String(),
			r.Error,
		})
	}
	table.Render()

	s := resource.Summarize(results)
	fmt.Fprintf(w, "\n%d deleted, %d failed\n", s.Deleted, s.Failed)
}

// JSON writes v as indented JSON.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteInventoryCSV writes one inventory-<kind>.csv per kind into dir and
// returns the paths written. Attribute columns are the sorted union of the
// kind's attribute keys.
func WriteInventoryCSV(dir string, inv resource.Inventory) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	var paths []string
	for _, kind := range inv.Kinds() {
		path := filepath.Join(dir, fmt.Sprintf("inventory-%s.csv", kind))
		if err := writeKindCSV(path, inv[kind]); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeKindCSV(path string, ds []resource.Descriptor) error {
	file, err := os.Create(path) // #nosec G304 -- path built from the report dir
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	keys := attributeKeys(ds)
	writer := csv.NewWriter(file)

	header := append([]string{"id", "name", "discovered_at"}, keys...)
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, d := range ds {
		row := []string{d.ID, d.DisplayName, formatTime(d.DiscoveredAt)}
		for _, k := range keys {
			row = append(row, d.Attributes[k])
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return err
	}
	return file.Close()
}

func attributeKeys(ds []resource.Descriptor) []string {
	seen := map[string]bool{}
	var keys []string
	for _, d := range ds {
		for k := range d.Attributes {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// WriteIDLists writes <kind>.json holding the id array of each kind, the
// format LoadSelectionDir reads back.
func WriteIDLists(dir string, inv resource.Inventory) ([]string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create report directory: %w", err)
	}

	var paths []string
	for _, kind := range inv.Kinds() {
		data, err := json.MarshalIndent(inv.IDs(kind), "", "  ")
		if err != nil {
			return paths, fmt.Errorf("marshal %s ids: %w", kind, err)
		}
		path := filepath.Join(dir, string(kind)+".json")
		if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
			return paths, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// LoadSelectionDir reads every <kind>.json id list in dir; empty lists are
// dropped. A string list under a name that is not a known kind is kept under
// that name so its ids are reported as unsupported. Other .json files are
// not id lists and are skipped.
func LoadSelectionDir(dir string) (resource.Selection, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read selection dir: %w", err)
	}

	sel := resource.Selection{}
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".json")
		if e.IsDir() || !ok || name == "" {
			continue
		}
		kind := resource.Kind(name)
		path := filepath.Join(dir, e.Name())

		data, err := os.ReadFile(path) // #nosec G304 -- path is an entry of dir
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}

		var ids []string
		if err := json.Unmarshal(data, &ids); err != nil {
			if kind.Valid() {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
			log.Warn().Str("file", path).Msg("skipping file that is not an id list")
			continue
		}
		ids = compact(ids)
		if len(ids) == 0 {
			continue
		}
		if !kind.Valid() {
			log.Warn().Str("file", path).Int("ids", len(ids)).Msg("id list names an unsupported kind")
		}
		sel[kind] = ids
	}
	return sel, nil
}

func compact(ids []string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
