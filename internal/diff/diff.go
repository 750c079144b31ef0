// Package diff classifies the differences between two catalog snapshots.
//
// Rows are matched with a full outer join on the join key columns. A row only in the
// old snapshot is Deleted, a row only in the new snapshot is a New Insert, and a matched
// pair is Updated when any tracked field differs. Matched pairs without a tracked
// difference are not emitted.
package diff

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shpitdev/sdmx-dataflow-sync/pkg/pipeline/schema"
	"github.com/shpitdev/sdmx-dataflow-sync/pkg/sdmx"
)

// ChangeType labels one emitted change.
type ChangeType string

const (
	Deleted   ChangeType = "Deleted"
	NewInsert ChangeType = "New Insert"
	Updated   ChangeType = "Updated"
)

// Column naming of the flattened change-set.
const (
	ColChangeType = "Change_Type"
	SuffixOld     = "_old"
	SuffixNew     = "_new"
)

// DefaultTrackedFields are the fields whose change turns a matched pair into Updated.
var DefaultTrackedFields = []string{sdmx.ColVersion, sdmx.ColIsFinal}

// DefaultSortKeys order the change-set by identity first.
var DefaultSortKeys = []string{sdmx.ColDataflowID, sdmx.ColAgencyID, sdmx.ColNameEN, sdmx.ColRefID}

// Options controls matching and ordering.
type Options struct {
	// JoinKeys are the columns two rows must share to be the same record.
	// Empty means every column except the tracked fields.
	JoinKeys []string
	// TrackedFields are compared on matched pairs. Columns missing from the
	// snapshot are ignored. Nil uses DefaultTrackedFields.
	TrackedFields []string
	// SortKeys order the output; missing columns are skipped. Nil uses DefaultSortKeys.
	SortKeys []string
}

func (o Options) withDefaults() Options {
	if o.TrackedFields == nil {
		o.TrackedFields = DefaultTrackedFields
	}
	if o.SortKeys == nil {
		o.SortKeys = DefaultSortKeys
	}
	return o
}

// Change is one classified record. Old is nil for a New Insert, New is nil for Deleted.
type Change struct {
	Type ChangeType
	Old  []string
	New  []string
}

// ChangeSet is the ordered result of Compute.
type ChangeSet struct {
	// Columns is the shared snapshot header.
	Columns []string
	// JoinKeys are the resolved key columns, in header order.
	JoinKeys []string
	Changes  []Change
}

// Counts tallies a change-set by type.
type Counts struct {
	Deleted  int
	Inserted int
	Updated  int
}

// Total returns the number of changes.
func (c Counts) Total() int { return c.Deleted + c.Inserted + c.Updated }

// Counts tallies the change-set.
func (cs ChangeSet) Counts() Counts {
	var out Counts
	for _, c := range cs.Changes {
		switch c.Type {
		case Deleted:
			out.Deleted++
		case NewInsert:
			out.Inserted++
		case Updated:
			out.Updated++
		}
	}
	return out
}

// Empty reports whether there is nothing to emit.
func (cs ChangeSet) Empty() bool { return len(cs.Changes) == 0 }

// Header returns the flattened header: key columns as-is, every other column as an
// _old/_new pair, then Change_Type.
func (cs ChangeSet) Header() []string {
	keys := cs.keyMask()
	out := make([]string, 0, 2*len(cs.Columns)+1)
	for i, col := range cs.Columns {
		col = strings.TrimSpace(col)
		if keys[i] {
			out = append(out, col)
			continue
		}
		out = append(out, col+SuffixOld, col+SuffixNew)
	}
	return append(out, ColChangeType)
}

// Table flattens the change-set for persisting.
func (cs ChangeSet) Table() schema.Table {
	keys := cs.keyMask()
	t := schema.Table{Header: cs.Header(), Rows: make([][]string, 0, len(cs.Changes))}
	for _, c := range cs.Changes {
		t.Rows = append(t.Rows, flatten(c, keys))
	}
	return t
}

func (cs ChangeSet) keyMask() []bool {
	mask := make([]bool, len(cs.Columns))
	for i, col := range cs.Columns {
		mask[i] = slices.Contains(cs.JoinKeys, strings.TrimSpace(col))
	}
	return mask
}

func flatten(c Change, keys []bool) []string {
	row := make([]string, 0, 2*len(keys)+1)
	for i, isKey := range keys {
		if isKey {
			row = append(row, effective(c, i))
			continue
		}
		row = append(row, cell(c.Old, i), cell(c.New, i))
	}
	return append(row, string(c.Type))
}

// effective is the current value of column i: the new side when present.
func effective(c Change, i int) string {
	if c.New != nil {
		return cell(c.New, i)
	}
	return cell(c.Old, i)
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// plan is Options resolved against a concrete header.
type plan struct {
	columns []string
	keyIdx  []int
	keys    []string
	tracked []int
	sort    []int
}

func newPlan(header []string, opts Options) (plan, error) {
	p := plan{columns: make([]string, len(header))}
	for i, col := range header {
		p.columns[i] = strings.TrimSpace(col)
	}
	index := func(name string) int { return slices.Index(p.columns, strings.TrimSpace(name)) }

	for _, f := range opts.TrackedFields {
		if i := index(f); i >= 0 && !slices.Contains(p.tracked, i) {
			p.tracked = append(p.tracked, i)
		}
	}

	isKey := make([]bool, len(p.columns))
	if len(opts.JoinKeys) > 0 {
		for _, k := range opts.JoinKeys {
			i := index(k)
			if i < 0 {
				return plan{}, &Error{Kind: SchemaMismatch, Err: fmt.Errorf("join key %q not in snapshot columns %v", k, p.columns)}
			}
			isKey[i] = true
		}
	} else {
		for i := range p.columns {
			isKey[i] = !slices.Contains(p.tracked, i)
		}
	}
	for i, k := range isKey {
		if k {
			p.keyIdx = append(p.keyIdx, i)
			p.keys = append(p.keys, p.columns[i])
		}
	}
	if len(p.keyIdx) == 0 {
		return plan{}, &Error{Kind: SchemaMismatch, Err: fmt.Errorf("no join key columns left in %v", p.columns)}
	}

	for _, s := range opts.SortKeys {
		if i := index(s); i >= 0 && !slices.Contains(p.sort, i) {
			p.sort = append(p.sort, i)
		}
	}
	return p, nil
}

func (p plan) key(row []string) string {
	vals := make([]string, len(p.keyIdx))
	for i, idx := range p.keyIdx {
		vals[i] = cell(row, idx)
	}
	return strings.Join(vals, "\x1f")
}

func (p plan) trackedDiffers(a, b []string) bool {
	for _, i := range p.tracked {
		if cell(a, i) != cell(b, i) {
			return true
		}
	}
	return false
}

// Compute classifies every row of old and cur. Both tables must have the same
// columns in the same order.
func Compute(old, cur schema.Table, opts Options) (ChangeSet, error) {
	if !old.SameColumns(cur) {
		return ChangeSet{}, &Error{
			Kind: SchemaMismatch,
			Err:  fmt.Errorf("old columns %v do not match new columns %v", old.Header, cur.Header),
		}
	}
	p, err := newPlan(old.Header, opts.withDefaults())
	if err != nil {
		return ChangeSet{}, err
	}

	oldGroups, order := group(p, old.Rows, nil)
	newGroups, order := group(p, cur.Rows, order)

	var changes []Change
	for _, k := range order {
		changes = append(changes, match(p, old.Rows, oldGroups[k], cur.Rows, newGroups[k])...)
	}
	sortChanges(p, changes)

	return ChangeSet{Columns: p.columns, JoinKeys: p.keys, Changes: changes}, nil
}

// group indexes rows by join key, appending first-seen keys to order.
func group(p plan, rows [][]string, order []string) (map[string][]int, []string) {
	groups := make(map[string][]int)
	seen := make(map[string]bool, len(order))
	for _, k := range order {
		seen[k] = true
	}
	for i, row := range rows {
		k := p.key(row)
		groups[k] = append(groups[k], i)
		if !seen[k] {
			seen[k] = true
			order = append(order, k)
		}
	}
	return groups, order
}

// match pairs the old and new rows sharing one join key. Identical rows pair first,
// the rest pair in file order; each row is used at most once.
func match(p plan, oldRows [][]string, oi []int, newRows [][]string, ni []int) []Change {
	usedOld := make([]bool, len(oi))
	usedNew := make([]bool, len(ni))
	var out []Change

	for a, i := range oi {
		for b, j := range ni {
			if !usedNew[b] && slices.Equal(oldRows[i], newRows[j]) {
				usedOld[a], usedNew[b] = true, true
				break
			}
		}
	}

	b := 0
	for a, i := range oi {
		if usedOld[a] {
			continue
		}
		for b < len(ni) && usedNew[b] {
			b++
		}
		if b == len(ni) {
			out = append(out, Change{Type: Deleted, Old: oldRows[i]})
			continue
		}
		usedOld[a], usedNew[b] = true, true
		j := ni[b]
		if p.trackedDiffers(oldRows[i], newRows[j]) {
			out = append(out, Change{Type: Updated, Old: oldRows[i], New: newRows[j]})
		}
	}
	for b, j := range ni {
		if !usedNew[b] {
			out = append(out, Change{Type: NewInsert, New: newRows[j]})
		}
	}
	return out
}

func sortChanges(p plan, changes []Change) {
	keys := make([]bool, len(p.columns))
	for _, i := range p.keyIdx {
		keys[i] = true
	}
	slices.SortStableFunc(changes, func(a, b Change) int {
		for _, i := range p.sort {
			if c := strings.Compare(effective(a, i), effective(b, i)); c != 0 {
				return c
			}
		}
		if c := strings.Compare(string(a.Type), string(b.Type)); c != 0 {
			return c
		}
		return slices.Compare(flatten(a, keys), flatten(b, keys))
	})
}
