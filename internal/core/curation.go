package core

// curation.go implements the editable working set for one import run.
//
// The store holds the records produced by a completed job, the current row
// selection, and the column names seen so far. All methods are serialized
// by a single mutex; callers get copies, never the store's own slices.

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// CurationStore is the in-memory working set under curation.
type CurationStore struct {
	mu       sync.Mutex
	rows     []Record
	index    map[string]int // id -> position in rows
	selected map[string]struct{}
	columns  []string
	seeded   bool
	newID    func() string
}

// NewCurationStore creates an empty store.
func NewCurationStore() *CurationStore {
	return &CurationStore{
		index:    make(map[string]int),
		selected: make(map[string]struct{}),
		newID:    func() string { return uuid.NewString() },
	}
}

// Seed replaces the working set with the fetched result. It may be called
// once per run; call Reset to allow another seed.
//
// Missing IDs get a fresh one, as do repeated IDs after their first use.
// A missing order defaults to the 1-based result position.
func (s *CurationStore) Seed(raw []RawRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeded {
		return ErrAlreadySeeded
	}

	rows := make([]Record, 0, len(raw))
	index := make(map[string]int, len(raw))
	var columns []string
	seenCol := make(map[string]bool)

	for i, r := range raw {
		id := r.ID
		if _, dup := index[id]; id == "" || dup {
			id = s.uniqueIDLocked(index)
		}

		order := i + 1
		if r.Order != nil {
			order = *r.Order
		}

		fields := make(Fields, 0, len(r.Fields))
		for _, f := range r.Fields {
			if IsReservedField(f.Name) {
				continue
			}
			fields = fields.Set(f.Name, f.Value)
			if !seenCol[f.Name] {
				seenCol[f.Name] = true
				columns = append(columns, f.Name)
			}
		}

		index[id] = len(rows)
		rows = append(rows, Record{ID: id, Order: order, Fields: fields})
	}

	s.rows = rows
	s.index = index
	s.selected = make(map[string]struct{})
	s.columns = columns
	s.seeded = true
	return nil
}

// ApplyPatches merges each patch into the record with the same ID.
// Patches for unknown IDs are dropped. It returns how many were applied.
func (s *CurationStore) ApplyPatches(patches []DraftPatch) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := 0
	for _, p := range patches {
		pos, ok := s.index[p.ID]
		if !ok {
			continue
		}

		rec := s.rows[pos].Clone()
		if p.Order != nil {
			rec.Order = *p.Order
		}
		for _, name := range sortedKeys(p.Fields) {
			if IsReservedField(name) {
				continue
			}
			rec.Fields = rec.Fields.Set(name, p.Fields[name])
			s.addColumnLocked(name)
		}
		s.rows[pos] = rec
		applied++
	}
	return applied
}

// Select replaces the selection with ids, ignoring unknown ones.
func (s *CurationStore) Select(ids []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.selected = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			s.selected[id] = struct{}{}
		}
	}
	return s.selectionLocked()
}

// Selection returns the selected IDs in working-set order.
func (s *CurationStore) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked()
}

// InsertRow appends an empty record ordered after every existing one.
func (s *CurationStore) InsertRow() Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := 0
	for i, r := range s.rows {
		if i == 0 || r.Order >= order {
			order = r.Order + 1
		}
	}

	fields := make(Fields, 0, len(s.columns))
	for _, c := range s.columns {
		fields = append(fields, Field{Name: c})
	}

	rec := Record{ID: s.uniqueIDLocked(s.index), Order: order, Fields: fields}
	s.index[rec.ID] = len(s.rows)
	s.rows = append(s.rows, rec)
	return rec.Clone()
}

// DeleteSelected removes every selected record and clears the selection.
// It returns the number of records removed.
func (s *CurationStore) DeleteSelected() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.selected) == 0 {
		return 0
	}

	kept := s.rows[:0:0]
	for _, r := range s.rows {
		if _, ok := s.selected[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	removed := len(s.rows) - len(kept)

	s.rows = kept
	s.reindexLocked()
	s.selected = make(map[string]struct{})
	return removed
}

// Snapshot returns a copy of the working set sorted by order, ties kept in
// insertion order.
func (s *CurationStore) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SortByOrder(s.rows)
}

// Rows returns a copy of the working set in insertion order.
func (s *CurationStore) Rows() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneRecords(s.rows)
}

// Columns returns the field names in first-seen order.
func (s *CurationStore) Columns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.columns...)
}

// Len returns the number of records.
func (s *CurationStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Reset discards the working set and allows a new seed.
func (s *CurationStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows = nil
	s.index = make(map[string]int)
	s.selected = make(map[string]struct{})
	s.columns = nil
	s.seeded = false
}

func (s *CurationStore) selectionLocked() []string {
	ids := make([]string, 0, len(s.selected))
	for _, r := range s.rows {
		if _, ok := s.selected[r.ID]; ok {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func (s *CurationStore) reindexLocked() {
	s.index = make(map[string]int, len(s.rows))
	for i, r := range s.rows {
		s.index[r.ID] = i
	}
}

func (s *CurationStore) addColumnLocked(name string) {
	for _, c := range s.columns {
		if c == name {
			return
		}
	}
	s.columns = append(s.columns, name)
}

// uniqueIDLocked returns an ID not present in taken.
func (s *CurationStore) uniqueIDLocked(taken map[string]int) string {
	for {
		id := s.newID()
		if _, ok := taken[id]; !ok && id != "" {
			return id
		}
	}
}

// SortByOrder returns a copy of rows sorted by Order ascending. Records
// with equal orders keep their relative position.
func SortByOrder(rows []Record) []Record {
	out := cloneRecords(rows)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Order < out[j].Order
	})
	return out
}

func cloneRecords(rows []Record) []Record {
	out := make([]Record, len(rows))
	for i, r := range rows {
		out[i] = r.Clone()
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
