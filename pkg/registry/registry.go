// Package registry implements the schema and index version registries
// of spec.md §4.10: per-table/per-index version history vectors behind
// a single mutex per registry, mirroring the teacher's TableMetaData
// concurrency style (a map-of-pointers guarded by one lock rather than
// per-entry locking).
package registry

import (
	"sync"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/index"
)

// ColumnType is a schema field's logical type, which the SQL layer
// derives from a CREATE TABLE column's type keyword.
type ColumnType int

const (
	Int64 ColumnType = iota
	Float64
	Utf8
	Boolean
	Timestamp
)

// Column describes one field of a table schema.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Schema is one versioned snapshot of a table's column layout.
type Schema struct {
	Version     int
	Columns     []Column
	Description string
}

type schemaEntry struct {
	history []*Schema
	current *Schema
}

// SchemaRegistry holds, per table, a monotone version history and an
// O(1)-read cached pointer to the current schema.
type SchemaRegistry struct {
	mu     sync.RWMutex
	tables map[string]*schemaEntry
}

// NewSchemaRegistry builds an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{tables: make(map[string]*schemaEntry)}
}

// CreateTable registers table's first schema version.
func (r *SchemaRegistry) CreateTable(table string, columns []Column) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[table]; exists {
		return nil, errors.Newf(errors.ConstraintViolation, "table %q already exists", table)
	}
	s := &Schema{Version: 1, Columns: columns}
	r.tables[table] = &schemaEntry{history: []*Schema{s}, current: s}
	return s, nil
}

// AlterTable appends a new schema version for table and swaps the
// cached current pointer; prior versions remain queryable by version
// number (spec.md §4.10).
func (r *SchemaRegistry) AlterTable(table string, newSchema []Column, description string) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tables[table]
	if !ok {
		return nil, errors.Newf(errors.TableNotFound, "table %q not found", table)
	}
	s := &Schema{Version: e.current.Version + 1, Columns: newSchema, Description: description}
	e.history = append(e.history, s)
	e.current = s
	return s, nil
}

// Current returns table's active schema version.
func (r *SchemaRegistry) Current(table string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[table]
	if !ok {
		return nil, errors.Newf(errors.TableNotFound, "table %q not found", table)
	}
	return e.current, nil
}

// Version returns a specific historical schema version for table.
func (r *SchemaRegistry) Version(table string, version int) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tables[table]
	if !ok {
		return nil, errors.Newf(errors.TableNotFound, "table %q not found", table)
	}
	for _, s := range e.history {
		if s.Version == version {
			return s, nil
		}
	}
	return nil, errors.Newf(errors.InvalidArguments, "table %q has no schema version %d", table, version)
}

// Rollback re-points table's cached current schema at target_version
// without truncating history.
func (r *SchemaRegistry) Rollback(table string, targetVersion int) (*Schema, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tables[table]
	if !ok {
		return nil, errors.Newf(errors.TableNotFound, "table %q not found", table)
	}
	for _, s := range e.history {
		if s.Version == targetVersion {
			e.current = s
			return s, nil
		}
	}
	return nil, errors.Newf(errors.InvalidArguments, "table %q has no schema version %d", table, targetVersion)
}

// TableNames lists every table with a registered schema.
func (r *SchemaRegistry) TableNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tables))
	for name := range r.tables {
		names = append(names, name)
	}
	return names
}

// IndexMeta describes one versioned index instance.
type IndexMeta struct {
	Version int
	Kind    index.Kind
	Status  index.Status
	Handle  *index.Hash
}

type indexEntry struct {
	history []*IndexMeta
}

// IndexRegistry holds, per index name, the version history produced by
// online reindex operations (spec.md §4.10).
type IndexRegistry struct {
	mu      sync.RWMutex
	indexes map[string]*indexEntry
}

// NewIndexRegistry builds an empty index registry.
func NewIndexRegistry() *IndexRegistry {
	return &IndexRegistry{indexes: make(map[string]*indexEntry)}
}

// StartReindex appends a new Building-state version of name, leaving
// any existing Ready version visible to readers until it completes.
func (r *IndexRegistry) StartReindex(name string, kind index.Kind) *IndexMeta {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.indexes[name]
	if !ok {
		e = &indexEntry{}
		r.indexes[name] = e
	}
	h := index.NewHash()
	meta := &IndexMeta{Version: len(e.history) + 1, Kind: kind, Status: index.Building, Handle: h}
	e.history = append(e.history, meta)
	return meta
}

// CompleteReindex flips the named index's newest Building version to
// Ready and disables the prior Ready version, so readers never observe
// a gap between the old and new index (spec.md §4.10).
func (r *IndexRegistry) CompleteReindex(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.indexes[name]
	if !ok {
		return errors.Newf(errors.IndexNotFound, "index %q not found", name)
	}
	var building *IndexMeta
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Status == index.Building {
			building = e.history[i]
			break
		}
	}
	if building == nil {
		return errors.Newf(errors.InvalidOperation, "index %q has no in-progress reindex", name)
	}
	for _, m := range e.history {
		if m != building && m.Status == index.Ready {
			m.Status = index.Disabled
			m.Handle.Disable()
		}
	}
	building.Status = index.Ready
	building.Handle.Ready()
	return nil
}

// Current returns the active (Ready) version of the named index, if
// any.
func (r *IndexRegistry) Current(name string) (*IndexMeta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.indexes[name]
	if !ok {
		return nil, false
	}
	for i := len(e.history) - 1; i >= 0; i-- {
		if e.history[i].Status == index.Ready {
			return e.history[i], true
		}
	}
	return nil, false
}

// Drop removes every version of the named index.
func (r *IndexRegistry) Drop(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.indexes[name]; !ok {
		return errors.Newf(errors.IndexNotFound, "index %q not found", name)
	}
	delete(r.indexes, name)
	return nil
}
