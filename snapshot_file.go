package vela

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"sync/atomic"

	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/registry"
	"github.com/vela-db/vela/pkg/tier"
)

const snapshotVersion = 1

// snapshotFile is the exact on-disk schema spec.md §6 specifies:
// {version, schemas, indexes, tables:{table:{entries:[[key,value],...]}},
// row_counters}.
type snapshotFile struct {
	Version     int                       `json:"version"`
	Schemas     map[string]snapshotSchema `json:"schemas"`
	Indexes     map[string][2]string      `json:"indexes"`
	Tables      map[string]snapshotTable  `json:"tables"`
	RowCounters map[string]int64          `json:"row_counters"`
}

type snapshotSchema struct {
	Version     int              `json:"version"`
	Columns     []snapshotColumn `json:"columns"`
	Description string           `json:"description"`
}

type snapshotColumn struct {
	Name     string `json:"name"`
	Type     int    `json:"type"`
	Nullable bool   `json:"nullable"`
}

type snapshotTable struct {
	Entries [][2]string `json:"entries"` // base64-encoded [key, value]
}

// SaveToFile writes a JSON snapshot of the database to path (spec.md
// §6): every table's current entries, the schema registry, the index
// registry's (table, column) bindings, and the per-table row counters.
func (db *DB) SaveToFile(path string) error {
	names, err := db.TableNames()
	if err != nil {
		return err
	}

	snap := snapshotFile{
		Version:     snapshotVersion,
		Schemas:     make(map[string]snapshotSchema),
		Indexes:     make(map[string][2]string),
		Tables:      make(map[string]snapshotTable),
		RowCounters: make(map[string]int64),
	}

	for _, name := range db.schemas.TableNames() {
		s, err := db.schemas.Current(name)
		if err != nil {
			continue
		}
		cols := make([]snapshotColumn, len(s.Columns))
		for i, c := range s.Columns {
			cols[i] = snapshotColumn{Name: c.Name, Type: int(c.Type), Nullable: c.Nullable}
		}
		snap.Schemas[name] = snapshotSchema{Version: s.Version, Columns: cols, Description: s.Description}
	}

	db.mu.RLock()
	for name, binding := range db.indexBind {
		snap.Indexes[name] = binding
	}
	db.mu.RUnlock()

	for _, table := range names {
		entries, err := db.loadTableEntries(table)
		if err != nil {
			return err
		}
		enc := make([][2]string, len(entries))
		for i, e := range entries {
			enc[i] = [2]string{
				base64.StdEncoding.EncodeToString(e.Key),
				base64.StdEncoding.EncodeToString(e.Value),
			}
		}
		snap.Tables[table] = snapshotTable{Entries: enc}

		db.mu.RLock()
		counter, ok := db.rowCounters[table]
		db.mu.RUnlock()
		if ok {
			snap.RowCounters[table] = counter.Load()
		} else {
			snap.RowCounters[table] = int64(len(entries))
		}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return errors.Wrap(errors.Serialization, err, "marshal snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.Storage, err, "write snapshot file")
	}
	return nil
}

// LoadFromFile builds a fresh in-memory database from a snapshot written
// by SaveToFile, rejecting unrecognized snapshot versions (spec.md §6).
func LoadFromFile(path string) (*DB, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "read snapshot file")
	}
	var snap snapshotFile
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, errors.Wrap(errors.Serialization, err, "unmarshal snapshot")
	}
	if snap.Version != snapshotVersion {
		return nil, errors.Newf(errors.Serialization, "unsupported snapshot version %d", snap.Version)
	}

	db, err := OpenInMemory()
	if err != nil {
		return nil, err
	}

	for table, s := range snap.Schemas {
		cols := make([]registry.Column, len(s.Columns))
		for i, c := range s.Columns {
			cols[i] = registry.Column{Name: c.Name, Type: registry.ColumnType(c.Type), Nullable: c.Nullable}
		}
		if _, err := db.schemas.CreateTable(table, cols); err != nil {
			return nil, err
		}
	}

	for table, t := range snap.Tables {
		rows := make([]tier.Entry, 0, len(t.Entries))
		for _, pair := range t.Entries {
			key, err := base64.StdEncoding.DecodeString(pair[0])
			if err != nil {
				return nil, errors.Wrap(errors.Serialization, err, "decode snapshot key")
			}
			value, err := base64.StdEncoding.DecodeString(pair[1])
			if err != nil {
				return nil, errors.Wrap(errors.Serialization, err, "decode snapshot value")
			}
			rows = append(rows, tier.Entry{Key: key, Value: value})
		}
		if len(rows) > 0 {
			if err := db.InsertBatch(table, rows); err != nil {
				return nil, err
			}
		}
	}

	for name, binding := range snap.Indexes {
		table, column := binding[0], binding[1]
		if err := db.CreateIndex(table, column); err != nil {
			return nil, err
		}
		_ = name
	}

	for table, count := range snap.RowCounters {
		db.mu.Lock()
		c := &atomic.Int64{}
		c.Store(count)
		db.rowCounters[table] = c
		db.mu.Unlock()
	}

	return db, nil
}
