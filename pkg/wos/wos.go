// Package wos implements Tier-3 of the storage hierarchy (spec.md
// §4.5): a durable, ordered key-value store, one embedded pebble.DB per
// open database with tables multiplexed via a key prefix (pebble has no
// native sub-tree concept, so the prefix plays that role and keeps range
// scans contiguous per table). Encrypted WOS wraps every value with the
// internal/crypt AEAD envelope before the Set call and unwraps on Get
// and during iteration.
package wos

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/vela-db/vela/internal/crypt"
	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/tier"
)

const tableSep = 0x00

// reservedPrefix marks internal trees (e.g. schema/index metadata) that
// table_names() must filter out of the user-facing listing.
const reservedPrefix = "__meta__"

// WOS is the Tier-3 backend. It satisfies tier.Backend.
type WOS struct {
	db  *pebble.DB
	box *crypt.Box // nil for a plain (unencrypted) WOS
}

// Open opens (creating if absent) a pebble-backed WOS rooted at dir. A
// nil box leaves values stored as-is.
func Open(dir string, box *crypt.Box) (*WOS, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "open WOS pebble store")
	}
	return &WOS{db: db, box: box}, nil
}

// OpenInMemory opens a WOS backed by pebble's in-memory vfs, used by
// in-memory databases that still want a durable-shaped Tier-3 within
// the process lifetime.
func OpenInMemory(box *crypt.Box) (*WOS, error) {
	db, err := pebble.Open("", &pebble.Options{FS: pebbleMemFS()})
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "open in-memory WOS pebble store")
	}
	return &WOS{db: db, box: box}, nil
}

func prefixedKey(table string, key []byte) []byte {
	out := make([]byte, 0, len(table)+1+len(key))
	out = append(out, table...)
	out = append(out, tableSep)
	out = append(out, key...)
	return out
}

func (w *WOS) wrap(value []byte) ([]byte, error) {
	if w.box == nil {
		return value, nil
	}
	return w.box.Seal(value)
}

func (w *WOS) unwrap(value []byte) ([]byte, error) {
	if w.box == nil {
		return value, nil
	}
	return w.box.Open(value)
}

// Insert upserts key within table.
func (w *WOS) Insert(table string, key, value []byte) error {
	wrapped, err := w.wrap(value)
	if err != nil {
		return err
	}
	if err := w.db.Set(prefixedKey(table, key), wrapped, pebble.Sync); err != nil {
		return errors.Wrap(errors.Storage, err, "WOS set")
	}
	return nil
}

// InsertBatch performs an atomic bulk write via a single pebble batch,
// overriding the default fan-out (spec.md §4.2).
func (w *WOS) InsertBatch(table string, rows []tier.Entry) error {
	b := w.db.NewBatch()
	defer b.Close()
	for _, row := range rows {
		wrapped, err := w.wrap(row.Value)
		if err != nil {
			return err
		}
		if err := b.Set(prefixedKey(table, row.Key), wrapped, nil); err != nil {
			return errors.Wrap(errors.Storage, err, "WOS batch set")
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return errors.Wrap(errors.Storage, err, "WOS batch commit")
	}
	return nil
}

// Get returns (nil, false, nil) for absence — never an error.
func (w *WOS) Get(table string, key []byte) ([]byte, bool, error) {
	raw, closer, err := w.db.Get(prefixedKey(table, key))
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(errors.Storage, err, "WOS get")
	}
	defer closer.Close()
	value, uerr := w.unwrap(append([]byte(nil), raw...))
	if uerr != nil {
		return nil, false, uerr
	}
	return value, true, nil
}

// Delete removes key from table, reporting whether it was present.
func (w *WOS) Delete(table string, key []byte) (bool, error) {
	_, existed, err := w.Get(table, key)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}
	if err := w.db.Delete(prefixedKey(table, key), pebble.Sync); err != nil {
		return false, errors.Wrap(errors.Storage, err, "WOS delete")
	}
	return true, nil
}

// Scan returns entries in [r.Start, r.End) within table, ascending.
func (w *WOS) Scan(table string, r tier.Range) ([]tier.Entry, error) {
	lower := prefixedKey(table, r.Start)
	var upper []byte
	if r.End != nil {
		upper = prefixedKey(table, r.End)
	} else {
		upper = tableUpperBound(table)
	}

	it, err := w.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "WOS iterator")
	}
	defer it.Close()

	prefix := append([]byte(table), tableSep)
	out := make([]tier.Entry, 0)
	for it.First(); it.Valid(); it.Next() {
		full := it.Key()
		if !bytes.HasPrefix(full, prefix) {
			break
		}
		value, err := w.unwrap(append([]byte(nil), it.Value()...))
		if err != nil {
			return nil, err
		}
		out = append(out, tier.Entry{Key: append([]byte(nil), full[len(prefix):]...), Value: value})
	}
	return out, nil
}

// ScanOne returns the first entry in the range, if any.
func (w *WOS) ScanOne(table string, r tier.Range) (tier.Entry, bool, error) {
	entries, err := w.Scan(table, r)
	if err != nil || len(entries) == 0 {
		return tier.Entry{}, false, err
	}
	return entries[0], true, nil
}

// Flush fsyncs the underlying pebble store.
func (w *WOS) Flush() error {
	if err := w.db.Flush(); err != nil {
		return errors.Wrap(errors.Storage, err, "WOS flush")
	}
	return nil
}

// Count returns the number of keys in table.
func (w *WOS) Count(table string) (int, error) {
	entries, err := w.Scan(table, tier.Range{})
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// TableNames returns every distinct table prefix present, filtering out
// the reserved internal metadata tree (spec.md §9's ambiguous-behavior
// resolution: __meta__* never appears in the user-facing listing).
func (w *WOS) TableNames() ([]string, error) {
	it, err := w.db.NewIter(&pebble.IterOptions{})
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "WOS iterator")
	}
	defer it.Close()

	seen := make(map[string]bool)
	names := make([]string, 0)
	for it.First(); it.Valid(); it.Next() {
		idx := bytes.IndexByte(it.Key(), tableSep)
		if idx < 0 {
			continue
		}
		name := string(it.Key()[:idx])
		if seen[name] || len(name) >= len(reservedPrefix) && name[:len(reservedPrefix)] == reservedPrefix {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names, nil
}

// Close releases the underlying pebble store.
func (w *WOS) Close() error {
	return w.db.Close()
}

func tableUpperBound(table string) []byte {
	out := append([]byte(table), tableSep+1)
	return out
}

var _ tier.Backend = (*WOS)(nil)
