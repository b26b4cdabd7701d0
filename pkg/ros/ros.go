package ros

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/vela-db/vela/config"
	"github.com/vela-db/vela/pkg/batch"
	"github.com/vela-db/vela/pkg/errors"
	"github.com/vela-db/vela/pkg/tier"
)

// nowNanos is overridable in tests; production code passes time.Now().UnixNano().
var nowNanos = func() int64 { return 0 }

// ROS is the Tier-5 read-optimized column-file store. Files are
// immutable once written and need no locking to read (spec.md §5);
// Insert/Delete are not part of its surface — rows only arrive via
// Write, which DB.Flush calls when draining the columnar Delta variant.
type ROS struct {
	root        string
	compression config.Compression
	level       int
}

// Open roots a ROS store at dir/ros, creating the directory tree.
func Open(root string, compression config.Compression, level int) (*ROS, error) {
	dir := filepath.Join(root, "ros")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.Storage, err, "create ros root")
	}
	return &ROS{root: dir, compression: compression, level: level}, nil
}

func (r *ROS) tableDir(table string) string {
	return filepath.Join(r.root, table)
}

// Write compacts rows into one new column file for table, named
// <root>/ros/<table>/<nanoseconds>.parquet to guarantee monotone
// ordering within the table (spec.md §4.5). ts lets callers (and tests)
// control the file-name timestamp deterministically.
func (r *ROS) Write(table string, rows []batch.Row, ts int64) (string, error) {
	dir := r.tableDir(table)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.Storage, err, "create table dir")
	}
	if ts == 0 {
		ts = nowNanos()
	}
	path := filepath.Join(dir, fmt.Sprintf("%d.parquet", ts))

	buf, err := batch.ToParquetBuffer(rows)
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(errors.Storage, err, "create column file")
	}
	defer f.Close()

	w := parquet.NewGenericWriter[batch.Row](f)
	if _, err := w.WriteRowGroup(buf); err != nil {
		return "", errors.Wrap(errors.Storage, err, "write parquet row group")
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrap(errors.Storage, err, "close parquet writer")
	}
	return path, nil
}

// files returns every column file under table's directory, sorted
// ascending by filename (and therefore by write time, since names are
// nanosecond timestamps).
func (r *ROS) files(table string) ([]string, error) {
	dir := r.tableDir(table)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "list table dir")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(names)
	return names, nil
}

func readFile(path string) ([]batch.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "open column file")
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "stat column file")
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "open parquet file")
	}
	reader := parquet.NewGenericReader[batch.Row](f, pf.Schema())
	defer reader.Close()

	rows := make([]batch.Row, stat.Size()) // upper-bound capacity hint, trimmed below
	rows = rows[:0]
	buf := make([]batch.Row, 256)
	for {
		n, err := reader.Read(buf)
		rows = append(rows, buf[:n]...)
		if err != nil {
			break
		}
	}
	return rows, nil
}

// Scan reads every file under table and returns rows whose key falls in
// r: files in write order, and rows within a file in the order Write
// stored them. It neither sorts by key nor removes keys repeated across
// files.
func (r *ROS) Scan(table string, rg tier.Range) ([]tier.Entry, error) {
	files, err := r.files(table)
	if err != nil {
		return nil, err
	}
	out := make([]tier.Entry, 0)
	for _, path := range files {
		rows, err := readFile(path)
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if rg.Contains(row.Key) {
				out = append(out, tier.Entry{Key: row.Key, Value: row.Value})
			}
		}
	}
	return out, nil
}

// TableNames returns every table directory present under the ROS root.
func (r *ROS) TableNames() ([]string, error) {
	entries, err := os.ReadDir(r.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.Storage, err, "list ros root")
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
