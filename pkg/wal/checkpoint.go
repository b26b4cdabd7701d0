package wal

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vela-db/vela/pkg/errors"
)

// WriteCheckpoint records lsn as the stable replay starting point,
// atomically (write to a temp file, then rename) the way the teacher's
// own CheckpointManager persists checkpoints — a crash mid-write can
// never leave a partially-written checkpoint file visible under the
// final name.
func WriteCheckpoint(dir string, lsn uint64) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(errors.CheckpointFailed, err, "create checkpoint dir")
	}
	final := filepath.Join(dir, fmt.Sprintf("checkpoint_%020d.chk", lsn))
	tmp := final + ".tmp"

	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, lsn)
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return "", errors.Wrap(errors.CheckpointFailed, err, "write temp checkpoint file")
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", errors.Wrap(errors.CheckpointFailed, err, "rename checkpoint file into place")
	}
	return final, nil
}

// LatestCheckpoint returns the highest LSN recorded by any checkpoint
// file in dir, or (0, false) if none exist.
func LatestCheckpoint(dir string) (uint64, bool, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errors.Wrap(errors.CheckpointFailed, err, "list checkpoint dir")
	}

	var best uint64
	found := false
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".chk" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil || len(data) < 8 {
			continue
		}
		lsn := binary.BigEndian.Uint64(data)
		if !found || lsn > best {
			best, found = lsn, true
		}
	}
	return best, found, nil
}
