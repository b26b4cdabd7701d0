// Package wal implements the write-ahead log and crash recovery
// (spec.md §4.9): append, group-commit, replay, and optional AEAD.
// Framing follows the teacher's own explicit encoding/binary header
// style (pkg/wal/entry.go in the original storage engine), generalized
// here to the record-variant tagged union and big-endian length-prefix
// framing spec.md §6 specifies: len:u32_be ∥ payload ∥ crc32:u32_be.
package wal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/vela-db/vela/pkg/errors"
)

// RecordType tags which variant a Record payload decodes as.
type RecordType uint8

const (
	RecordInsert RecordType = iota + 1
	RecordDelete
	RecordCommit
	RecordCheckpoint
	RecordSchemaDDL
	RecordIndexDDL
)

// Record is one WAL entry: a tagged union carrying table name, key/value
// bytes where applicable, and a commit timestamp (spec.md §3).
type Record struct {
	Type     RecordType
	Table    string
	Key      []byte
	Value    []byte // nil for Delete/tombstone
	CommitTs uint64
	// LSN (checkpoint trim point) is only meaningful for RecordCheckpoint.
	LSN uint64
}

// Encode serializes a Record's payload (not including the outer length
// prefix or trailing CRC32, which Frame adds).
func Encode(r Record) []byte {
	tableBytes := []byte(r.Table)
	size := 1 + 8 + 8 + // type + commitTs + LSN
		4 + len(tableBytes) +
		4 + len(r.Key) +
		4 + len(r.Value)
	buf := make([]byte, size)
	off := 0
	buf[off] = byte(r.Type)
	off++
	binary.BigEndian.PutUint64(buf[off:], r.CommitTs)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], r.LSN)
	off += 8
	off = putBytes(buf, off, tableBytes)
	off = putBytes(buf, off, r.Key)
	off = putBytes(buf, off, r.Value)
	return buf[:off]
}

func putBytes(buf []byte, off int, b []byte) int {
	binary.BigEndian.PutUint32(buf[off:], uint32(len(b)))
	off += 4
	copy(buf[off:], b)
	return off + len(b)
}

// Decode parses a Record payload produced by Encode.
func Decode(payload []byte) (Record, error) {
	var r Record
	if len(payload) < 1+8+8 {
		return r, errors.New(errors.Serialization, "wal record payload too short")
	}
	off := 0
	r.Type = RecordType(payload[off])
	off++
	r.CommitTs = binary.BigEndian.Uint64(payload[off:])
	off += 8
	r.LSN = binary.BigEndian.Uint64(payload[off:])
	off += 8

	table, off, err := getBytes(payload, off)
	if err != nil {
		return r, err
	}
	r.Table = string(table)

	key, off, err := getBytes(payload, off)
	if err != nil {
		return r, err
	}
	r.Key = key

	value, _, err := getBytes(payload, off)
	if err != nil {
		return r, err
	}
	if len(value) > 0 || r.Type != RecordDelete {
		r.Value = value
	}
	return r, nil
}

func getBytes(buf []byte, off int) ([]byte, int, error) {
	if off+4 > len(buf) {
		return nil, off, errors.New(errors.Serialization, "wal record truncated length prefix")
	}
	n := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4
	if off+n > len(buf) {
		return nil, off, errors.New(errors.Serialization, "wal record truncated field")
	}
	return buf[off : off+n], off + n, nil
}

// Frame serializes a full on-disk record: len:u32_be ∥ payload ∥
// crc32:u32_be of the payload.
func Frame(r Record) []byte {
	return frameBytes(Encode(r))
}

// frameBytes applies the len/crc32 outer framing to an arbitrary payload
// (used both for plain Encode output and for AEAD-wrapped payloads).
func frameBytes(payload []byte) []byte {
	out := make([]byte, 4+len(payload)+4)
	binary.BigEndian.PutUint32(out, uint32(len(payload)))
	copy(out[4:], payload)
	binary.BigEndian.PutUint32(out[4+len(payload):], crc32.ChecksumIEEE(payload))
	return out
}

// splitFrame reads one frame's length/crc envelope without decoding the
// payload as a Record — used when the payload is itself an AEAD
// envelope that must be opened before Decode can run.
func splitFrame(buf []byte) ([]byte, int, error) {
	if len(buf) < 4 {
		return nil, 0, errors.New(errors.Wal, "truncated frame: missing length prefix")
	}
	payloadLen := int(binary.BigEndian.Uint32(buf))
	total := 4 + payloadLen + 4
	if len(buf) < total {
		return nil, 0, errors.New(errors.Wal, "truncated frame: missing payload or checksum")
	}
	payload := buf[4 : 4+payloadLen]
	wantCRC := binary.BigEndian.Uint32(buf[4+payloadLen : total])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return nil, total, errors.New(errors.Wal, "frame failed CRC32 verification")
	}
	return payload, total, nil
}

// ParseFrame reads one frame starting at the beginning of buf, returning
// the decoded Record, the number of bytes consumed, and an error if the
// frame is truncated or fails its CRC check.
func ParseFrame(buf []byte) (Record, int, error) {
	if len(buf) < 4 {
		return Record{}, 0, errors.New(errors.Wal, "truncated frame: missing length prefix")
	}
	payloadLen := int(binary.BigEndian.Uint32(buf))
	total := 4 + payloadLen + 4
	if len(buf) < total {
		return Record{}, 0, errors.New(errors.Wal, "truncated frame: missing payload or checksum")
	}
	payload := buf[4 : 4+payloadLen]
	wantCRC := binary.BigEndian.Uint32(buf[4+payloadLen : total])
	if crc32.ChecksumIEEE(payload) != wantCRC {
		return Record{}, total, errors.New(errors.Wal, "frame failed CRC32 verification")
	}
	r, err := Decode(payload)
	if err != nil {
		return Record{}, total, err
	}
	return r, total, nil
}
