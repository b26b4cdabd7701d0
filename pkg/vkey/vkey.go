// Package vkey encodes the versioned keys the in-memory Delta tier's
// B+Tree sorts by:
// a user key followed by a bit-inverted, big-endian commit timestamp.
//
// Inverting the timestamp bits before appending it means a plain
// lexicographic (memcmp) sort over the encoded bytes yields, for a fixed
// user key, newest-commit-first ordering — exactly what a snapshot read
// wants when it seeks to a key and walks forward looking for the first
// version visible to it.
package vkey

import (
	"encoding/binary"

	"github.com/vela-db/vela/pkg/errors"
)

// tsLen is the width of the encoded commit-timestamp suffix.
const tsLen = 8

// Key is an encoded (user key, commit timestamp) pair, used as the
// B+Tree key in the in-memory Delta tier. The WOS and ROS tiers store
// plain user keys, not Keys.
type Key []byte

// Encode appends the bit-inverted, big-endian encoding of ts to userKey,
// producing a new Key. The caller's userKey slice is never mutated.
func Encode(userKey []byte, ts uint64) Key {
	out := make([]byte, len(userKey)+tsLen)
	copy(out, userKey)
	binary.BigEndian.PutUint64(out[len(userKey):], ^ts)
	return out
}

// Decode splits an encoded Key back into its user key and commit timestamp.
func Decode(k Key) (userKey []byte, ts uint64, err error) {
	if len(k) < tsLen {
		return nil, 0, errors.Newf(errors.Serialization, "vkey: encoded key too short: %d bytes", len(k))
	}
	split := len(k) - tsLen
	userKey = k[:split]
	ts = ^binary.BigEndian.Uint64(k[split:])
	return userKey, ts, nil
}

// UserKey returns just the user-key prefix of an encoded Key, without
// validating or decoding the timestamp suffix.
func UserKey(k Key) []byte {
	if len(k) < tsLen {
		return k
	}
	return k[:len(k)-tsLen]
}

// Timestamp returns just the commit timestamp of an encoded Key.
func Timestamp(k Key) (uint64, error) {
	if len(k) < tsLen {
		return 0, errors.Newf(errors.Serialization, "vkey: encoded key too short: %d bytes", len(k))
	}
	return ^binary.BigEndian.Uint64(k[len(k)-tsLen:]), nil
}

// PrefixUpperBound returns the smallest Key strictly greater than every Key
// with the given user-key prefix, suitable as an exclusive range-scan
// upper bound. It returns nil if userKey is all 0xff bytes (no upper bound
// exists short of scanning to the end of the keyspace).
func PrefixUpperBound(userKey []byte) []byte {
	out := make([]byte, len(userKey))
	copy(out, userKey)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// SeekKey builds the encoded Key a snapshot read at readTs should seek to
// in order to land on (or just after) the newest version of userKey that
// could be visible to it: the inverted-timestamp encoding means
// Encode(userKey, readTs) sorts at-or-before every version committed at or
// before readTs, and after every version committed strictly after it.
func SeekKey(userKey []byte, readTs uint64) Key {
	return Encode(userKey, readTs)
}
