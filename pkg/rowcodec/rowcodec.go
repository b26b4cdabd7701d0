// Package rowcodec encodes and decodes table rows stored as the opaque
// value bytes behind a tier.Backend entry. Rows are encoded as JSON
// objects keyed by column name, the same representation the database
// façade's JSON snapshot (spec.md §4.11 save_to_file/load_from_file)
// already commits to, so one codec serves both the row store and the
// snapshot format.
package rowcodec

import (
	"encoding/json"

	"github.com/vela-db/vela/pkg/errors"
)

// Row is a single decoded table row keyed by column name.
type Row map[string]any

// Encode serializes row to its stored byte representation.
func Encode(row Row) ([]byte, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, errors.Wrap(errors.Serialization, err, "encode row")
	}
	return data, nil
}

// Decode parses a stored value back into a Row.
func Decode(data []byte) (Row, error) {
	var row Row
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, errors.Wrap(errors.Serialization, err, "decode row")
	}
	return row, nil
}
