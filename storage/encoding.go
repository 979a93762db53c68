package storage

import (
	"bytes"
	"encoding/gob"

	"github.com/pkg/errors"
)

// wireRecord is Record's on-disk shape. Ballot.ProposerID (a uuid.UUID,
// itself a [16]byte array) and OptValue round-trip through gob without
// help; it is an alias of Record, kept as a separate name so a future
// format change doesn't need to touch Record's exported shape.
type wireRecord = Record

func encodeRecord(r Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wireRecord(r)); err != nil {
		return nil, errors.Wrap(err, "encode record")
	}
	return buf.Bytes(), nil
}

func decodeRecord(data []byte) (Record, error) {
	var r wireRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&r); err != nil {
		return Record{}, errors.Wrap(err, "decode record")
	}
	return Record(r), nil
}
