package boltstore

import (
	"bytes"
	"encoding/gob"
)

// encodeVars serializes a variable map to bytes using gob.
func encodeVars(vars map[string]string) ([]byte, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(vars); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeVars deserializes bytes back into a variable map.
func decodeVars(data []byte) (map[string]string, error) {
	vars := map[string]string{}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&vars); err != nil {
		return nil, err
	}
	return vars, nil
}
