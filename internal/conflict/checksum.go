package conflict

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
)

// Checksum is a 32-bit FNV-1a hash of the canonical JSON form of data, so
// values that differ only in object key order or whitespace hash equal.
func Checksum(data json.RawMessage) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(canonical(data))
	return h.Sum32()
}

func canonical(data json.RawMessage) []byte {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return bytes.TrimSpace(data)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return bytes.TrimSpace(data)
	}
	return out
}

// kind is the JSON value type of data.
type kind string

const (
	kindObject  kind = "object"
	kindArray   kind = "array"
	kindString  kind = "string"
	kindNumber  kind = "number"
	kindBool    kind = "boolean"
	kindNull    kind = "null"
	kindInvalid kind = "invalid"
)

func kindOf(data json.RawMessage) kind {
	b := bytes.TrimSpace(data)
	if len(b) == 0 {
		return kindInvalid
	}
	switch b[0] {
	case '{':
		return kindObject
	case '[':
		return kindArray
	case '"':
		return kindString
	case 't', 'f':
		return kindBool
	case 'n':
		return kindNull
	default:
		return kindNumber
	}
}
