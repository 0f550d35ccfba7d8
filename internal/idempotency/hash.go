package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// HashKey returns the hex sha256 of the client key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// HashBody returns the hex sha256 of the canonical form of body.
func HashBody(body []byte) string {
	sum := sha256.Sum256(Canonicalize(body))
	return hex.EncodeToString(sum[:])
}

// Canonicalize re-encodes a JSON document with sorted object keys and no
// insignificant whitespace. Numbers keep their literal form. Anything that is
// not valid JSON is returned trimmed but otherwise untouched.
func Canonicalize(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil || dec.More() {
		return trimmed
	}
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}
