package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// PayloadHash returns the canonical digest of a structured payload, in the
// form "sha256:<hex>". Payloads are decoded into map[string]any before
// hashing, and encoding/json emits map keys in sorted order, so the digest
// is stable across field ordering on the wire.
func PayloadHash(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payloads originate from json.Unmarshal and always re-encode.
		return "sha256:unhashable"
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
