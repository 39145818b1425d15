// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package verification

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// canonicalJSON re-encodes a JSON value with object keys sorted, no
// insignificant whitespace and no HTML escaping, which is the form
// Matrix signs and hashes. Numbers are kept as written.
func canonicalJSON(raw []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("decoding JSON: %w", err)
	}
	return encodeCanonical(value)
}

// encodeCanonical encodes a decoded JSON value. encoding/json already
// sorts map keys.
func encodeCanonical(value any) ([]byte, error) {
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, fmt.Errorf("encoding canonical JSON: %w", err)
	}
	return bytes.TrimSuffix(buffer.Bytes(), []byte("\n")), nil
}

// signableJSON returns the canonical form of a JSON object without its
// signatures and unsigned fields.
func signableJSON(raw []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var object map[string]any
	if err := decoder.Decode(&object); err != nil {
		return nil, fmt.Errorf("decoding JSON object: %w", err)
	}
	delete(object, "signatures")
	delete(object, "unsigned")
	return encodeCanonical(object)
}
