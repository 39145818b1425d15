// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the record encoding for the local encrypted store.
//
// JSON is what goes over the wire to the homeserver and into the
// credentials file. Records inside the store (sync tokens, the joined
// room set, device keys, trust records) are CBOR with Core
// Deterministic Encoding (RFC 8949 §4.2), so the same record always
// produces the same plaintext before it is sealed.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	options := cbor.CoreDetEncOptions()
	// ref.RoomID and friends have only unexported fields; encode them
	// through MarshalText so they survive as strings.
	options.TextMarshaler = cbor.TextMarshalerTextString
	var err error
	encMode, err = options.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Unknown fields are ignored so older
// binaries can read records written by newer ones.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
