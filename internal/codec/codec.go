// Package codec implements the serdes layer: encoding and decoding between
// raw artefact bytes and the structured values operations exchange.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/aspuru-guzik-group/funsies-sub000/internal/ferrors"
)

// Kind is the declared encoding of an artefact or a funsie input/output
// slot. It is part of the funsie hash's canonical string, so it must not
// change once assigned.
type Kind string

const (
	Blob Kind = "blob"
	JSON Kind = "json"
)

// Value is the tagged union that flows through the engine once bytes have
// been decoded: either raw bytes (blob) or a parsed JSON value.
type Value struct {
	Kind  Kind
	Bytes []byte      // set when Kind == Blob
	JSON  interface{} // set when Kind == JSON
}

// Bytes wraps raw bytes as a blob-kind value.
func Bytes(b []byte) Value { return Value{Kind: Blob, Bytes: b} }

// Any wraps an arbitrary Go value as a json-kind value.
func Any(v interface{}) Value { return Value{Kind: JSON, JSON: v} }

// Encode turns a Value into the bytes stored under an artefact's data key.
// The Value's Kind must match the declared kind, or WrongType is returned.
func Encode(declared Kind, v Value) ([]byte, *ferrors.Error) {
	if v.Kind != declared {
		e := ferrors.New(ferrors.WrongType, fmt.Sprintf("expected %s, got %s", declared, v.Kind))
		return nil, &e
	}
	switch declared {
	case Blob:
		return v.Bytes, nil
	case JSON:
		b, err := json.Marshal(v.JSON)
		if err != nil {
			e := ferrors.New(ferrors.JSONEncodingError, err.Error())
			return nil, &e
		}
		return b, nil
	default:
		e := ferrors.New(ferrors.UnknownEncoding, string(declared))
		return nil, &e
	}
}

// Decode turns raw bytes back into a Value according to the declared kind.
func Decode(declared Kind, raw []byte) (Value, *ferrors.Error) {
	switch declared {
	case Blob:
		return Bytes(raw), nil
	case JSON:
		var v interface{}
		if err := json.Unmarshal(raw, &v); err != nil {
			e := ferrors.New(ferrors.JSONDecodingError, err.Error())
			return Value{}, &e
		}
		return Any(v), nil
	default:
		e := ferrors.New(ferrors.UnknownEncoding, string(declared))
		return Value{}, &e
	}
}

// Valid reports whether k is a known encoding kind.
func Valid(k Kind) bool {
	return k == Blob || k == JSON
}
