// Package codec serializes objects staged for upload and decodes downloaded
// artifacts.
//
// Encoded artifacts use a versioned envelope:
//
//	offset  size  field
//	0       4     magic "MLRC"
//	4       1     format version (currently 1)
//	5       32    BLAKE3-256 digest of the payload
//	37      n     payload, JSON
//
// Decoding is two-tiered. Bytes that are a valid envelope decode to a
// structured value; anything else is returned as UTF-8 text when possible.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/zeebo/blake3"
)

const (
	Version    byte = 1
	magic           = "MLRC"
	digestSize      = 32
	headerSize      = len(magic) + 1 + digestSize
)

var (
	// ErrSerialization is returned when a value cannot be encoded.
	ErrSerialization = errors.New("serialization failed")
	// ErrUndecodable is returned when bytes are neither a valid envelope nor UTF-8 text.
	ErrUndecodable = errors.New("artifact is neither structured nor UTF-8 text")

	errNotEnvelope = errors.New("missing envelope header")
)

// Kind tags how a Result was decoded.
type Kind int

const (
	KindBinary Kind = iota + 1
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindBinary:
		return "binary"
	case KindText:
		return "text"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is the outcome of Decode. Value holds the decoded object for
// KindBinary and a string for KindText. Raw keeps the payload bytes.
type Result struct {
	Kind  Kind
	Value any
	Raw   []byte
}

// Text returns the value as a string when the result is text.
func (r Result) Text() (string, bool) {
	s, ok := r.Value.(string)
	return s, ok && r.Kind == KindText
}

// Into decodes a structured result into dst. Text results are assigned
// only when dst is a *string.
func (r Result) Into(dst any) error {
	switch r.Kind {
	case KindBinary:
		if err := json.Unmarshal(r.Raw, dst); err != nil {
			return fmt.Errorf("decode into %T: %w", dst, err)
		}
		return nil
	case KindText:
		s, ok := dst.(*string)
		if !ok {
			return fmt.Errorf("text artifact cannot be decoded into %T", dst)
		}
		*s = r.Value.(string)
		return nil
	default:
		return fmt.Errorf("empty result")
	}
}

// Encode wraps the JSON form of v in the envelope.
func Encode(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %T: %v", ErrSerialization, v, err)
	}

	digest := blake3.Sum256(payload)

	buf := make([]byte, 0, headerSize+len(payload))
	buf = append(buf, magic...)
	buf = append(buf, Version)
	buf = append(buf, digest[:]...)
	buf = append(buf, payload...)
	return buf, nil
}

// Decode applies the structured decoder first and falls back to text.
func Decode(data []byte) (Result, error) {
	value, payload, err := decodeEnvelope(data)
	if err == nil {
		return Result{Kind: KindBinary, Value: value, Raw: payload}, nil
	}

	if !utf8.Valid(data) {
		return Result{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	return Result{Kind: KindText, Value: string(data), Raw: data}, nil
}

// IsEnvelope reports whether data starts with the envelope magic.
func IsEnvelope(data []byte) bool {
	return bytes.HasPrefix(data, []byte(magic))
}

// Normalize returns v the way Decode would return it after Encode, so
// callers can compare round-tripped values.
func Normalize(v any) (any, error) {
	data, err := Encode(v)
	if err != nil {
		return nil, err
	}
	res, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return res.Value, nil
}

func decodeEnvelope(data []byte) (any, []byte, error) {
	if len(data) < headerSize || !IsEnvelope(data) {
		return nil, nil, errNotEnvelope
	}

	version := data[len(magic)]
	if version != Version {
		return nil, nil, fmt.Errorf("unsupported envelope version %d", version)
	}

	digest := data[len(magic)+1 : headerSize]
	payload := data[headerSize:]
	sum := blake3.Sum256(payload)
	if !bytes.Equal(digest, sum[:]) {
		return nil, nil, fmt.Errorf("payload digest mismatch")
	}

	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return nil, nil, fmt.Errorf("malformed payload: %w", err)
	}
	return value, payload, nil
}
