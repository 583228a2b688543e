// Package json wraps the project-wide JSON codec so callers never import
// encoding/json or sonic directly.
package json

import (
	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

// RawMessage is a raw encoded JSON value. Aliased so callers interoperate
// with libraries that expect the standard type.
type RawMessage = stdjson.RawMessage

func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return sonic.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

func Valid(data []byte) bool {
	return sonic.Valid(data)
}
