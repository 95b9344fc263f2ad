package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return defaultConfig.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}

func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

// Convert re-encodes src into dst. Handlers use it to turn loosely typed wire
// values (map[string]any, []any, float64) into their declared Go types.
func Convert(src any, dst any) error {
	data, err := Marshal(src)
	if err != nil {
		return err
	}
	return Unmarshal(data, dst)
}

// Normalize returns the generic JSON form of v: maps, slices, strings,
// float64, bool or nil.
func Normalize(v any) (any, error) {
	var out any
	if err := Convert(v, &out); err != nil {
		return nil, err
	}
	return out, nil
}
