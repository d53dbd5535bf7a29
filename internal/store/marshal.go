package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/caps/internal/ir"
)

// marshalArgs encodes an argument list as JSON TEXT.
// Reals are already bit patterns, so the encoding is exact.
func marshalArgs(args []ir.Arg) (string, error) {
	if args == nil {
		args = []ir.Arg{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "", fmt.Errorf("marshal args: %w", err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}

// unmarshalArgs decodes JSON TEXT produced by marshalArgs.
// Returns an empty slice (not nil) for an empty list.
func unmarshalArgs(data string) ([]ir.Arg, error) {
	args := []ir.Arg{}
	if data == "" || data == "[]" {
		return args, nil
	}
	if err := json.Unmarshal([]byte(data), &args); err != nil {
		return nil, fmt.Errorf("unmarshal args: %w", err)
	}
	return args, nil
}
