package ir

import (
	"fmt"
	"hash/crc32"
	"math"
)

// ArgTag is the type tag of one journal argument.
type ArgTag string

const (
	TagInt    ArgTag = "int"
	TagReal   ArgTag = "real"
	TagString ArgTag = "string"
	TagRef    ArgTag = "ref"
	TagRefs   ArgTag = "refs"
	TagArray  ArgTag = "array" // owned real array with explicit length
	TagOpaque ArgTag = "opaque"
	TagErrors ArgTag = "errors"
)

// Ref is an entity reference as stored in the journal.
// Layout-compatible with entity.Handle so the two convert directly.
type Ref struct {
	Index uint32 `json:"index"`
	Gen   uint32 `json:"gen"`
}

// ArgError is one entry of an error-list argument.
type ArgError struct {
	Code   string   `json:"code"`
	Entity string   `json:"entity,omitempty"`
	Lines  []string `json:"lines,omitempty"`
}

// Arg is a type-tagged journal argument. Only the fields of its tag are set.
// Reals are held as IEEE-754 bit patterns so replay is bit-for-bit.
type Arg struct {
	Tag    ArgTag     `json:"tag"`
	Int    int64      `json:"int,omitempty"`
	Real   uint64     `json:"real,omitempty"`
	Str    string     `json:"str,omitempty"`
	Ref    Ref        `json:"ref"`
	Refs   []Ref      `json:"refs,omitempty"`
	Len    int        `json:"len,omitempty"`
	Reals  []uint64   `json:"reals,omitempty"`
	Opaque []byte     `json:"opaque,omitempty"`
	Errors []ArgError `json:"errors,omitempty"`
}

// IntArg tags an integer.
func IntArg(n int64) Arg { return Arg{Tag: TagInt, Int: n} }

// RealArg tags a real.
func RealArg(f float64) Arg { return Arg{Tag: TagReal, Real: math.Float64bits(f)} }

// StringArg tags a string.
func StringArg(s string) Arg { return Arg{Tag: TagString, Str: s} }

// RefArg tags an entity reference.
func RefArg(r Ref) Arg { return Arg{Tag: TagRef, Ref: r} }

// RefsArg tags an array of entity references.
func RefsArg(rs []Ref) Arg { return Arg{Tag: TagRefs, Refs: append([]Ref{}, rs...)} }

// ArrayArg tags an owned real array, recording its length.
func ArrayArg(fs []float64) Arg {
	bits := make([]uint64, len(fs))
	for i, f := range fs {
		bits[i] = math.Float64bits(f)
	}
	return Arg{Tag: TagArray, Len: len(fs), Reals: bits}
}

// OpaqueArg tags a blob the journal does not interpret.
func OpaqueArg(b []byte) Arg { return Arg{Tag: TagOpaque, Opaque: append([]byte{}, b...)} }

// ErrorsArg tags an error list.
func ErrorsArg(es []ArgError) Arg { return Arg{Tag: TagErrors, Errors: append([]ArgError{}, es...)} }

// Validate checks the tag and, for arrays, the recorded length.
func (a Arg) Validate() error {
	switch a.Tag {
	case TagInt, TagReal, TagString, TagRef, TagRefs, TagOpaque, TagErrors:
		return nil
	case TagArray:
		if a.Len != len(a.Reals) {
			return fmt.Errorf("array length %d does not match %d elements", a.Len, len(a.Reals))
		}
		return nil
	default:
		return fmt.Errorf("unknown argument tag %q", a.Tag)
	}
}

// AsInt returns the integer payload.
func (a Arg) AsInt() (int64, error) {
	if a.Tag != TagInt {
		return 0, fmt.Errorf("argument is %s, want %s", a.Tag, TagInt)
	}
	return a.Int, nil
}

// AsReal returns the real payload.
func (a Arg) AsReal() (float64, error) {
	if a.Tag != TagReal {
		return 0, fmt.Errorf("argument is %s, want %s", a.Tag, TagReal)
	}
	return math.Float64frombits(a.Real), nil
}

// AsString returns the string payload.
func (a Arg) AsString() (string, error) {
	if a.Tag != TagString {
		return "", fmt.Errorf("argument is %s, want %s", a.Tag, TagString)
	}
	return a.Str, nil
}

// AsRef returns the reference payload.
func (a Arg) AsRef() (Ref, error) {
	if a.Tag != TagRef {
		return Ref{}, fmt.Errorf("argument is %s, want %s", a.Tag, TagRef)
	}
	return a.Ref, nil
}

// AsRefs returns the reference array payload.
func (a Arg) AsRefs() ([]Ref, error) {
	if a.Tag != TagRefs {
		return nil, fmt.Errorf("argument is %s, want %s", a.Tag, TagRefs)
	}
	return append([]Ref{}, a.Refs...), nil
}

// AsArray returns the real array payload.
func (a Arg) AsArray() ([]float64, error) {
	if a.Tag != TagArray {
		return nil, fmt.Errorf("argument is %s, want %s", a.Tag, TagArray)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	out := make([]float64, len(a.Reals))
	for i, b := range a.Reals {
		out[i] = math.Float64frombits(b)
	}
	return out, nil
}

// AsOpaque returns the blob payload.
func (a Arg) AsOpaque() ([]byte, error) {
	if a.Tag != TagOpaque {
		return nil, fmt.Errorf("argument is %s, want %s", a.Tag, TagOpaque)
	}
	return a.Opaque, nil
}

// AsErrors returns the error list payload.
func (a Arg) AsErrors() ([]ArgError, error) {
	if a.Tag != TagErrors {
		return nil, fmt.Errorf("argument is %s, want %s", a.Tag, TagErrors)
	}
	return a.Errors, nil
}

// ToIR converts the argument to canonical content.
func (a Arg) ToIR() IRValue {
	obj := IRObject{"tag": IRString(a.Tag)}
	switch a.Tag {
	case TagInt:
		obj["v"] = IRInt(a.Int)
	case TagReal:
		obj["v"] = IRInt(int64(a.Real))
	case TagString:
		obj["v"] = IRString(a.Str)
	case TagRef:
		obj["v"] = refIR(a.Ref)
	case TagRefs:
		arr := make(IRArray, len(a.Refs))
		for i, r := range a.Refs {
			arr[i] = refIR(r)
		}
		obj["v"] = arr
	case TagArray:
		arr := make(IRArray, len(a.Reals))
		for i, b := range a.Reals {
			arr[i] = IRInt(int64(b))
		}
		obj["len"] = IRInt(a.Len)
		obj["v"] = arr
	case TagOpaque:
		obj["v"] = IRString(fmt.Sprintf("%x", a.Opaque))
	case TagErrors:
		arr := make(IRArray, len(a.Errors))
		for i, e := range a.Errors {
			arr[i] = IRObject{
				"code":   IRString(e.Code),
				"entity": IRString(e.Entity),
				"lines":  stringArray(e.Lines),
			}
		}
		obj["v"] = arr
	}
	return obj
}

func refIR(r Ref) IRValue {
	return IRArray{IRInt(r.Index), IRInt(r.Gen)}
}

// Record is one journal entry: the call key, its outcome and the clock
// window it spanned.
type Record struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	Op        int    `json:"op"`
	OpName    string `json:"op_name"`
	Entity    Ref    `json:"entity"`
	Ordinal   int64  `json:"ordinal"`
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Before    int64  `json:"s_num_before"`
	After     int64  `json:"s_num_after"`
	Inputs    []Arg  `json:"inputs"`
	Outputs   []Arg  `json:"outputs"`
	CRC       uint32 `json:"crc"`
}

// Body returns the canonical content of the record. The id, session and
// checksum are excluded so equal calls in different sessions share an id.
func (r *Record) Body() IRObject {
	return IRObject{
		"seq":          IRInt(r.Seq),
		"op":           IRInt(r.Op),
		"op_name":      IRString(r.OpName),
		"entity":       refIR(r.Entity),
		"ordinal":      IRInt(r.Ordinal),
		"status":       IRString(r.Status),
		"message":      IRString(r.Message),
		"s_num_before": IRInt(r.Before),
		"s_num_after":  IRInt(r.After),
		"inputs":       argsIR(r.Inputs),
		"outputs":      argsIR(r.Outputs),
	}
}

func argsIR(args []Arg) IRArray {
	arr := make(IRArray, len(args))
	for i, a := range args {
		arr[i] = a.ToIR()
	}
	return arr
}

// Checksum computes the CRC-32 (IEEE) of the canonical body.
func (r *Record) Checksum() (uint32, error) {
	canonical, err := MarshalCanonical(r.Body())
	if err != nil {
		return 0, fmt.Errorf("record checksum: %w", err)
	}
	return crc32.ChecksumIEEE(canonical), nil
}

// Seal fills in the content id and checksum.
func (r *Record) Seal() error {
	crc, err := r.Checksum()
	if err != nil {
		return err
	}
	id, err := RecordID(r.Body())
	if err != nil {
		return err
	}
	r.CRC = crc
	r.ID = id
	return nil
}

// Verify recomputes the checksum and validates every argument.
func (r *Record) Verify() error {
	for i, a := range r.Inputs {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("input %d: %w", i, err)
		}
	}
	for i, a := range r.Outputs {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	crc, err := r.Checksum()
	if err != nil {
		return err
	}
	if crc != r.CRC {
		return fmt.Errorf("checksum mismatch: stored %08x, computed %08x", r.CRC, crc)
	}
	return nil
}

// SessionInfo describes one journal session.
type SessionInfo struct {
	ID            string `json:"id"`
	Problem       string `json:"problem"`
	SpecHash      string `json:"spec_hash"`
	EngineVersion string `json:"engine_version"`
	IRVersion     string `json:"ir_version"`
}

// Checkpoint marks the journal position covered by a restart snapshot.
type Checkpoint struct {
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
	SNum      int64  `json:"s_num"`
	Hash      string `json:"hash"`
}

// ArgsEqual reports whether two argument lists have identical canonical
// content. Nil and empty lists are equal.
func ArgsEqual(a, b []Arg) bool {
	if len(a) != len(b) {
		return false
	}
	ca, err := MarshalCanonical(argsIR(a))
	if err != nil {
		return false
	}
	cb, err := MarshalCanonical(argsIR(b))
	if err != nil {
		return false
	}
	return string(ca) == string(cb)
}
