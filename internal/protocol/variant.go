// Package protocol implements the line-oriented wire protocol used on the
// add-on stdio boundary: a tokenizer/serializer for whitespace-separated,
// quoted-string tokens, and the typed Request/Response/Variant model built
// on top of it.
package protocol

import (
	"fmt"
	"strconv"
)

// Kind tags the type carried by a Variant.
type Kind int

const (
	KindUndefined Kind = iota
	KindBool
	KindString
	KindFloat32
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindFloat32:
		return "float32"
	case KindInt64:
		return "int64"
	default:
		return "undefined"
	}
}

// Variant is a tagged union of {undefined, bool, string, float32, int64}.
// It is a value type: copying a Variant copies its value.
type Variant struct {
	kind Kind
	b    bool
	s    string
	f    float32
	i    int64
}

// Undefined is the zero Variant.
var Undefined = Variant{kind: KindUndefined}

func BoolVariant(v bool) Variant    { return Variant{kind: KindBool, b: v} }
func StringVariant(v string) Variant { return Variant{kind: KindString, s: v} }
func Float32Variant(v float32) Variant { return Variant{kind: KindFloat32, f: v} }
func Int64Variant(v int64) Variant  { return Variant{kind: KindInt64, i: v} }

func (v Variant) Kind() Kind { return v.kind }

func (v Variant) Bool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Variant) String() string           { return v.s }
func (v Variant) Str() (string, bool)      { return v.s, v.kind == KindString }
func (v Variant) Float32() (float32, bool) { return v.f, v.kind == KindFloat32 }
func (v Variant) Int64() (int64, bool)     { return v.i, v.kind == KindInt64 }

// Equal reports whether two Variants have the same kind and value.
func (v Variant) Equal(other Variant) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindString:
		return v.s == other.s
	case KindFloat32:
		return v.f == other.f
	case KindInt64:
		return v.i == other.i
	default:
		return true
	}
}

// Encode renders v as a wire token (unquoted for non-strings, quoted+escaped
// for strings). It never fails: encoding is total over every constructible
// Variant.
func (v Variant) Encode() string {
	switch v.kind {
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindString:
		return quoteString(v.s)
	case KindFloat32:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case KindInt64:
		return strconv.FormatInt(v.i, 10)
	default:
		return "undefined"
	}
}

// ParseVariant parses token text as the given declared Kind. It fails if
// the text doesn't match the declared type (spec §3 Variant).
func ParseVariant(kind Kind, token string) (Variant, error) {
	switch kind {
	case KindBool:
		b, ok := parseBoolToken(token)
		if !ok {
			return Variant{}, fmt.Errorf("protocol: %q is not a valid bool", token)
		}
		return BoolVariant(b), nil
	case KindString:
		return StringVariant(token), nil
	case KindFloat32:
		f, err := strconv.ParseFloat(token, 32)
		if err != nil {
			return Variant{}, fmt.Errorf("protocol: %q is not a valid float: %w", token, err)
		}
		return Float32Variant(float32(f)), nil
	case KindInt64:
		i, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return Variant{}, fmt.Errorf("protocol: %q is not a valid int64: %w", token, err)
		}
		return Int64Variant(i), nil
	default:
		return Variant{}, fmt.Errorf("protocol: unknown declared type for token %q", token)
	}
}

// parseBoolToken accepts the decode-time spellings from spec §6.1:
// true/false plus 1/0/on/off.
func parseBoolToken(token string) (bool, bool) {
	switch token {
	case "true", "1", "on":
		return true, true
	case "false", "0", "off":
		return false, true
	default:
		return false, false
	}
}
