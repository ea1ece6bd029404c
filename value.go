package provlog

import "fmt"

// ValueKind discriminates the wire form of a Value.
type ValueKind uint64

// Value wire ids. These are canonical and never renumbered.
const (
	ValueNil ValueKind = iota
	ValueStr
	ValueData
)

// Value is what a key-path maps to in the virtual key-value store:
// nothing, printable text, or opaque bytes. The zero Value is nil.
type Value struct {
	Kind ValueKind
	Str  string
	Data []byte
}

// NilValue returns the nil Value.
func NilValue() Value { return Value{Kind: ValueNil} }

// StrValue wraps a text value.
func StrValue(s string) Value { return Value{Kind: ValueStr, Str: s} }

// DataValue wraps a binary value.
func DataValue(b []byte) Value { return Value{Kind: ValueData, Data: b} }

// Bytes returns the raw payload regardless of kind: nil for nil values,
// the UTF-8 bytes of text values, the data itself otherwise. Checks
// compare values through this view.
func (v Value) Bytes() []byte {
	switch v.Kind {
	case ValueStr:
		return []byte(v.Str)
	case ValueData:
		return v.Data
	}
	return nil
}

// Equal compares kind and payload.
func (v Value) Equal(other Value) bool {
	return v.Kind == other.Kind && string(v.Bytes()) == string(other.Bytes())
}

func (v Value) String() string {
	switch v.Kind {
	case ValueNil:
		return "nil"
	case ValueStr:
		return fmt.Sprintf("str(%q)", v.Str)
	default:
		return fmt.Sprintf("data(%d bytes)", len(v.Data))
	}
}
