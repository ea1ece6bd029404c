package provlog

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"
)

// Multicodec sigils identifying the canonical encodings. Every encoded
// object opens with its sigil so the bytes are self-describing.
const (
	SigilVlad   uint64 = 0x1207
	SigilLog    uint64 = 0x1208
	SigilEntry  uint64 = 0x1209
	SigilScript uint64 = 0x120a
)

// The canonical codec: unsigned varints for integers and tags,
// length-prefixed byte strings ("varbytes") for everything variable,
// explicit counts before lists, fixed field order. Encoding the decode
// of valid bytes reproduces them exactly.

func appendUvarint(buf []byte, v uint64) []byte {
	return append(buf, varint.ToUvarint(v)...)
}

func readUvarint(data []byte) (uint64, []byte, error) {
	v, n, err := varint.FromUvarint(data)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return v, data[n:], nil
}

func appendVarbytes(buf, b []byte) []byte {
	buf = appendUvarint(buf, uint64(len(b)))
	return append(buf, b...)
}

func readVarbytes(data []byte) ([]byte, []byte, error) {
	n, rest, err := readUvarint(data)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < n {
		return nil, nil, fmt.Errorf("%w: byte string truncated", ErrMalformedEntry)
	}
	out := append([]byte(nil), rest[:n]...)
	return out, rest[n:], nil
}

func expectSigil(data []byte, sigil uint64) ([]byte, error) {
	got, rest, err := readUvarint(data)
	if err != nil {
		return nil, err
	}
	if got != sigil {
		return nil, fmt.Errorf("%w: sigil 0x%x, want 0x%x", ErrMalformedEntry, got, sigil)
	}
	return rest, nil
}

// appendCid writes a CID as a length-prefixed byte string. An undefined
// CID encodes as the empty string, which is how absent prev and lipmaa
// links are represented.
func appendCid(buf []byte, c cid.Cid) []byte {
	if !c.Defined() {
		return appendVarbytes(buf, nil)
	}
	return appendVarbytes(buf, c.Bytes())
}

// castCidBytes parses raw CID bytes, with empty meaning no link.
func castCidBytes(b []byte) (cid.Cid, error) {
	if len(b) == 0 {
		return cid.Undef, nil
	}
	c, err := cid.Cast(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return c, nil
}

func readCid(data []byte) (cid.Cid, []byte, error) {
	b, rest, err := readVarbytes(data)
	if err != nil {
		return cid.Undef, nil, err
	}
	if len(b) == 0 {
		return cid.Undef, rest, nil
	}
	c, err := cid.Cast(b)
	if err != nil {
		return cid.Undef, nil, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	return c, rest, nil
}

func appendKey(buf []byte, k Key) []byte {
	return appendVarbytes(buf, []byte(k.String()))
}

func readKey(data []byte) (Key, []byte, error) {
	b, rest, err := readVarbytes(data)
	if err != nil {
		return Key{}, nil, err
	}
	k, err := ParseKey(string(b))
	if err != nil {
		return Key{}, nil, err
	}
	return k, rest, nil
}

func appendValue(buf []byte, v Value) []byte {
	buf = appendUvarint(buf, uint64(v.Kind))
	switch v.Kind {
	case ValueNil:
		return buf
	case ValueStr:
		return appendVarbytes(buf, []byte(v.Str))
	default:
		return appendVarbytes(buf, v.Data)
	}
}

func readValue(data []byte) (Value, []byte, error) {
	kind, rest, err := readUvarint(data)
	if err != nil {
		return Value{}, nil, err
	}
	switch ValueKind(kind) {
	case ValueNil:
		return NilValue(), rest, nil
	case ValueStr:
		b, rest, err := readVarbytes(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return StrValue(string(b)), rest, nil
	case ValueData:
		b, rest, err := readVarbytes(rest)
		if err != nil {
			return Value{}, nil, err
		}
		return DataValue(b), rest, nil
	}
	return Value{}, nil, fmt.Errorf("%w: unknown value id %d", ErrMalformedEntry, kind)
}

func appendOp(buf []byte, o Op) []byte {
	buf = appendUvarint(buf, uint64(o.Kind))
	buf = appendKey(buf, o.Key)
	if o.Kind == OpUpdate {
		buf = appendValue(buf, o.Value)
	}
	return buf
}

func readOp(data []byte) (Op, []byte, error) {
	kind, rest, err := readUvarint(data)
	if err != nil {
		return Op{}, nil, err
	}
	k, rest, err := readKey(rest)
	if err != nil {
		return Op{}, nil, err
	}
	switch OpKind(kind) {
	case OpNoop:
		return Noop(k), rest, nil
	case OpDelete:
		return Delete(k), rest, nil
	case OpUpdate:
		v, rest, err := readValue(rest)
		if err != nil {
			return Op{}, nil, err
		}
		return Update(k, v), rest, nil
	}
	return Op{}, nil, fmt.Errorf("%w: unknown op id %d", ErrMalformedEntry, kind)
}

// Encode returns the canonical binary form of a script: the script
// sigil, the variant id, the bound key-path, then the body.
func (s Script) Encode() []byte {
	buf := appendUvarint(nil, SigilScript)
	buf = appendUvarint(buf, uint64(s.Kind))
	buf = appendKey(buf, s.Key)
	switch s.Kind {
	case ScriptBin:
		return appendVarbytes(buf, s.Bin)
	case ScriptCode:
		return appendVarbytes(buf, []byte(s.Code))
	default:
		return appendCid(buf, s.Cid)
	}
}

// DecodeScript parses the canonical binary form of a script.
func DecodeScript(data []byte) (Script, []byte, error) {
	rest, err := expectSigil(data, SigilScript)
	if err != nil {
		return Script{}, nil, fmt.Errorf("script: %w", err)
	}
	kind, rest, err := readUvarint(rest)
	if err != nil {
		return Script{}, nil, err
	}
	k, rest, err := readKey(rest)
	if err != nil {
		return Script{}, nil, err
	}
	switch ScriptKind(kind) {
	case ScriptBin:
		b, rest, err := readVarbytes(rest)
		if err != nil {
			return Script{}, nil, err
		}
		return BinScript(k, b), rest, nil
	case ScriptCode:
		b, rest, err := readVarbytes(rest)
		if err != nil {
			return Script{}, nil, err
		}
		return CodeScript(k, string(b)), rest, nil
	case ScriptCid:
		c, rest, err := readCid(rest)
		if err != nil {
			return Script{}, nil, err
		}
		return CidScript(k, c), rest, nil
	}
	return Script{}, nil, fmt.Errorf("%w: unknown script id %d", ErrMalformedEntry, kind)
}
