package provlog

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multibase"
)

// Vlad is the very long-lived address of a provenance log: a random
// nonce paired with the CID of the log's first lock script. The nonce
// keeps the address stable across key rotations; the CID binds it to
// the genesis policy.
type Vlad struct {
	Nonce []byte
	Cid   cid.Cid
}

// NewVlad binds a nonce to the CID of the first lock script.
func NewVlad(nonce []byte, firstLock cid.Cid) Vlad {
	return Vlad{Nonce: append([]byte(nil), nonce...), Cid: firstLock}
}

// IsZero reports whether the vlad is unset.
func (v Vlad) IsZero() bool {
	return len(v.Nonce) == 0 && !v.Cid.Defined()
}

// Equal compares nonce and CID.
func (v Vlad) Equal(other Vlad) bool {
	return string(v.Nonce) == string(other.Nonce) && v.Cid.Equals(other.Cid)
}

// Encode returns the canonical binary form: the vlad sigil, the nonce
// as a length-prefixed byte string, then the CID likewise.
func (v Vlad) Encode() []byte {
	buf := appendUvarint(nil, SigilVlad)
	buf = appendVarbytes(buf, v.Nonce)
	return appendCid(buf, v.Cid)
}

// DecodeVlad parses the canonical binary form.
func DecodeVlad(data []byte) (Vlad, []byte, error) {
	rest, err := expectSigil(data, SigilVlad)
	if err != nil {
		return Vlad{}, nil, fmt.Errorf("vlad: %w", err)
	}
	nonce, rest, err := readVarbytes(rest)
	if err != nil {
		return Vlad{}, nil, fmt.Errorf("vlad nonce: %w", err)
	}
	c, rest, err := readCid(rest)
	if err != nil {
		return Vlad{}, nil, fmt.Errorf("vlad cid: %w", err)
	}
	return Vlad{Nonce: nonce, Cid: c}, rest, nil
}

// String renders the vlad as a multibase base32 string, the same
// encoding used for CIDv1 text.
func (v Vlad) String() string {
	s, err := multibase.Encode(multibase.Base32, v.Encode())
	if err != nil {
		return fmt.Sprintf("vlad(%x)", v.Encode())
	}
	return s
}

// ParseVlad parses the multibase string form produced by String.
func ParseVlad(s string) (Vlad, error) {
	_, data, err := multibase.Decode(s)
	if err != nil {
		return Vlad{}, fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	v, rest, err := DecodeVlad(data)
	if err != nil {
		return Vlad{}, err
	}
	if len(rest) != 0 {
		return Vlad{}, fmt.Errorf("%w: trailing bytes after vlad", ErrMalformedEntry)
	}
	return v, nil
}
