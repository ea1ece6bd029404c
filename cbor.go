package provlog

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Optional DAG-CBOR interop form of an entry. The canonical binary
// codec stays authoritative: CIDs are always computed over it, and the
// variable-size fields below carry canonical sub-encodings. The CBOR
// wrapper exists for tooling that speaks dag-cbor, not for hashing.

type cborEntry struct {
	Version uint64   `cbor:"version"`
	Vlad    []byte   `cbor:"vlad"`
	Prev    []byte   `cbor:"prev"`
	Lipmaa  []byte   `cbor:"lipmaa"`
	Seqno   uint64   `cbor:"seqno"`
	Ops     [][]byte `cbor:"ops"`
	Locks   [][]byte `cbor:"locks"`
	Unlock  []byte   `cbor:"unlock"`
	Proof   []byte   `cbor:"proof"`
}

var (
	cborEnc cbor.EncMode
	cborDec cbor.DecMode
)

func init() {
	var err error
	if cborEnc, err = cbor.CoreDetEncOptions().EncMode(); err != nil {
		panic(err)
	}
	if cborDec, err = (cbor.DecOptions{}).DecMode(); err != nil {
		panic(err)
	}
}

// MarshalCBOR returns the deterministic CBOR form of the entry.
func (e *Entry) MarshalCBOR() ([]byte, error) {
	ce := cborEntry{
		Version: e.Version,
		Vlad:    e.Vlad.Encode(),
		Prev:    cidFieldBytes(e.Prev),
		Lipmaa:  cidFieldBytes(e.Lipmaa),
		Seqno:   e.Seqno,
		Unlock:  e.Unlock.Encode(),
		Proof:   e.Proof,
	}
	for _, op := range e.Ops {
		ce.Ops = append(ce.Ops, appendOp(nil, op))
	}
	for _, l := range e.Locks {
		ce.Locks = append(ce.Locks, l.Encode())
	}
	return cborEnc.Marshal(ce)
}

// UnmarshalCBOR parses the CBOR form produced by MarshalCBOR.
func (e *Entry) UnmarshalCBOR(data []byte) error {
	var ce cborEntry
	if err := cborDec.Unmarshal(data, &ce); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEntry, err)
	}
	out := Entry{Version: ce.Version, Seqno: ce.Seqno, Proof: ce.Proof}
	var err error
	var rest []byte
	if out.Vlad, rest, err = DecodeVlad(ce.Vlad); err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: trailing bytes after vlad", ErrMalformedEntry)
	}
	if out.Prev, err = castCidBytes(ce.Prev); err != nil {
		return err
	}
	if out.Lipmaa, err = castCidBytes(ce.Lipmaa); err != nil {
		return err
	}
	for _, raw := range ce.Ops {
		op, rest, err := readOp(raw)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return fmt.Errorf("%w: trailing bytes after op", ErrMalformedEntry)
		}
		out.Ops = append(out.Ops, op)
	}
	for _, raw := range ce.Locks {
		s, rest, err := DecodeScript(raw)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return fmt.Errorf("%w: trailing bytes after lock", ErrMalformedEntry)
		}
		out.Locks = append(out.Locks, s)
	}
	if out.Unlock, rest, err = DecodeScript(ce.Unlock); err != nil {
		return err
	}
	if len(rest) != 0 {
		return fmt.Errorf("%w: trailing bytes after unlock", ErrMalformedEntry)
	}
	*e = out
	return nil
}
