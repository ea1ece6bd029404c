package provlog

import (
	"fmt"
	"sort"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// EntryVersion is the current entry format version.
const EntryVersion uint64 = 1

// Entry is one link in a provenance log: an ordered list of mutations
// to the virtual key-value store, the lock scripts governing the next
// entry, and the unlock script plus proof that satisfy the previous
// entry's locks. Entries are immutable once accepted.
type Entry struct {
	Version uint64
	Vlad    Vlad
	Prev    cid.Cid
	Lipmaa  cid.Cid
	Seqno   uint64
	Ops     []Op
	Locks   []Script
	Unlock  Script
	Proof   []byte
}

// entryFields lists the virtual key-paths under which an entry's own
// fields are visible to scripts, in iteration order.
var entryFields = []string{
	"/entry/",
	"/entry/version",
	"/entry/vlad",
	"/entry/prev",
	"/entry/lipmaa",
	"/entry/seqno",
	"/entry/ops",
	"/entry/locks",
	"/entry/unlock",
	"/entry/proof",
}

func (e *Entry) encode(erased bool) []byte {
	buf := appendUvarint(nil, SigilEntry)
	buf = appendUvarint(buf, e.Version)
	buf = append(buf, e.Vlad.Encode()...)
	buf = appendCid(buf, e.Prev)
	buf = appendCid(buf, e.Lipmaa)
	buf = appendUvarint(buf, e.Seqno)
	buf = appendUvarint(buf, uint64(len(e.Ops)))
	for _, op := range e.Ops {
		buf = appendOp(buf, op)
	}
	buf = appendUvarint(buf, uint64(len(e.Locks)))
	for _, l := range e.Locks {
		buf = append(buf, l.Encode()...)
	}
	buf = append(buf, e.Unlock.Encode()...)
	if erased {
		buf = appendVarbytes(buf, nil)
	} else {
		buf = appendVarbytes(buf, e.Proof)
	}
	return buf
}

// Encode returns the full canonical binary form. The entry CID is
// computed over these bytes.
func (e *Entry) Encode() []byte { return e.encode(false) }

// EncodeProofErased returns the canonical form with the proof field
// serialized as an empty byte string. This is the byte image proofs
// sign and what scripts see at "/entry/".
func (e *Entry) EncodeProofErased() []byte { return e.encode(true) }

// DecodeEntry parses the canonical binary form, returning the entry and
// any trailing bytes.
func DecodeEntry(data []byte) (*Entry, []byte, error) {
	rest, err := expectSigil(data, SigilEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("entry: %w", err)
	}
	e := &Entry{}
	if e.Version, rest, err = readUvarint(rest); err != nil {
		return nil, nil, err
	}
	if e.Version != EntryVersion {
		return nil, nil, fmt.Errorf("%w: unsupported entry version %d", ErrMalformedEntry, e.Version)
	}
	if e.Vlad, rest, err = DecodeVlad(rest); err != nil {
		return nil, nil, err
	}
	if e.Prev, rest, err = readCid(rest); err != nil {
		return nil, nil, err
	}
	if e.Lipmaa, rest, err = readCid(rest); err != nil {
		return nil, nil, err
	}
	if e.Seqno, rest, err = readUvarint(rest); err != nil {
		return nil, nil, err
	}
	nops, rest, err := readUvarint(rest)
	if err != nil {
		return nil, nil, err
	}
	for i := uint64(0); i < nops; i++ {
		var op Op
		if op, rest, err = readOp(rest); err != nil {
			return nil, nil, err
		}
		e.Ops = append(e.Ops, op)
	}
	nlocks, rest, err := readUvarint(rest)
	if err != nil {
		return nil, nil, err
	}
	for i := uint64(0); i < nlocks; i++ {
		var s Script
		if s, rest, err = DecodeScript(rest); err != nil {
			return nil, nil, err
		}
		e.Locks = append(e.Locks, s)
	}
	if e.Unlock, rest, err = DecodeScript(rest); err != nil {
		return nil, nil, err
	}
	if e.Proof, rest, err = readVarbytes(rest); err != nil {
		return nil, nil, err
	}
	return e, rest, nil
}

// CID returns the content identifier of the entry: a CIDv1 with the
// dag-cbor target codec over the sha3-512 multihash of the full
// canonical encoding.
func (e *Entry) CID() (cid.Cid, error) {
	h, err := mh.Sum(e.Encode(), mh.SHA3_512, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("entry cid: %w", err)
	}
	return cid.NewCidV1(uint64(multicodec.DagCbor), h), nil
}

// FieldValue resolves the virtual "/entry/*" key-paths against this
// entry. "/entry/" itself yields the proof-erased canonical encoding.
// The second return is false for paths outside the virtual namespace.
func (e *Entry) FieldValue(k Key) (Value, bool) {
	switch k.String() {
	case "/entry/":
		return DataValue(e.EncodeProofErased()), true
	case "/entry/version":
		return DataValue(appendUvarint(nil, e.Version)), true
	case "/entry/vlad":
		return DataValue(e.Vlad.Encode()), true
	case "/entry/prev":
		return DataValue(cidFieldBytes(e.Prev)), true
	case "/entry/lipmaa":
		return DataValue(cidFieldBytes(e.Lipmaa)), true
	case "/entry/seqno":
		return DataValue(appendUvarint(nil, e.Seqno)), true
	case "/entry/ops":
		buf := appendUvarint(nil, uint64(len(e.Ops)))
		for _, op := range e.Ops {
			buf = appendOp(buf, op)
		}
		return DataValue(buf), true
	case "/entry/locks":
		buf := appendUvarint(nil, uint64(len(e.Locks)))
		for _, l := range e.Locks {
			buf = append(buf, l.Encode()...)
		}
		return DataValue(buf), true
	case "/entry/unlock":
		return DataValue(e.Unlock.Encode()), true
	case "/entry/proof":
		return DataValue(e.Proof), true
	}
	return Value{}, false
}

func cidFieldBytes(c cid.Cid) []byte {
	if !c.Defined() {
		return nil
	}
	return c.Bytes()
}

// Context returns the longest common branch of the entry's op paths.
// With no ops the context is the root branch.
func (e *Entry) Context() Key {
	if len(e.Ops) == 0 {
		return RootKey()
	}
	keys := make([]Key, len(e.Ops))
	for i, op := range e.Ops {
		keys[i] = op.Key
	}
	return LongestCommonBranchAll(keys)
}

// GoverningLocks selects, from the previous entry's lock list, the
// locks that govern this entry's mutations, ordered for execution.
//
// An op is governed by every lock whose path is a parent of the op's
// path. Entries with no ops touch the root branch, and so does any
// entry whose lock list differs from the previous one, so the root
// lock always weighs in on policy changes. The result preserves the
// original list order among locks of equal path and sorts root to
// leaf otherwise.
func (e *Entry) GoverningLocks(prev []Script) []Script {
	ops := e.Ops
	if len(ops) == 0 {
		ops = []Op{Noop(RootKey())}
	}
	if !scriptsEqual(prev, e.Locks) {
		ops = append(append([]Op(nil), ops...), Noop(RootKey()))
	}

	governing := make([]bool, len(prev))
	for _, op := range ops {
		for i, lock := range prev {
			if lock.Key.ParentOf(op.Key) {
				governing[i] = true
			}
		}
	}

	var out []Script
	for i, lock := range prev {
		if governing[i] {
			out = append(out, lock)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Key.Compare(out[j].Key) < 0
	})
	return out
}

// Validate checks the entry's internal structure: a defined vlad, well
// formed ops, branch-path lock keys, and the prev/lipmaa presence rules
// tied to the seqno.
func (e *Entry) Validate() error {
	if e.Version != EntryVersion {
		return fmt.Errorf("%w: unsupported entry version %d", ErrMalformedEntry, e.Version)
	}
	if e.Vlad.IsZero() {
		return fmt.Errorf("%w: entry without vlad", ErrMalformedEntry)
	}
	for _, op := range e.Ops {
		if op.Kind != OpNoop && !op.Key.IsLeaf() {
			return fmt.Errorf("%w: op %s needs a leaf path", ErrInvalidKeyPath, op)
		}
	}
	for _, l := range e.Locks {
		if !l.Key.IsBranch() && !l.Key.IsLeaf() {
			return fmt.Errorf("%w: lock without a path", ErrInvalidKeyPath)
		}
	}
	if e.Seqno == 0 && e.Lipmaa.Defined() {
		return fmt.Errorf("%w: genesis entry with lipmaa link", ErrBrokenChain)
	}
	if e.Seqno > 0 && !e.Prev.Defined() {
		return fmt.Errorf("%w: seqno %d without prev link", ErrBrokenChain, e.Seqno)
	}
	if e.Seqno > 1 && !e.Lipmaa.Defined() {
		return fmt.Errorf("%w: seqno %d without lipmaa link", ErrBrokenChain, e.Seqno)
	}
	return nil
}

// EntryBuilder assembles an entry field by field; Build seals it with a
// proof produced over the proof-erased encoding.
type EntryBuilder struct {
	entry Entry
	err   error
}

// NewEntryBuilder starts a builder at the current format version.
func NewEntryBuilder() *EntryBuilder {
	return &EntryBuilder{entry: Entry{Version: EntryVersion}}
}

// WithVlad sets the log identifier.
func (b *EntryBuilder) WithVlad(v Vlad) *EntryBuilder {
	b.entry.Vlad = v
	return b
}

// WithPrev sets the previous-entry link.
func (b *EntryBuilder) WithPrev(c cid.Cid) *EntryBuilder {
	b.entry.Prev = c
	return b
}

// WithLipmaa sets the skip link.
func (b *EntryBuilder) WithLipmaa(c cid.Cid) *EntryBuilder {
	b.entry.Lipmaa = c
	return b
}

// WithSeqno sets the sequence number.
func (b *EntryBuilder) WithSeqno(n uint64) *EntryBuilder {
	b.entry.Seqno = n
	return b
}

// AddOp appends a mutation op.
func (b *EntryBuilder) AddOp(op Op) *EntryBuilder {
	b.entry.Ops = append(b.entry.Ops, op)
	return b
}

// WithLocks sets the lock scripts governing the next entry.
func (b *EntryBuilder) WithLocks(locks ...Script) *EntryBuilder {
	b.entry.Locks = locks
	return b
}

// WithUnlock sets the unlock script.
func (b *EntryBuilder) WithUnlock(s Script) *EntryBuilder {
	b.entry.Unlock = s
	return b
}

// Build validates the assembled entry and calls gen with it, proof
// still empty, so gen can sign the proof-erased encoding. The returned
// bytes become the entry's proof.
func (b *EntryBuilder) Build(gen func(*Entry) ([]byte, error)) (*Entry, error) {
	if b.err != nil {
		return nil, b.err
	}
	e := b.entry
	e.Proof = nil
	if err := e.Validate(); err != nil {
		return nil, err
	}
	if gen != nil {
		proof, err := gen(&e)
		if err != nil {
			return nil, fmt.Errorf("proof generation: %w", err)
		}
		e.Proof = proof
	}
	return &e, nil
}
