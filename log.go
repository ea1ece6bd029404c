package provlog

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// LogVersion is the current log container format version.
const LogVersion uint64 = 1

// DefaultFirstLock returns the implied genesis lock: the root-bound
// script requiring a signature by the ephemeral key the genesis entry
// publishes at "/ephemeral".
func DefaultFirstLock() Script {
	return CodeScript(RootKey(), `check_signature("/ephemeral")`)
}

// Log is a provenance log: the vlad identifying it, the first lock
// governing its genesis entry, and the hash-linked entries from foot
// (seqno 0) to head.
type Log struct {
	Version   uint64
	Vlad      Vlad
	FirstLock Script
	Foot      cid.Cid
	Head      cid.Cid
	Entries   map[cid.Cid]*Entry

	loader      ScriptLoader
	parent      *Log
	parentEntry *Entry
}

// NewLog returns an empty log for the given vlad and first lock.
func NewLog(vlad Vlad, firstLock Script) *Log {
	return &Log{
		Version:   LogVersion,
		Vlad:      vlad,
		FirstLock: firstLock,
		Entries:   make(map[cid.Cid]*Entry),
	}
}

// SetScriptLoader installs the loader used to fetch the bodies of
// content-addressed (cid) scripts during validation.
func (l *Log) SetScriptLoader(load ScriptLoader) {
	l.loader = load
}

// SetParent attaches the parent log and the entry this log forked
// from. A log whose foot has a prev link cannot be verified without
// its parent attached.
func (l *Log) SetParent(parent *Log, entry *Entry) {
	l.parent = parent
	l.parentEntry = entry
}

// HeadEntry returns the current head entry, or nil for an empty log.
func (l *Log) HeadEntry() *Entry {
	if !l.Head.Defined() {
		return nil
	}
	return l.Entries[l.Head]
}

// EntriesInOrder returns the entries foot to head, following prev
// links back from the head.
func (l *Log) EntriesInOrder() ([]*Entry, error) {
	if !l.Head.Defined() {
		return nil, nil
	}
	var rev []*Entry
	c := l.Head
	for c.Defined() {
		e, ok := l.Entries[c]
		if !ok {
			return nil, fmt.Errorf("%w: missing entry %s", ErrBrokenChain, c)
		}
		rev = append(rev, e)
		if e.Seqno == 0 {
			break
		}
		c = e.Prev
	}
	out := make([]*Entry, len(rev))
	for i, e := range rev {
		out[len(rev)-1-i] = e
	}
	return out, nil
}

// Replay folds the log's entries into the virtual key-value store.
func (l *Log) Replay() (*Kvp, error) {
	entries, err := l.EntriesInOrder()
	if err != nil {
		return nil, err
	}
	return Replay(entries)
}

// Precedence orders competing entries of equal seqno. Smaller
// components mean higher precedence, compared lexicographically: the
// depth of the winning lock's branch, the check count at success, then
// the depth of the ops context.
type Precedence struct {
	LockDepth    uint64
	CheckCount   uint64
	ContextDepth uint64
}

// Compare returns -1 if p takes precedence over o, 1 if o does, and 0
// on a full tie, in which case the caller must refuse to choose.
func (p Precedence) Compare(o Precedence) int {
	switch {
	case p.LockDepth != o.LockDepth:
		if p.LockDepth < o.LockDepth {
			return -1
		}
		return 1
	case p.CheckCount != o.CheckCount:
		if p.CheckCount < o.CheckCount {
			return -1
		}
		return 1
	case p.ContextDepth != o.ContextDepth:
		if p.ContextDepth < o.ContextDepth {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether p takes precedence over o.
func (p Precedence) Less(o Precedence) bool {
	return p.Compare(o) < 0
}

// propStore returns the parameter store for the unlock phase: only the
// proposed entry's virtual fields, its ops not applied.
func propStore(prop *Entry) *Kvp {
	s := NewKvp()
	s.entry = prop
	return s
}

// runUnlock executes the proposed entry's unlock script against the
// proposed store and returns the seed stack for the lock phase. The
// check guard is armed unless the config lifts it.
func runUnlock(prop *Entry, cfg Config, load ScriptLoader) (*Stack, error) {
	h := newHostContext(cfg, propStore(prop), NewStack("param"), RootKey(), true)
	ok, err := runScript(h, prop.Unlock, false, load)
	if err != nil {
		return nil, fmt.Errorf("unlock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: unlock script returned false", ErrScript)
	}
	return h.pstack, nil
}

// validateAgainst runs the lock phase: the governing subset of locks,
// root to leaf, each against clones of the seed stack and the current
// store, until one leaves SUCCESS on its return stack.
func validateAgainst(locks []Script, cur *Kvp, prop *Entry, cfg Config, load ScriptLoader) (Precedence, error) {
	cfg = cfg.orDefault()
	if err := prop.Validate(); err != nil {
		return Precedence{}, err
	}
	seed, err := runUnlock(prop, cfg, load)
	if err != nil {
		return Precedence{}, err
	}
	ctx := prop.Context()
	governing := prop.GoverningLocks(locks)
	if len(governing) == 0 {
		return Precedence{}, fmt.Errorf("%w: no lock governs context %q", ErrLockFailed, ctx.String())
	}
	for _, lock := range governing {
		// branch() inside a lock resolves against the ops context, so a
		// delegated lock at "/delegated/" finds keys under the leaf
		// branch the entry actually touches.
		h := newHostContext(cfg, cur.Clone(), seed.Clone(), ctx, false)
		if _, err := runScript(h, lock, true, load); err != nil {
			logger.Debug().Str("lock", lock.Key.String()).Err(err).Msg("lock script trapped")
			continue
		}
		if n, ok := h.Succeeded(); ok {
			p := Precedence{
				LockDepth:    uint64(lock.Key.Depth()),
				CheckCount:   n,
				ContextDepth: uint64(ctx.Depth()),
			}
			logger.Debug().
				Str("lock", lock.Key.String()).
				Uint64("checks", n).
				Uint64("seqno", prop.Seqno).
				Msg("lock satisfied")
			return p, nil
		}
	}
	return Precedence{}, ErrLockFailed
}

// checkChainLink verifies seqno continuity and the prev and lipmaa
// links of next against the ordered entries before it.
func checkChainLink(ordered []*Entry, cids []cid.Cid, next *Entry) error {
	n := uint64(len(ordered))
	if next.Seqno != n {
		return fmt.Errorf("%w: seqno %d, want %d", ErrBrokenChain, next.Seqno, n)
	}
	if n == 0 {
		if next.Prev.Defined() {
			return fmt.Errorf("%w: genesis entry with prev link", ErrBrokenChain)
		}
		return nil
	}
	if next.Prev != cids[n-1] {
		return fmt.Errorf("%w: prev of entry %d is %s, want %s", ErrBrokenChain, n, next.Prev, cids[n-1])
	}
	if n >= 2 {
		want := cids[Lipmaa(n)]
		if next.Lipmaa != want {
			return fmt.Errorf("%w: lipmaa of entry %d is %s, want %s", ErrBrokenChain, n, next.Lipmaa, want)
		}
	}
	return nil
}

// genesisLocks returns the lock set governing a genesis entry. A log
// built without an explicit first lock falls back to the implied
// ephemeral check.
func (l *Log) genesisLocks() []Script {
	if l.FirstLock.Key.IsZero() {
		return []Script{DefaultFirstLock()}
	}
	return []Script{l.FirstLock}
}

// Validate checks a proposed next entry against the log without
// mutating it, returning the precedence of the winning lock.
//
// For a genesis proposal the current store equals the proposed store
// with the entry's own ops applied; the genesis entry is self-signed
// by the ephemeral key it publishes. For every later entry the current
// store is the replay of the accepted entries, the proposed entry's
// virtual fields overlaid.
func (l *Log) Validate(prop *Entry, cfg Config) (Precedence, error) {
	if !prop.Vlad.Equal(l.Vlad) {
		return Precedence{}, fmt.Errorf("%w: entry for vlad %s on log %s", ErrMalformedEntry, prop.Vlad, l.Vlad)
	}
	entries, err := l.EntriesInOrder()
	if err != nil {
		return Precedence{}, err
	}
	cids := make([]cid.Cid, len(entries))
	for i, e := range entries {
		if cids[i], err = e.CID(); err != nil {
			return Precedence{}, err
		}
	}
	if len(entries) == 0 && prop.Seqno == 0 && prop.Prev.Defined() {
		if l.parent == nil {
			return Precedence{}, fmt.Errorf("%w: fork-first entry without a parent attached", ErrBrokenChain)
		}
		return ValidateFork(l.parent, l.parentEntry, prop, cfg)
	}
	if err := checkChainLink(entries, cids, prop); err != nil {
		return Precedence{}, err
	}
	if len(entries) == 0 {
		cur := propStore(prop)
		cur.ApplyEntryOps(prop)
		return validateAgainst(l.genesisLocks(), cur, prop, cfg, l.loader)
	}
	cur, err := Replay(entries)
	if err != nil {
		return Precedence{}, err
	}
	cur.entry = prop
	head := entries[len(entries)-1]
	return validateAgainst(head.Locks, cur, prop, cfg, l.loader)
}

// ValidateFork checks the first entry of a child log against its parent
// entry: the child has seqno 0 and prev set to the parent entry's CID,
// and must satisfy the parent entry's locks evaluated over the parent
// log's state at that entry.
func ValidateFork(parent *Log, parentEntry *Entry, prop *Entry, cfg Config) (Precedence, error) {
	if prop.Seqno != 0 {
		return Precedence{}, fmt.Errorf("%w: fork-first entry with seqno %d", ErrBrokenChain, prop.Seqno)
	}
	pcid, err := parentEntry.CID()
	if err != nil {
		return Precedence{}, err
	}
	if prop.Prev != pcid {
		return Precedence{}, fmt.Errorf("%w: fork prev %s, want parent %s", ErrBrokenChain, prop.Prev, pcid)
	}
	ordered, err := parent.EntriesInOrder()
	if err != nil {
		return Precedence{}, err
	}
	upTo := -1
	for i, e := range ordered {
		if e.Seqno == parentEntry.Seqno {
			upTo = i
			break
		}
	}
	if upTo < 0 {
		return Precedence{}, fmt.Errorf("%w: parent entry %s not in parent log", ErrBrokenChain, pcid)
	}
	cur, err := Replay(ordered[:upTo+1])
	if err != nil {
		return Precedence{}, err
	}
	cur.entry = prop
	return validateAgainst(parentEntry.Locks, cur, prop, cfg, parent.loader)
}

// TryAppend validates a proposed entry and, on success, appends it and
// moves the head. The chain up to the current head is re-verified
// first.
func (l *Log) TryAppend(prop *Entry, cfg Config) (Precedence, error) {
	if err := l.Verify(cfg); err != nil {
		return Precedence{}, err
	}
	p, err := l.Validate(prop, cfg)
	if err != nil {
		return Precedence{}, err
	}
	c, err := prop.CID()
	if err != nil {
		return Precedence{}, err
	}
	if l.Entries == nil {
		l.Entries = make(map[cid.Cid]*Entry)
	}
	l.Entries[c] = prop
	if !l.Foot.Defined() {
		l.Foot = c
	}
	l.Head = c
	logger.Info().Uint64("seqno", prop.Seqno).Str("cid", c.String()).Msg("entry appended")
	return p, nil
}

// Verify re-validates the whole log from foot to head: chain links,
// lipmaa targets, and every entry against its predecessor's locks.
func (l *Log) Verify(cfg Config) error {
	entries, err := l.EntriesInOrder()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	cids := make([]cid.Cid, 0, len(entries))
	state := NewKvp()
	for i, e := range entries {
		if i == 0 && e.Prev.Defined() {
			// Fork foot: validated against the parent entry's locks.
			if l.parent == nil {
				return fmt.Errorf("%w: fork log without a parent attached", ErrBrokenChain)
			}
			if _, err := ValidateFork(l.parent, l.parentEntry, e, cfg); err != nil {
				return fmt.Errorf("fork entry: %w", err)
			}
		} else {
			if err := checkChainLink(entries[:i], cids, e); err != nil {
				return err
			}
			var locks []Script
			var cur *Kvp
			if i == 0 {
				locks = l.genesisLocks()
				cur = propStore(e)
				cur.ApplyEntryOps(e)
			} else {
				locks = entries[i-1].Locks
				cur = state.Clone()
				cur.entry = e
			}
			if _, err := validateAgainst(locks, cur, e, cfg, l.loader); err != nil {
				return fmt.Errorf("entry %d: %w", e.Seqno, err)
			}
		}
		if err := state.SetEntry(e); err != nil {
			return err
		}
		state.ApplyEntryOps(e)
		c, err := e.CID()
		if err != nil {
			return err
		}
		cids = append(cids, c)
		logger.Debug().Uint64("seqno", e.Seqno).Str("cid", c.String()).Msg("entry verified")
	}
	if cids[0] != l.Foot {
		return fmt.Errorf("%w: foot is %s, want %s", ErrBrokenChain, l.Foot, cids[0])
	}
	if cids[len(cids)-1] != l.Head {
		return fmt.Errorf("%w: head is %s, want %s", ErrBrokenChain, l.Head, cids[len(cids)-1])
	}
	return nil
}

// NextBuilder returns an entry builder pre-wired for the next seqno:
// vlad, prev and the lipmaa link already set. The log must have a head.
func (l *Log) NextBuilder() (*EntryBuilder, error) {
	entries, err := l.EntriesInOrder()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty log has no next entry", ErrBrokenChain)
	}
	n := uint64(len(entries))
	b := NewEntryBuilder().WithVlad(l.Vlad).WithSeqno(n).WithPrev(l.Head)
	if n >= 2 {
		lc, err := entries[Lipmaa(n)].CID()
		if err != nil {
			return nil, err
		}
		b = b.WithLipmaa(lc)
	}
	return b, nil
}

// Encode returns the canonical binary form of the whole log: the log
// sigil, version, vlad, first lock, foot and head CIDs, then the
// entries foot to head, each as a length-prefixed canonical encoding.
func (l *Log) Encode() ([]byte, error) {
	entries, err := l.EntriesInOrder()
	if err != nil {
		return nil, err
	}
	buf := appendUvarint(nil, SigilLog)
	buf = appendUvarint(buf, l.Version)
	buf = append(buf, l.Vlad.Encode()...)
	buf = append(buf, l.FirstLock.Encode()...)
	buf = appendCid(buf, l.Foot)
	buf = appendCid(buf, l.Head)
	buf = appendUvarint(buf, uint64(len(entries)))
	for _, e := range entries {
		buf = appendVarbytes(buf, e.Encode())
	}
	return buf, nil
}

// DecodeLog parses the canonical binary form of a log and rebuilds the
// CID index.
func DecodeLog(data []byte) (*Log, error) {
	rest, err := expectSigil(data, SigilLog)
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	l := &Log{Entries: make(map[cid.Cid]*Entry)}
	if l.Version, rest, err = readUvarint(rest); err != nil {
		return nil, err
	}
	if l.Version != LogVersion {
		return nil, fmt.Errorf("%w: unsupported log version %d", ErrMalformedEntry, l.Version)
	}
	if l.Vlad, rest, err = DecodeVlad(rest); err != nil {
		return nil, err
	}
	if l.FirstLock, rest, err = DecodeScript(rest); err != nil {
		return nil, err
	}
	if l.Foot, rest, err = readCid(rest); err != nil {
		return nil, err
	}
	if l.Head, rest, err = readCid(rest); err != nil {
		return nil, err
	}
	count, rest, err := readUvarint(rest)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < count; i++ {
		var raw []byte
		if raw, rest, err = readVarbytes(rest); err != nil {
			return nil, err
		}
		e, trailing, err := DecodeEntry(raw)
		if err != nil {
			return nil, err
		}
		if len(trailing) != 0 {
			return nil, fmt.Errorf("%w: trailing bytes after entry %d", ErrMalformedEntry, i)
		}
		c, err := e.CID()
		if err != nil {
			return nil, err
		}
		l.Entries[c] = e
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes after log", ErrMalformedEntry)
	}
	return l, nil
}
