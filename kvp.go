package provlog

import (
	"fmt"
	"sort"
	"strings"
)

// Kvp is the virtual key-value store a provenance log materializes: the
// fold of every accepted entry's ops, foot to head. It also exposes the
// "/entry/*" virtual fields of the entry currently set on it, so
// scripts resolve entry fields and replayed state through one lookup.
//
// Every SetEntry pushes an undo snapshot, so replay can be rolled back
// entry by entry.
type Kvp struct {
	kvp   map[string]Value
	entry *Entry
	undo  []kvpSnapshot
}

type kvpSnapshot struct {
	entry *Entry
	kvp   map[string]Value
}

// NewKvp returns an empty store.
func NewKvp() *Kvp {
	return &Kvp{kvp: make(map[string]Value)}
}

// Get resolves a key-path. Paths under "/entry/" route to the current
// entry's virtual fields; everything else reads the replayed state.
func (p *Kvp) Get(k Key) (Value, bool) {
	if p.entry != nil && strings.HasPrefix(k.String(), "/entry/") {
		return p.entry.FieldValue(k)
	}
	v, ok := p.kvp[k.String()]
	return v, ok
}

// Put stores a value directly, bypassing entry replay. The script host
// uses it for check snapshots; replay goes through ApplyEntryOps.
func (p *Kvp) Put(k Key, v Value) {
	p.kvp[k.String()] = v
}

// SetEntry makes an entry's virtual fields visible and records an undo
// snapshot. Entries must arrive in seqno order: the first at 0, each
// following at exactly one more than the last.
func (p *Kvp) SetEntry(e *Entry) error {
	if p.entry == nil {
		if e.Seqno != 0 {
			return fmt.Errorf("%w: first replayed entry has seqno %d", ErrBrokenChain, e.Seqno)
		}
	} else if e.Seqno != p.entry.Seqno+1 {
		return fmt.Errorf("%w: seqno %d after %d", ErrBrokenChain, e.Seqno, p.entry.Seqno)
	}
	p.snapshot()
	p.entry = e
	return nil
}

// ApplyEntryOps folds the entry's ops into the store, left to right:
// update sets, delete removes, noop leaves state untouched.
func (p *Kvp) ApplyEntryOps(e *Entry) {
	for _, op := range e.Ops {
		switch op.Kind {
		case OpUpdate:
			p.kvp[op.Key.String()] = op.Value
		case OpDelete:
			delete(p.kvp, op.Key.String())
		}
	}
}

// UndoEntry reverts the store to just before the last SetEntry.
func (p *Kvp) UndoEntry() error {
	if len(p.undo) == 0 {
		return fmt.Errorf("%w: undo stack", ErrStackEmpty)
	}
	s := p.undo[len(p.undo)-1]
	p.undo = p.undo[:len(p.undo)-1]
	p.kvp = s.kvp
	p.entry = s.entry
	return nil
}

func (p *Kvp) snapshot() {
	p.undo = append(p.undo, kvpSnapshot{entry: p.entry, kvp: cloneValues(p.kvp)})
}

// Seqno returns the seqno of the current entry, or false if no entry
// has been set.
func (p *Kvp) Seqno() (uint64, bool) {
	if p.entry == nil {
		return 0, false
	}
	return p.entry.Seqno, true
}

// Len returns the number of stored pairs, virtual fields excluded.
func (p *Kvp) Len() int { return len(p.kvp) }

// UndoLen returns the depth of the undo stack.
func (p *Kvp) UndoLen() int { return len(p.undo) }

// Clone returns an independent copy sharing no mutable state. The undo
// stack is not carried over; clones exist for script isolation, not
// replay.
func (p *Kvp) Clone() *Kvp {
	return &Kvp{kvp: cloneValues(p.kvp), entry: p.entry}
}

// Keys returns the stored key-paths in sorted order.
func (p *Kvp) Keys() []string {
	keys := make([]string, 0, len(p.kvp))
	for k := range p.kvp {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Kvp) String() string {
	var b strings.Builder
	for _, k := range p.Keys() {
		fmt.Fprintf(&b, "%q -> %s\n", k, p.kvp[k])
	}
	return b.String()
}

func cloneValues(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Replay folds entries, which must be in foot-to-head seqno order, into
// a fresh store. The fold is pure: same entries, same final state.
func Replay(entries []*Entry) (*Kvp, error) {
	p := NewKvp()
	for _, e := range entries {
		if err := p.SetEntry(e); err != nil {
			return nil, err
		}
		p.ApplyEntryOps(e)
	}
	return p, nil
}
