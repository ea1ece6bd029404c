package provlog

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// EntryStore persists canonical entry bytes by CID and tracks the head
// of each log by vlad. Implementations must be safe for concurrent use.
type EntryStore interface {
	// Put stores canonical bytes under their CID. Storing the same CID
	// twice is a no-op.
	Put(c cid.Cid, data []byte) error

	// Get returns the bytes stored under a CID; found is false when the
	// store has never seen it.
	Get(c cid.Cid) (data []byte, found bool, err error)

	// SetHead records the head entry CID of the log identified by vlad.
	SetHead(vlad Vlad, head cid.Cid) error

	// Head returns the recorded head CID for a vlad.
	Head(vlad Vlad) (head cid.Cid, found bool, err error)

	Close() error
}

// PutEntry encodes an entry and stores it, returning its CID.
func PutEntry(s EntryStore, e *Entry) (cid.Cid, error) {
	c, err := e.CID()
	if err != nil {
		return cid.Undef, err
	}
	return c, s.Put(c, e.Encode())
}

// PutScript stores a script's canonical bytes under its CID, so cid
// scripts and first locks resolve from the store.
func PutScript(s EntryStore, sc Script) (cid.Cid, error) {
	c, err := sc.CID()
	if err != nil {
		return cid.Undef, err
	}
	return c, s.Put(c, sc.Encode())
}

// GetEntry fetches and decodes the entry stored under a CID.
func GetEntry(s EntryStore, c cid.Cid) (*Entry, error) {
	data, found, err := s.Get(c)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: entry %s not stored", ErrBrokenChain, c)
	}
	e, rest, err := DecodeEntry(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in stored entry %s", ErrMalformedEntry, c)
	}
	return e, nil
}

// SaveLog stores every entry of a log and records its head.
func SaveLog(s EntryStore, l *Log) error {
	entries, err := l.EntriesInOrder()
	if err != nil {
		return err
	}
	for _, e := range entries {
		if _, err := PutEntry(s, e); err != nil {
			return err
		}
	}
	if l.Head.Defined() {
		return s.SetHead(l.Vlad, l.Head)
	}
	return nil
}

// LoadLog rebuilds a log from a store by walking prev links back from
// the recorded head. A fork foot stops the walk; attach the parent with
// SetParent before verifying.
func LoadLog(s EntryStore, vlad Vlad, firstLock Script) (*Log, error) {
	head, found, err := s.Head(vlad)
	if err != nil {
		return nil, err
	}
	l := NewLog(vlad, firstLock)
	if !found {
		return l, nil
	}
	l.Head = head
	c := head
	for c.Defined() {
		e, err := GetEntry(s, c)
		if err != nil {
			return nil, err
		}
		l.Entries[c] = e
		l.Foot = c
		if e.Seqno == 0 {
			break
		}
		c = e.Prev
	}
	return l, nil
}
