package provlog

import (
	"bytes"
	"testing"
)

func testVlad(t *testing.T) Vlad {
	t.Helper()
	fl := DefaultFirstLock()
	c, err := fl.CID()
	if err != nil {
		t.Fatalf("first lock cid: %v", err)
	}
	return NewVlad([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, c)
}

func testEntry(t *testing.T) *Entry {
	t.Helper()
	e, err := NewEntryBuilder().
		WithVlad(testVlad(t)).
		WithSeqno(0).
		AddOp(Update(MustKey("/name"), StrValue("foo"))).
		AddOp(Update(MustKey("/key"), DataValue([]byte{0xde, 0xad}))).
		AddOp(Delete(MustKey("/old"))).
		AddOp(Noop(MustKey("/touched/"))).
		WithLocks(CodeScript(RootKey(), `check_signature("/pubkey")`)).
		WithUnlock(CodeScript(RootKey(), `push("/entry/"); push("/entry/proof")`)).
		Build(func(e *Entry) ([]byte, error) {
			return []byte("not a real proof"), nil
		})
	if err != nil {
		t.Fatalf("build entry: %v", err)
	}
	return e
}

func TestEntryRoundTrip(t *testing.T) {
	e := testEntry(t)
	enc := e.Encode()

	got, rest, err := DecodeEntry(enc)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("decode left %d trailing bytes", len(rest))
	}
	if !bytes.Equal(got.Encode(), enc) {
		t.Error("decode then encode changed the bytes")
	}
	if got.Seqno != e.Seqno || len(got.Ops) != len(e.Ops) || len(got.Locks) != len(e.Locks) {
		t.Error("decoded entry differs")
	}
	for i := range e.Ops {
		if got.Ops[i].String() != e.Ops[i].String() {
			t.Errorf("op %d = %s, want %s", i, got.Ops[i], e.Ops[i])
		}
	}
	if !got.Unlock.Equal(e.Unlock) {
		t.Error("unlock script differs")
	}
	if !bytes.Equal(got.Proof, e.Proof) {
		t.Error("proof differs")
	}
}

func TestEncodeDeterministic(t *testing.T) {
	e := testEntry(t)
	if !bytes.Equal(e.Encode(), e.Encode()) {
		t.Error("two encodings of the same entry differ")
	}
	c1, err := e.CID()
	if err != nil {
		t.Fatal(err)
	}
	// Decode and re-derive: the CID must be stable across a round trip.
	got, _, err := DecodeEntry(e.Encode())
	if err != nil {
		t.Fatal(err)
	}
	c2, err := got.CID()
	if err != nil {
		t.Fatal(err)
	}
	if !c1.Equals(c2) {
		t.Errorf("cid changed across round trip: %s vs %s", c1, c2)
	}
}

func TestProofErasedForm(t *testing.T) {
	e := testEntry(t)
	erased := e.EncodeProofErased()
	if bytes.Equal(erased, e.Encode()) {
		t.Fatal("erased form equals the full form")
	}
	if bytes.Contains(erased, e.Proof) {
		t.Error("erased form still carries the proof bytes")
	}

	// The erased form is itself decodable, with an empty proof.
	got, rest, err := DecodeEntry(erased)
	if err != nil {
		t.Fatalf("decode erased: %v", err)
	}
	if len(rest) != 0 {
		t.Fatal("trailing bytes after erased entry")
	}
	if len(got.Proof) != 0 {
		t.Errorf("erased proof = %d bytes, want 0", len(got.Proof))
	}

	// Erasing is stable: an entry without proof erases to its encoding.
	if !bytes.Equal(got.Encode(), erased) {
		t.Error("erased form does not round-trip")
	}
}

func TestScriptRoundTrip(t *testing.T) {
	c, err := DefaultFirstLock().CID()
	if err != nil {
		t.Fatal(err)
	}
	scripts := []Script{
		CodeScript(MustKey("/delegated/"), `check_signature(branch("pubkey"))`),
		BinScript(RootKey(), []byte{0x00, 0x61, 0x73, 0x6d}),
		CidScript(MustKey("/recovery/"), c),
	}
	for _, s := range scripts {
		enc := s.Encode()
		got, rest, err := DecodeScript(enc)
		if err != nil {
			t.Fatalf("decode %s: %v", s, err)
		}
		if len(rest) != 0 {
			t.Fatalf("trailing bytes after %s", s)
		}
		if !got.Equal(s) {
			t.Errorf("round trip changed %s into %s", s, got)
		}
	}
}

func TestVladRoundTrip(t *testing.T) {
	v := testVlad(t)
	enc := v.Encode()
	got, rest, err := DecodeVlad(enc)
	if err != nil {
		t.Fatalf("decode vlad: %v", err)
	}
	if len(rest) != 0 {
		t.Fatal("trailing bytes after vlad")
	}
	if !got.Equal(v) {
		t.Error("vlad round trip differs")
	}

	s := v.String()
	parsed, err := ParseVlad(s)
	if err != nil {
		t.Fatalf("parse vlad %q: %v", s, err)
	}
	if !parsed.Equal(v) {
		t.Error("vlad text round trip differs")
	}
}

func TestValueRoundTrip(t *testing.T) {
	for _, v := range []Value{NilValue(), StrValue("hello"), DataValue([]byte{1, 2, 3})} {
		enc := appendValue(nil, v)
		got, rest, err := readValue(enc)
		if err != nil {
			t.Fatalf("decode %s: %v", v, err)
		}
		if len(rest) != 0 {
			t.Fatalf("trailing bytes after %s", v)
		}
		if !got.Equal(v) {
			t.Errorf("round trip changed %s into %s", v, got)
		}
	}
}

func TestDecodeRejectsBadSigil(t *testing.T) {
	e := testEntry(t)
	enc := e.Encode()
	enc[0] ^= 0xff
	if _, _, err := DecodeEntry(enc); err == nil {
		t.Error("decode accepted a corrupt sigil")
	}
}

func TestLogRoundTrip(t *testing.T) {
	l, _, _ := buildBasicLog(t, 3)
	enc, err := l.Encode()
	if err != nil {
		t.Fatalf("encode log: %v", err)
	}
	got, err := DecodeLog(enc)
	if err != nil {
		t.Fatalf("decode log: %v", err)
	}
	if got.Head != l.Head || got.Foot != l.Foot {
		t.Error("log round trip changed foot or head")
	}
	if len(got.Entries) != len(l.Entries) {
		t.Errorf("log round trip has %d entries, want %d", len(got.Entries), len(l.Entries))
	}
	enc2, err := got.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, enc2) {
		t.Error("log encoding is not deterministic across a round trip")
	}
}
