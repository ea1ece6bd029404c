package provlog

import (
	"bytes"
	"testing"
)

func TestEntryCBORRoundTrip(t *testing.T) {
	e := testEntry(t)
	data, err := e.MarshalCBOR()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got Entry
	if err := got.UnmarshalCBOR(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	// The CBOR wrapper carries canonical sub-encodings, so the CID is
	// preserved across the trip.
	c1, err := e.CID()
	if err != nil {
		t.Fatal(err)
	}
	c2, err := got.CID()
	if err != nil {
		t.Fatal(err)
	}
	if !c1.Equals(c2) {
		t.Errorf("cid changed across cbor round trip: %s vs %s", c1, c2)
	}
}

func TestEntryCBORDeterministic(t *testing.T) {
	e := testEntry(t)
	a, err := e.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.MarshalCBOR()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a, b) {
		t.Error("two cbor encodings of the same entry differ")
	}
}

func TestEntryCBORRejectsGarbage(t *testing.T) {
	var e Entry
	if err := e.UnmarshalCBOR([]byte{0xff, 0x00, 0x01}); err == nil {
		t.Error("garbage cbor decoded")
	}
}
