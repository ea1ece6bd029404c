package provlog

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
)

// ScriptKind discriminates the wire form of a Script.
type ScriptKind uint64

// Script wire ids. These are canonical and never renumbered.
const (
	ScriptBin ScriptKind = iota
	ScriptCode
	ScriptCid
)

// Script is a lock or unlock program together with the key-path it is
// associated with. Bin carries compiled wasm, Code carries source text
// for the built-in interpreter, and Cid defers the body to a
// content-addressed fetch. For lock scripts the path scopes which
// entries the lock governs; for unlock scripts the path is
// conventionally "/".
type Script struct {
	Kind ScriptKind
	Key  Key
	Bin  []byte
	Code string
	Cid  cid.Cid
}

// BinScript binds compiled wasm to a key-path.
func BinScript(k Key, wasm []byte) Script {
	return Script{Kind: ScriptBin, Key: k, Bin: wasm}
}

// CodeScript binds interpreter source to a key-path.
func CodeScript(k Key, src string) Script {
	return Script{Kind: ScriptCode, Key: k, Code: src}
}

// CidScript binds a content-addressed script body to a key-path.
func CidScript(k Key, c cid.Cid) Script {
	return Script{Kind: ScriptCid, Key: k, Cid: c}
}

// CID returns the content identifier of the script's canonical form,
// computed the same way as entry CIDs. A vlad carries the CID of its
// log's first lock script.
func (s Script) CID() (cid.Cid, error) {
	h, err := mh.Sum(s.Encode(), mh.SHA3_512, -1)
	if err != nil {
		return cid.Undef, fmt.Errorf("script cid: %w", err)
	}
	return cid.NewCidV1(uint64(multicodec.DagCbor), h), nil
}

// Size returns the byte length of the script body, used to enforce
// Config.MaxScriptBytes before execution.
func (s Script) Size() int {
	switch s.Kind {
	case ScriptBin:
		return len(s.Bin)
	case ScriptCode:
		return len(s.Code)
	default:
		return len(s.Cid.Bytes())
	}
}

func (s Script) String() string {
	switch s.Kind {
	case ScriptBin:
		return fmt.Sprintf("bin(%s, %d bytes)", s.Key, len(s.Bin))
	case ScriptCode:
		return fmt.Sprintf("code(%s, %d bytes)", s.Key, len(s.Code))
	default:
		return fmt.Sprintf("cid(%s, %s)", s.Key, s.Cid)
	}
}

// Equal compares kind, path and body.
func (s Script) Equal(other Script) bool {
	if s.Kind != other.Kind || !s.Key.Equal(other.Key) {
		return false
	}
	switch s.Kind {
	case ScriptBin:
		return string(s.Bin) == string(other.Bin)
	case ScriptCode:
		return s.Code == other.Code
	default:
		return s.Cid.Equals(other.Cid)
	}
}

// scriptsEqual compares two lock lists element-wise. A changed lock set
// pulls the root lock into the governing set during validation.
func scriptsEqual(a, b []Script) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
