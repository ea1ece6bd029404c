package provlog

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Host is the execution environment an external script engine drives.
// It mirrors the wacc import table: the six host functions plus fuel
// accounting. Key arguments arrive already resolved to key-paths.
type Host interface {
	Push(k Key) error
	Pop() error
	Branch(rel string) (Key, error)
	CheckEq(k Key) (bool, error)
	CheckPreimage(k Key) (bool, error)
	CheckSignature(k Key) (bool, error)
	UseFuel(n uint64) error
}

// UseFuel charges n steps against the run's fuel budget.
func (h *hostContext) UseFuel(n uint64) error { return h.useFuel(n) }

// Engine executes compiled (wasm) scripts against a Host. The module
// contract: unlock scripts export for_great_justice, lock scripts
// export move_every_zig, both importing the host functions from module
// wacc. The returned bool is the entry point's verdict; the host's
// return stack still decides lock success. Engines travel on Config;
// there is no package-level registration.
type Engine interface {
	ExecUnlock(h Host, wasm []byte) (bool, error)
	ExecLock(h Host, wasm []byte) (bool, error)
}

// ScriptLoader fetches the canonical bytes of a content-addressed
// script. Validation needs one only when a cid script is reached.
type ScriptLoader func(cid.Cid) ([]byte, error)

// maxScriptChain bounds cid script indirection. CIDs are
// content-addressed so honest chains cannot cycle, but a misbehaving
// loader must not run the resolver forever.
const maxScriptChain = 8

// runScript dispatches one script, lock or unlock, to its backend:
// code scripts to the built-in interpreter, bin scripts to the
// configured engine, cid scripts through load, chains resolved until a
// bin or code body is reached. The loaded body keeps the outer
// script's path binding.
func runScript(h *hostContext, s Script, lock bool, load ScriptLoader) (bool, error) {
	if h.cfg.MaxScriptBytes > 0 && s.Size() > h.cfg.MaxScriptBytes {
		return false, fmt.Errorf("%w: script of %d bytes exceeds limit %d", ErrScript, s.Size(), h.cfg.MaxScriptBytes)
	}
	switch s.Kind {
	case ScriptCode:
		return evalScript(h, s.Code)
	case ScriptBin:
		if h.cfg.Engine == nil {
			return false, ErrNoEngine
		}
		if lock {
			return h.cfg.Engine.ExecLock(h, s.Bin)
		}
		return h.cfg.Engine.ExecUnlock(h, s.Bin)
	case ScriptCid:
		if load == nil {
			return false, fmt.Errorf("%w: no script loader for %s", ErrScript, s.Cid)
		}
		body := s
		for depth := 0; body.Kind == ScriptCid; depth++ {
			if depth == maxScriptChain {
				return false, fmt.Errorf("%w: cid script chain longer than %d", ErrScript, maxScriptChain)
			}
			raw, err := load(body.Cid)
			if err != nil {
				return false, fmt.Errorf("%w: loading %s: %v", ErrScript, body.Cid, err)
			}
			next, rest, err := DecodeScript(raw)
			if err != nil {
				return false, err
			}
			if len(rest) != 0 {
				return false, fmt.Errorf("%w: trailing bytes after script %s", ErrMalformedEntry, body.Cid)
			}
			body = next
		}
		body.Key = s.Key
		return runScript(h, body, lock, load)
	}
	return false, fmt.Errorf("%w: unknown script kind %d", ErrScript, s.Kind)
}
