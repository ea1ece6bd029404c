package provlog

import "fmt"

// Config bounds script execution. Zero limit fields fall back to the
// DefaultConfig values during validation.
type Config struct {
	// MaxScriptBytes rejects scripts larger than this before execution.
	MaxScriptBytes int
	// Fuel bounds the number of evaluation steps per script run.
	Fuel uint64
	// AllowCheckInUnlock lifts the guard that fails validation when an
	// unlock script calls a check function.
	AllowCheckInUnlock bool
	// Engine executes bin (wasm) scripts. Validating an entry that
	// carries a bin script without one fails with ErrNoEngine.
	Engine Engine
}

// DefaultConfig returns the limits used for zero Config fields.
func DefaultConfig() Config {
	return Config{
		MaxScriptBytes: 1 << 20,
		Fuel:           1 << 16,
	}
}

func (c Config) orDefault() Config {
	d := DefaultConfig()
	if c.MaxScriptBytes == 0 {
		c.MaxScriptBytes = d.MaxScriptBytes
	}
	if c.Fuel == 0 {
		c.Fuel = d.Fuel
	}
	return c
}

// hostContext is the environment one script runs in: the parameter
// store it reads, the two stacks, the check counter, and the branch the
// script is bound to. Lock scripts get a fresh context each; unlock
// scripts get one with the check guard armed.
type hostContext struct {
	cfg        Config
	store      *Kvp
	pstack     *Stack
	rstack     *Stack
	context    Key
	checkCount uint64
	unlock     bool
	fuel       uint64
}

func newHostContext(cfg Config, store *Kvp, pstack *Stack, context Key, unlock bool) *hostContext {
	return &hostContext{
		cfg:     cfg,
		store:   store,
		pstack:  pstack,
		rstack:  NewStack("return"),
		context: context,
		unlock:  unlock,
		fuel:    cfg.Fuel,
	}
}

// useFuel charges n evaluation steps against the budget.
func (h *hostContext) useFuel(n uint64) error {
	if h.fuel < n {
		return fmt.Errorf("%w: fuel exhausted", ErrScript)
	}
	h.fuel -= n
	return nil
}

// Push looks up a key-path in the parameter store and pushes its value
// bytes. An absent key aborts the script.
func (h *hostContext) Push(k Key) error {
	v, ok := h.store.Get(k)
	if !ok {
		return fmt.Errorf("%w: push %q", ErrMissingKey, k.String())
	}
	switch v.Kind {
	case ValueStr:
		h.pstack.Push(StrStackValue(v.Str))
	default:
		h.pstack.Push(BinValue(v.Bytes()))
	}
	return nil
}

// Pop removes and discards the top of the parameter stack.
func (h *hostContext) Pop() error {
	_, err := h.pstack.Pop()
	return err
}

// Branch resolves a relative path against the script's bound branch.
// Scripts bound to a leaf cannot call it.
func (h *hostContext) Branch(rel string) (Key, error) {
	if !h.context.IsBranch() {
		return Key{}, fmt.Errorf("%w: branch() in a script bound to leaf %q", ErrScript, h.context.String())
	}
	return h.context.Join(rel)
}

func (h *hostContext) guardCheck(name string) error {
	if h.unlock && !h.cfg.AllowCheckInUnlock {
		return fmt.Errorf("%w: %s called from unlock script", ErrScript, name)
	}
	return nil
}

// runCheck wraps the snapshot discipline shared by every check: the
// check runs against clones of the parameter store and stack; a passing
// check commits the clones and pushes SUCCESS(count) onto the return
// stack; a failing check discards them and only advances the counter.
func (h *hostContext) runCheck(name string, check func(store *Kvp, pstack *Stack) (bool, error)) (bool, error) {
	if err := h.guardCheck(name); err != nil {
		return false, err
	}
	store := h.store.Clone()
	pstack := h.pstack.Clone()
	ok, err := check(store, pstack)
	if err != nil {
		return false, err
	}
	if !ok {
		h.checkCount++
		logger.Debug().Str("check", name).Uint64("count", h.checkCount).Msg("check failed")
		return false, nil
	}
	h.store = store
	h.pstack = pstack
	h.rstack.Push(Success(h.checkCount))
	logger.Debug().Str("check", name).Uint64("count", h.checkCount).Msg("check passed")
	return true, nil
}

// CheckEq compares the value at a key-path against the top of the
// parameter stack, byte for byte.
func (h *hostContext) CheckEq(k Key) (bool, error) {
	return h.runCheck("check_eq", func(store *Kvp, pstack *Stack) (bool, error) {
		want, ok := store.Get(k)
		if !ok {
			return false, nil
		}
		top, ok := pstack.Top()
		if !ok {
			return false, nil
		}
		got, ok := ValueBytes(top)
		if !ok {
			return false, nil
		}
		if string(got) != string(want.Bytes()) {
			return false, nil
		}
		_, err := pstack.Pop()
		return true, err
	})
}

// CheckPreimage reads a multihash at a key-path, hashes the top of the
// parameter stack with the same algorithm, and compares digests.
func (h *hostContext) CheckPreimage(k Key) (bool, error) {
	return h.runCheck("check_preimage", func(store *Kvp, pstack *Stack) (bool, error) {
		stored, ok := store.Get(k)
		if !ok {
			return false, nil
		}
		top, ok := pstack.Top()
		if !ok {
			return false, nil
		}
		candidate, ok := ValueBytes(top)
		if !ok {
			return false, nil
		}
		match, err := verifyPreimage(stored.Bytes(), candidate)
		if err != nil || !match {
			return false, nil
		}
		_, err = pstack.Pop()
		return true, err
	})
}

// CheckSignature reads a multiformat public key at a key-path and
// verifies the signature on top of the parameter stack over the message
// below it. Stale SUCCESS markers above the signature are skipped.
func (h *hostContext) CheckSignature(k Key) (bool, error) {
	return h.runCheck("check_signature", func(store *Kvp, pstack *Stack) (bool, error) {
		pub, ok := store.Get(k)
		if !ok {
			return false, nil
		}
		for {
			top, ok := pstack.Top()
			if !ok {
				return false, nil
			}
			if _, isMarker := top.(Success); !isMarker {
				break
			}
			if _, err := pstack.Pop(); err != nil {
				return false, err
			}
		}
		sigv, ok := pstack.Peek(0)
		if !ok {
			return false, nil
		}
		msgv, ok := pstack.Peek(1)
		if !ok {
			return false, nil
		}
		sig, ok := ValueBytes(sigv)
		if !ok {
			return false, nil
		}
		msg, ok := ValueBytes(msgv)
		if !ok {
			return false, nil
		}
		valid, err := verifySignature(pub.Bytes(), msg, sig)
		if err != nil || !valid {
			return false, nil
		}
		if _, err := pstack.Pop(); err != nil {
			return false, err
		}
		if _, err := pstack.Pop(); err != nil {
			return false, err
		}
		return true, nil
	})
}

// Succeeded reports whether the run left a SUCCESS marker on top of the
// return stack, and its precedence payload.
func (h *hostContext) Succeeded() (uint64, bool) {
	top, ok := h.rstack.Top()
	if !ok {
		return 0, false
	}
	s, ok := top.(Success)
	return uint64(s), ok
}
