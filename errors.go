package provlog

import "errors"

// ErrMalformedEntry indicates a codec failure: bad sigil, unknown field
// tag, truncated bytes, or an unsupported entry version.
var ErrMalformedEntry = errors.New("malformed entry")

// ErrInvalidKeyPath indicates a key-path that fails the grammar: empty,
// missing the root separator, or containing non-printable characters.
var ErrInvalidKeyPath = errors.New("invalid key-path")

// ErrBrokenChain indicates a prev or lipmaa CID mismatch or a seqno
// discontinuity between adjacent entries.
var ErrBrokenChain = errors.New("broken entry chain")

// ErrScript indicates a script-level failure: parse error, fuel
// exhausted, oversize script, missing entry point, or a disallowed host
// call. Scripts that trap fail their lock; the validator moves on.
var ErrScript = errors.New("script error")

// ErrLockFailed indicates that every eligible lock script finished
// without a SUCCESS marker on top of the return stack.
var ErrLockFailed = errors.New("no lock script succeeded")

// ErrMissingKey indicates push or a check referenced a key-path absent
// from the parameter store.
var ErrMissingKey = errors.New("key-path not found")

// ErrStackEmpty indicates pop or a check needed a stack value that was
// not there.
var ErrStackEmpty = errors.New("stack is empty")

// ErrNoEngine indicates a binary (wasm) script was executed without a
// registered Engine.
var ErrNoEngine = errors.New("no script engine registered")
