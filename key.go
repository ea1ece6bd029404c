package provlog

import (
	"fmt"
	"strings"
	"unicode"
)

// KeySeparator separates the parts of a key-path.
const KeySeparator = '/'

// Key is a path of namespaces referencing values in the virtual
// key-value store. Keys come in two flavors: a branch ends with the
// separator ("/foo/bar/") and names a namespace of leaves; a leaf does
// not ("/foo/bar") and names a single value. "/" is the root branch.
//
// Internally a key is the list of separator-split parts of its
// normalized string form, so "/" is ["",""], "/foo" is ["","foo"] and
// "/foo/" is ["","foo",""]. Every valid key-path normalizes to exactly
// one byte sequence.
type Key struct {
	parts []string
}

// RootKey returns the root branch "/".
func RootKey() Key {
	return Key{parts: []string{"", ""}}
}

// ParseKey validates and normalizes a key-path string. The string must
// be non-empty, begin with the separator, and contain only printable
// characters. Runs of the separator collapse to one.
func ParseKey(s string) (Key, error) {
	if len(s) == 0 {
		return Key{}, fmt.Errorf("%w: empty key", ErrInvalidKeyPath)
	}
	if s[0] != byte(KeySeparator) {
		return Key{}, fmt.Errorf("%w: %q does not begin with %q", ErrInvalidKeyPath, s, KeySeparator)
	}
	var b strings.Builder
	prev := KeySeparator
	for i, c := range s {
		if !unicode.IsPrint(c) {
			return Key{}, fmt.Errorf("%w: %q contains non-printable characters", ErrInvalidKeyPath, s)
		}
		if i > 0 && c == KeySeparator && prev == KeySeparator {
			continue
		}
		b.WriteRune(c)
		prev = c
	}
	return Key{parts: strings.Split(b.String(), string(KeySeparator))}, nil
}

// MustKey is ParseKey for statically known paths; it panics on error.
func MustKey(s string) Key {
	k, err := ParseKey(s)
	if err != nil {
		panic(err)
	}
	return k
}

// IsZero reports whether the key is the uninitialized zero value.
func (k Key) IsZero() bool {
	return len(k.parts) == 0
}

// IsBranch reports whether the key is a branch path.
func (k Key) IsBranch() bool {
	return len(k.parts) > 0 && k.parts[len(k.parts)-1] == ""
}

// IsLeaf reports whether the key is a leaf path.
func (k Key) IsLeaf() bool {
	return len(k.parts) > 0 && k.parts[len(k.parts)-1] != ""
}

// Depth returns the number of non-empty segments; the root branch has
// depth 0.
func (k Key) Depth() int {
	switch n := len(k.parts); {
	case n == 0:
		return 0
	case k.IsBranch():
		return n - 2
	default:
		return n - 1
	}
}

// Branch returns the branch containing this key: the key itself if it
// already is a branch, otherwise the key with its last segment dropped
// and the trailing separator kept.
func (k Key) Branch() Key {
	if k.IsBranch() || len(k.parts) == 0 {
		return k
	}
	p := append([]string(nil), k.parts[:len(k.parts)-1]...)
	p = append(p, "")
	return Key{parts: p}
}

// LongestCommonBranch returns the longest branch that is a prefix of
// both keys. The result is always a branch; disjoint keys share "/".
func (k Key) LongestCommonBranch(other Key) Key {
	l, r := k.Branch(), other.Branch()
	var v []string
	for i := 0; i < len(l.parts) && i < len(r.parts); i++ {
		if l.parts[i] != r.parts[i] {
			break
		}
		v = append(v, l.parts[i])
	}
	switch len(v) {
	case 0:
		v = []string{"", ""}
	case 1:
		v = append(v, "")
	default:
		if v[len(v)-1] != "" {
			v = append(v, "")
		}
	}
	return Key{parts: v}
}

// ParentOf reports whether this key governs other: a leaf governs only
// itself, a branch governs every key it prefixes at a separator
// boundary (itself included).
func (k Key) ParentOf(other Key) bool {
	if k.IsLeaf() {
		return k.String() == other.String()
	}
	return strings.HasPrefix(other.String(), k.String())
}

// Join concatenates a branch with a relative path and parses the
// result. Joining onto a leaf is an error.
func (k Key) Join(rel string) (Key, error) {
	if !k.IsBranch() {
		return Key{}, fmt.Errorf("%w: cannot join %q onto leaf %q", ErrInvalidKeyPath, rel, k)
	}
	return ParseKey(k.String() + strings.TrimPrefix(rel, string(KeySeparator)))
}

// Compare orders keys part-wise lexicographically, which puts shorter
// (closer to the root) branch paths first.
func (k Key) Compare(other Key) int {
	for i := 0; i < len(k.parts) && i < len(other.parts); i++ {
		if c := strings.Compare(k.parts[i], other.parts[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(k.parts) < len(other.parts):
		return -1
	case len(k.parts) > len(other.parts):
		return 1
	}
	return 0
}

// Equal reports whether two keys normalize to the same path.
func (k Key) Equal(other Key) bool {
	return k.Compare(other) == 0 && len(k.parts) == len(other.parts)
}

func (k Key) String() string {
	return strings.Join(k.parts, string(KeySeparator))
}

// LongestCommonBranchAll folds LongestCommonBranch over a set of keys.
// An empty set yields the root branch.
func LongestCommonBranchAll(keys []Key) Key {
	if len(keys) == 0 {
		return RootKey()
	}
	ctx := keys[0].Branch()
	for _, k := range keys[1:] {
		ctx = k.Branch().LongestCommonBranch(ctx)
	}
	return ctx
}
