package provlog

import "fmt"

// StackValue is one element on a script stack: opaque bytes, text, the
// SUCCESS(n) marker a passing check leaves behind, or the FAILURE
// marker a failed script run leaves on the return stack.
type StackValue interface {
	stackValue()
	String() string
}

// BinValue is an opaque byte string on the stack.
type BinValue []byte

// StrStackValue is a text value on the stack.
type StrStackValue string

// Success is the marker a passing check pushes onto the return stack.
// Its payload is the check count at the time of success, which becomes
// the winning lock's precedence payload.
type Success uint64

// Failure marks an overall failed script run on the return stack. It
// shadows any stale Success below it.
type Failure struct{}

func (BinValue) stackValue()      {}
func (StrStackValue) stackValue() {}
func (Success) stackValue()       {}
func (Failure) stackValue()       {}

func (v BinValue) String() string      { return fmt.Sprintf("bin(%d bytes)", len(v)) }
func (v StrStackValue) String() string { return fmt.Sprintf("str(%q)", string(v)) }
func (v Success) String() string       { return fmt.Sprintf("success(%d)", uint64(v)) }
func (Failure) String() string         { return "failure" }

// ValueBytes returns the byte view of a stack value for comparisons
// and signature checks. Markers have no byte view.
func ValueBytes(v StackValue) ([]byte, bool) {
	switch v := v.(type) {
	case BinValue:
		return v, true
	case StrStackValue:
		return []byte(v), true
	}
	return nil, false
}

// Stack is a LIFO of stack values. Scripts run against two of them:
// the parameter stack unlock scripts seed and checks consume, and the
// return stack result markers land on.
type Stack struct {
	name  string
	items []StackValue
}

// NewStack returns an empty named stack; the name only feeds tracing.
func NewStack(name string) *Stack {
	return &Stack{name: name}
}

// Push adds a value on top.
func (s *Stack) Push(v StackValue) {
	s.items = append(s.items, v)
	logger.Trace().Str("stack", s.name).Stringer("value", v).Int("depth", len(s.items)).Msg("push")
}

// Pop removes and returns the top value.
func (s *Stack) Pop() (StackValue, error) {
	if len(s.items) == 0 {
		return nil, fmt.Errorf("%s: %w", s.name, ErrStackEmpty)
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	logger.Trace().Str("stack", s.name).Stringer("value", v).Int("depth", len(s.items)).Msg("pop")
	return v, nil
}

// Top returns the top value without removing it.
func (s *Stack) Top() (StackValue, bool) {
	if len(s.items) == 0 {
		return nil, false
	}
	return s.items[len(s.items)-1], true
}

// Peek returns the value at depth i, 0 being the top.
func (s *Stack) Peek(i int) (StackValue, bool) {
	if i < 0 || i >= len(s.items) {
		return nil, false
	}
	return s.items[len(s.items)-1-i], true
}

// Len returns the number of values on the stack.
func (s *Stack) Len() int { return len(s.items) }

// Clone returns an independent copy. Stack values are immutable, so
// sharing them between clones is safe.
func (s *Stack) Clone() *Stack {
	return &Stack{name: s.name, items: append([]StackValue(nil), s.items...)}
}
