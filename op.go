package provlog

import "fmt"

// OpKind discriminates the wire form of an Op.
type OpKind uint64

// Op wire ids. These are canonical and never renumbered.
const (
	OpNoop OpKind = iota
	OpDelete
	OpUpdate
)

// Op is a single mutation carried by an entry: update a key-path to a
// value, delete it, or touch it without changing it. Noop still makes
// its path part of the ops context, so it widens which locks govern the
// entry.
type Op struct {
	Kind  OpKind
	Key   Key
	Value Value
}

// Noop returns a touch of the given key-path.
func Noop(k Key) Op { return Op{Kind: OpNoop, Key: k} }

// Delete returns a deletion of the given key-path.
func Delete(k Key) Op { return Op{Kind: OpDelete, Key: k} }

// Update returns an update of the given key-path to v.
func Update(k Key, v Value) Op { return Op{Kind: OpUpdate, Key: k, Value: v} }

func (o Op) String() string {
	switch o.Kind {
	case OpNoop:
		return fmt.Sprintf("noop(%s)", o.Key)
	case OpDelete:
		return fmt.Sprintf("delete(%s)", o.Key)
	default:
		return fmt.Sprintf("update(%s, %s)", o.Key, o.Value)
	}
}
