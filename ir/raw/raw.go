package raw

import (
	"context"
	"fmt"
	"io"
)

// ObjectRef uniquely identifies an indirect object: a weak handle into the
// document's object store, resolved on demand.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the base interface for all raw objects.
type Object interface {
	Type() string
	IsIndirect() bool
}

// Dictionary represents a dictionary object.
type Dictionary interface {
	Object
	Get(key Name) (Object, bool)
	Set(key Name, value Object)
	Keys() []Name
	Len() int
}

// Array represents an array object.
type Array interface {
	Object
	Get(index int) (Object, bool)
	Len() int
	Append(obj Object)
}

// Stream represents a raw (undecoded) stream.
type Stream interface {
	Object
	Dictionary() Dictionary
	RawData() []byte
	Length() int64
}

// Name represents a name object.
type Name interface {
	Object
	Value() string
}

// String represents a string (literal or hex).
type String interface {
	Object
	Value() []byte
	IsHex() bool
}

// Number represents a numeric value.
type Number interface {
	Object
	Int() int64
	Float() float64
	IsInteger() bool
}

// Boolean represents a boolean.
type Boolean interface {
	Object
	Value() bool
}

// Null represents the null object.
type Null interface{ Object }

// Reference represents an indirect object reference.
type Reference interface {
	Object
	Ref() ObjectRef
}

// Document is the root container for raw objects. The store is structurally
// immutable during a session's read phase; value updates replace whole
// entries with freshly allocated objects.
type Document struct {
	Objects map[ObjectRef]Object
	Trailer Dictionary
	Version string // e.g., "1.7"
}

// Parser converts bytes into a raw.Document.
type Parser interface {
	Parse(ctx context.Context, r io.ReaderAt) (*Document, error)
}
