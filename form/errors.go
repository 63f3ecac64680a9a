package form

import (
	"errors"
	"fmt"
	"strings"

	"formlib/ir/raw"
)

// ErrSessionClosed is returned when a session is used after serialization or
// after a fatal apply failure. The caller must rebuild the session from the
// original bytes.
var ErrSessionClosed = errors.New("form: session is closed")

// MalformedStructureError reports an internally inconsistent object store:
// a missing required key, or the wrong primitive kind where a dictionary or
// array was expected.
type MalformedStructureError struct {
	Ref    raw.ObjectRef
	Reason string
}

func (e *MalformedStructureError) Error() string {
	return fmt.Sprintf("form: malformed structure at %s: %s", e.Ref, e.Reason)
}

// UnresolvedReferenceError reports a reference to a non-existent object.
type UnresolvedReferenceError struct {
	Ref raw.ObjectRef
}

func (e *UnresolvedReferenceError) Error() string {
	return fmt.Sprintf("form: unresolved reference %s", e.Ref)
}

// CyclicFieldHierarchyError reports a field whose ancestor chain revisits a
// node.
type CyclicFieldHierarchyError struct {
	Ref raw.ObjectRef
}

func (e *CyclicFieldHierarchyError) Error() string {
	return fmt.Sprintf("form: cyclic field hierarchy through %s", e.Ref)
}

// UnknownFieldsError lists every batch name absent from the field index.
type UnknownFieldsError struct {
	Names []string
}

func (e *UnknownFieldsError) Error() string {
	return fmt.Sprintf("form: unknown fields: %s", strings.Join(e.Names, ", "))
}

// TypeMismatchError reports a batch value whose kind does not match the
// field's declared type.
type TypeMismatchError struct {
	Field    string
	Expected FieldType
	Actual   Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("form: field %q expects %s, got %s", e.Field, e.Expected, e.Actual)
}

// NameCollisionError reports two nodes resolving to the same qualified name
// under the fail-fast collision policy.
type NameCollisionError struct {
	Name string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("form: qualified name collision: %q", e.Name)
}

// EncodingError reports a value that cannot be represented in the target
// primitive form.
type EncodingError struct {
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("form: cannot encode value for %q: %s", e.Field, e.Reason)
}

// SerializationError reports that regeneration could not produce valid
// output. It is fatal and non-retryable within a session.
type SerializationError struct {
	Err error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("form: serialization failed: %v", e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }
