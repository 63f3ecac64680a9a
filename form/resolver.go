package form

import (
	"formlib/ir/raw"
)

// Resolver dereferences indirect references against a document's object
// store. The store is decoded once at parse time, so every lookup is a map
// hit; the resolver's job is typed failures and cycle guards on reference
// chains.
type Resolver struct {
	doc *raw.Document
}

func NewResolver(doc *raw.Document) *Resolver { return &Resolver{doc: doc} }

// ResolveRef returns the object stored under ref.
func (r *Resolver) ResolveRef(ref raw.ObjectRef) (raw.Object, error) {
	obj, ok := r.doc.Objects[ref]
	if !ok {
		return nil, &UnresolvedReferenceError{Ref: ref}
	}
	return obj, nil
}

// Deref follows reference chains until a direct object is reached. A chain
// that revisits a reference is reported as cyclic.
func (r *Resolver) Deref(obj raw.Object) (raw.Object, error) {
	var seen map[raw.ObjectRef]struct{}
	for {
		ref, ok := obj.(raw.RefObj)
		if !ok {
			return obj, nil
		}
		if seen == nil {
			seen = make(map[raw.ObjectRef]struct{}, 4)
		}
		if _, dup := seen[ref.R]; dup {
			return nil, &CyclicFieldHierarchyError{Ref: ref.R}
		}
		seen[ref.R] = struct{}{}
		next, err := r.ResolveRef(ref.R)
		if err != nil {
			return nil, err
		}
		obj = next
	}
}

// DerefDict resolves obj and asserts it is a dictionary. A nil obj yields
// nil without error so optional keys stay cheap to probe.
func (r *Resolver) DerefDict(obj raw.Object) (*raw.DictObj, error) {
	if obj == nil {
		return nil, nil
	}
	resolved, err := r.Deref(obj)
	if err != nil {
		return nil, err
	}
	if dict, ok := resolved.(*raw.DictObj); ok {
		return dict, nil
	}
	if _, ok := resolved.(raw.NullObj); ok {
		return nil, nil
	}
	return nil, nil
}

// DerefArray resolves obj and asserts it is an array.
func (r *Resolver) DerefArray(obj raw.Object) (*raw.ArrayObj, error) {
	if obj == nil {
		return nil, nil
	}
	resolved, err := r.Deref(obj)
	if err != nil {
		return nil, err
	}
	if arr, ok := resolved.(*raw.ArrayObj); ok {
		return arr, nil
	}
	return nil, nil
}

// DictAt fetches dict[key] and resolves it to a dictionary.
func (r *Resolver) DictAt(dict *raw.DictObj, key string) (*raw.DictObj, error) {
	obj, ok := dict.Get(raw.NameLiteral(key))
	if !ok {
		return nil, nil
	}
	return r.DerefDict(obj)
}

// ArrayAt fetches dict[key] and resolves it to an array.
func (r *Resolver) ArrayAt(dict *raw.DictObj, key string) (*raw.ArrayObj, error) {
	obj, ok := dict.Get(raw.NameLiteral(key))
	if !ok {
		return nil, nil
	}
	return r.DerefArray(obj)
}

// ValueAt fetches dict[key] resolved to a direct object, or nil when absent
// or unresolvable.
func (r *Resolver) ValueAt(dict *raw.DictObj, key string) raw.Object {
	obj, ok := dict.Get(raw.NameLiteral(key))
	if !ok {
		return nil
	}
	resolved, err := r.Deref(obj)
	if err != nil {
		return nil
	}
	return resolved
}

// NameAt fetches dict[key] as a name value.
func (r *Resolver) NameAt(dict *raw.DictObj, key string) (string, bool) {
	if n, ok := r.ValueAt(dict, key).(raw.NameObj); ok {
		return n.Val, true
	}
	return "", false
}

// StringAt fetches dict[key] as string bytes.
func (r *Resolver) StringAt(dict *raw.DictObj, key string) ([]byte, bool) {
	if s, ok := r.ValueAt(dict, key).(raw.StringObj); ok {
		return s.Bytes, true
	}
	return nil, false
}

// IntAt fetches dict[key] as an integer.
func (r *Resolver) IntAt(dict *raw.DictObj, key string) (int64, bool) {
	if n, ok := r.ValueAt(dict, key).(raw.NumberObj); ok && n.IsInt {
		return n.I, true
	}
	return 0, false
}

// refOf extracts the reference when obj is indirect.
func refOf(obj raw.Object) (raw.ObjectRef, bool) {
	if ref, ok := obj.(raw.RefObj); ok {
		return ref.R, true
	}
	return raw.ObjectRef{}, false
}
