package form

import (
	"fmt"
	"sort"

	"formlib/ir/raw"
	"formlib/observability"
)

// CollisionPolicy decides what happens when two terminal nodes resolve to
// the same qualified name.
type CollisionPolicy int

const (
	// CollideFirstWins keeps the first node registered under a name and
	// marks later ones shadowed. This matches how most viewers behave.
	CollideFirstWins CollisionPolicy = iota
	// CollideFail aborts tree construction on the first duplicate name.
	CollideFail
)

// FieldNode is one terminal field: addressable by qualified name, holding
// the decoded state needed for reads and updates.
type FieldNode struct {
	Name    string // fully qualified, dot-joined
	Partial string
	Type    FieldType
	Ref     raw.ObjectRef
	Dict    *raw.DictObj
	Value   Value
	Default Value
	Flags   uint32
	Tooltip string
	OnState string   // button on-appearance name, "" until discovered
	Options []string // choice export values
	// Shadowed marks a node that lost a qualified-name collision. It stays
	// listed but is unreachable by name.
	Shadowed bool
}

// Diagnostic records a non-fatal structural finding made while building the
// tree or linking widgets.
type Diagnostic struct {
	Name    string
	Ref     raw.ObjectRef
	Message string
}

// Tree indexes every terminal field by qualified name and preserves the
// document-order listing.
type Tree struct {
	index map[string]*FieldNode
	order []*FieldNode
	diags []Diagnostic
}

func (t *Tree) Lookup(name string) (*FieldNode, bool) {
	n, ok := t.index[name]
	return n, ok
}

// Fields returns every terminal node in document order, shadowed nodes
// included.
func (t *Tree) Fields() []*FieldNode { return t.order }

func (t *Tree) Diagnostics() []Diagnostic { return t.diags }

func (t *Tree) addDiag(name string, ref raw.ObjectRef, format string, args ...interface{}) {
	t.diags = append(t.diags, Diagnostic{Name: name, Ref: ref, Message: fmt.Sprintf(format, args...)})
}

type treeFrame struct {
	obj         raw.Object
	prefix      string
	inheritedFT string
	// ancestors holds every reference on the path from the root to this
	// frame. Each branch carries its own copy so sibling subtrees may share
	// nodes legitimately.
	ancestors map[raw.ObjectRef]struct{}
}

// buildTree walks the field hierarchy depth first, producing the qualified
// name index. Malformed nodes are skipped with a diagnostic; cycles and
// collisions under CollideFail abort the build.
func buildTree(res *Resolver, acro *raw.DictObj, policy CollisionPolicy, log observability.Logger) (*Tree, error) {
	t := &Tree{index: make(map[string]*FieldNode)}
	if acro == nil {
		return t, nil
	}
	roots, err := res.ArrayAt(acro, "Fields")
	if err != nil {
		return nil, err
	}
	if roots == nil {
		return t, nil
	}

	stack := make([]treeFrame, 0, roots.Len())
	for i := roots.Len() - 1; i >= 0; i-- {
		item, _ := roots.Get(i)
		stack = append(stack, treeFrame{obj: item, ancestors: map[raw.ObjectRef]struct{}{}})
	}

	for len(stack) > 0 {
		frame := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ref, isRef := refOf(frame.obj)
		if isRef {
			if _, looped := frame.ancestors[ref]; looped {
				return nil, &CyclicFieldHierarchyError{Ref: ref}
			}
		}
		dict, err := res.DerefDict(frame.obj)
		if err != nil {
			t.addDiag("", ref, "field node unreadable: %v", err)
			log.Warn("skipping unreadable field node",
				observability.String("ref", ref.String()),
				observability.Error("error", err))
			continue
		}
		if dict == nil {
			t.addDiag("", ref, "field node is not a dictionary")
			continue
		}

		partial := ""
		if b, ok := res.StringAt(dict, "T"); ok {
			p, lossy := decodeTextString(b)
			partial = p
			if lossy {
				t.addDiag(p, ref, "partial name decoded with replacement characters")
			}
		}
		qualified := joinName(frame.prefix, partial)

		ftName, hasOwnFT := res.NameAt(dict, "FT")
		effectiveFT := ftName
		if !hasOwnFT {
			effectiveFT = frame.inheritedFT
		}

		kids, err := res.ArrayAt(dict, "Kids")
		if err != nil {
			t.addDiag(qualified, ref, "children array unreadable: %v", err)
			kids = nil
		}
		hasKids := kids != nil && kids.Len() > 0

		// Children carrying neither a partial name nor their own type are
		// pure widget annotations of the parent field, not fields.
		if partial == "" && !hasOwnFT && !hasKids {
			if sub, ok := res.NameAt(dict, "Subtype"); ok && sub == "Widget" {
				continue
			}
		}

		terminal := hasOwnFT || !hasKids
		if hasOwnFT && hasKids {
			t.addDiag(qualified, ref, "node declares a field type and children; treated as both")
			log.Warn("field node is both terminal and intermediate",
				observability.String("field", qualified))
		}

		if terminal {
			node := buildNode(res, t, dict, ref, qualified, partial, effectiveFT)
			if prev, exists := t.index[qualified]; exists {
				if policy == CollideFail {
					return nil, &NameCollisionError{Name: qualified}
				}
				node.Shadowed = true
				t.addDiag(qualified, ref, "qualified name collides with %s; first occurrence kept", prev.Ref)
				log.Warn("qualified name collision",
					observability.String("field", qualified),
					observability.String("kept", prev.Ref.String()),
					observability.String("shadowed", ref.String()))
			} else {
				t.index[qualified] = node
			}
			t.order = append(t.order, node)
		}

		if hasKids {
			next := make(map[raw.ObjectRef]struct{}, len(frame.ancestors)+1)
			for k := range frame.ancestors {
				next[k] = struct{}{}
			}
			if isRef {
				next[ref] = struct{}{}
			}
			for i := kids.Len() - 1; i >= 0; i-- {
				kid, _ := kids.Get(i)
				stack = append(stack, treeFrame{
					obj:         kid,
					prefix:      qualified,
					inheritedFT: effectiveFT,
					ancestors:   next,
				})
			}
		}
	}

	return t, nil
}

func buildNode(res *Resolver, t *Tree, dict *raw.DictObj, ref raw.ObjectRef, qualified, partial, ftName string) *FieldNode {
	node := &FieldNode{
		Name:    qualified,
		Partial: partial,
		Type:    fieldTypeFromName(ftName),
		Ref:     ref,
		Dict:    dict,
	}
	if node.Type == TypeUnknown {
		t.addDiag(qualified, ref, "missing or unknown field type %q", ftName)
	}

	if flags, ok := res.IntAt(dict, "Ff"); ok {
		node.Flags = uint32(flags)
	}
	if b, ok := res.StringAt(dict, "TU"); ok {
		node.Tooltip, _ = decodeTextString(b)
	}
	if node.Type == TypeChoice {
		node.Options = choiceOptions(res, dict)
	}

	if v := res.ValueAt(dict, "V"); v != nil {
		val, lossy, err := decodeValue(v, node.Type, qualified)
		if err != nil {
			t.addDiag(qualified, ref, "stored value unreadable: %v", err)
		} else {
			node.Value = val
			if lossy {
				t.addDiag(qualified, ref, "stored value decoded with replacement characters")
			}
		}
		if node.Type == TypeButton {
			if n, ok := v.(raw.NameObj); ok && n.Val != "Off" {
				node.OnState = n.Val
			}
		}
	}
	if dv := res.ValueAt(dict, "DV"); dv != nil {
		if val, _, err := decodeValue(dv, node.Type, qualified); err == nil {
			node.Default = val
		}
	}
	if node.Type == TypeButton && node.OnState == "" {
		node.OnState = onStateFromAppearance(res, dict)
	}

	return node
}

// choiceOptions extracts export values from /Opt. Entries are either plain
// strings or [export, display] pairs.
func choiceOptions(res *Resolver, dict *raw.DictObj) []string {
	arr, err := res.ArrayAt(dict, "Opt")
	if err != nil || arr == nil {
		return nil
	}
	opts := make([]string, 0, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		item, _ := arr.Get(i)
		resolved, err := res.Deref(item)
		if err != nil {
			continue
		}
		switch v := resolved.(type) {
		case raw.StringObj:
			s, _ := decodeTextString(v.Bytes)
			opts = append(opts, s)
		case *raw.ArrayObj:
			if first, ok := v.Get(0); ok {
				if fr, err := res.Deref(first); err == nil {
					if s, ok := fr.(raw.StringObj); ok {
						decoded, _ := decodeTextString(s.Bytes)
						opts = append(opts, decoded)
					}
				}
			}
		}
	}
	return opts
}

// onStateFromAppearance finds a button's on name by scanning the normal
// appearance dictionary for its first non-Off state key.
func onStateFromAppearance(res *Resolver, dict *raw.DictObj) string {
	ap, err := res.DictAt(dict, "AP")
	if err != nil || ap == nil {
		return ""
	}
	normal, err := res.DictAt(ap, "N")
	if err != nil || normal == nil {
		return ""
	}
	states := make([]string, 0, normal.Len())
	for _, key := range normal.Keys() {
		if key.Value() != "Off" {
			states = append(states, key.Value())
		}
	}
	if len(states) == 0 {
		return ""
	}
	sort.Strings(states)
	return states[0]
}

func joinName(prefix, partial string) string {
	switch {
	case prefix == "":
		return partial
	case partial == "":
		return prefix
	default:
		return prefix + "." + partial
	}
}
