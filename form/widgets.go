package form

import (
	"formlib/ir/raw"
	"formlib/observability"
)

// Page is one leaf of the page tree, in document order.
type Page struct {
	Index int
	Ref   raw.ObjectRef
	Dict  *raw.DictObj
}

// Widget is one visible annotation bound to a terminal field. Fields with a
// merged field/widget dictionary produce a widget whose Ref equals the
// field's Ref.
type Widget struct {
	Ref             raw.ObjectRef
	Dict            *raw.DictObj
	Field           raw.ObjectRef
	PageIndex       int
	PageRef         raw.ObjectRef
	Rect            [4]float64
	AppearanceState string
}

// collectPages flattens the page tree into reading order. Intermediate node
// cycles are reported as structural errors.
func collectPages(res *Resolver, catalog *raw.DictObj) ([]Page, error) {
	rootObj, ok := catalog.Get(raw.NameLiteral("Pages"))
	if !ok {
		return nil, nil
	}

	type frame struct {
		obj       raw.Object
		ancestors map[raw.ObjectRef]struct{}
	}
	stack := []frame{{obj: rootObj, ancestors: map[raw.ObjectRef]struct{}{}}}
	var pages []Page

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		ref, isRef := refOf(f.obj)
		if isRef {
			if _, looped := f.ancestors[ref]; looped {
				return nil, &MalformedStructureError{Ref: ref, Reason: "page tree cycle"}
			}
		}
		dict, err := res.DerefDict(f.obj)
		if err != nil {
			return nil, err
		}
		if dict == nil {
			continue
		}

		nodeType, _ := res.NameAt(dict, "Type")
		kids, err := res.ArrayAt(dict, "Kids")
		if err != nil {
			return nil, err
		}
		if nodeType == "Page" || kids == nil {
			pages = append(pages, Page{Index: len(pages), Ref: ref, Dict: dict})
			continue
		}

		next := make(map[raw.ObjectRef]struct{}, len(f.ancestors)+1)
		for k := range f.ancestors {
			next[k] = struct{}{}
		}
		if isRef {
			next[ref] = struct{}{}
		}
		for i := kids.Len() - 1; i >= 0; i-- {
			kid, _ := kids.Get(i)
			stack = append(stack, frame{obj: kid, ancestors: next})
		}
	}
	return pages, nil
}

// linkWidgets scans every page's annotation array and binds each annotation
// to its owning terminal field: either the annotation object itself is the
// field (merged dictionary) or its parent chain reaches one.
func linkWidgets(res *Resolver, pages []Page, tree *Tree, log observability.Logger) map[raw.ObjectRef][]*Widget {
	terminals := make(map[raw.ObjectRef]struct{}, len(tree.order))
	for _, node := range tree.order {
		terminals[node.Ref] = struct{}{}
	}

	linked := make(map[raw.ObjectRef][]*Widget)
	for _, page := range pages {
		annots, err := res.ArrayAt(page.Dict, "Annots")
		if err != nil || annots == nil {
			continue
		}
		for i := 0; i < annots.Len(); i++ {
			item, _ := annots.Get(i)
			annotRef, _ := refOf(item)
			dict, err := res.DerefDict(item)
			if err != nil || dict == nil {
				continue
			}
			fieldRef, ok := owningField(res, annotRef, dict, terminals)
			if !ok {
				continue
			}
			w := &Widget{
				Ref:       annotRef,
				Dict:      dict,
				Field:     fieldRef,
				PageIndex: page.Index,
				PageRef:   page.Ref,
			}
			if as, ok := res.NameAt(dict, "AS"); ok {
				w.AppearanceState = as
			}
			if rect, ok := rectOf(res, dict); ok {
				w.Rect = rect
			}
			linked[fieldRef] = append(linked[fieldRef], w)
		}
	}

	for _, node := range tree.order {
		if len(linked[node.Ref]) == 0 {
			log.Debug("field has no widget annotations",
				observability.String("field", node.Name))
		}
	}
	return linked
}

// owningField walks an annotation's parent chain to find the terminal field
// it belongs to. The closest match wins.
func owningField(res *Resolver, annotRef raw.ObjectRef, dict *raw.DictObj, terminals map[raw.ObjectRef]struct{}) (raw.ObjectRef, bool) {
	if _, ok := terminals[annotRef]; ok {
		return annotRef, true
	}
	seen := map[raw.ObjectRef]struct{}{annotRef: {}}
	current := dict
	for {
		parentObj, ok := current.Get(raw.NameLiteral("Parent"))
		if !ok {
			return raw.ObjectRef{}, false
		}
		parentRef, isRef := refOf(parentObj)
		if !isRef {
			return raw.ObjectRef{}, false
		}
		if _, looped := seen[parentRef]; looped {
			return raw.ObjectRef{}, false
		}
		seen[parentRef] = struct{}{}
		if _, match := terminals[parentRef]; match {
			return parentRef, true
		}
		parent, err := res.DerefDict(parentObj)
		if err != nil || parent == nil {
			return raw.ObjectRef{}, false
		}
		current = parent
	}
}

func rectOf(res *Resolver, dict *raw.DictObj) ([4]float64, bool) {
	arr, err := res.ArrayAt(dict, "Rect")
	if err != nil || arr == nil || arr.Len() != 4 {
		return [4]float64{}, false
	}
	var rect [4]float64
	for i := 0; i < 4; i++ {
		item, _ := arr.Get(i)
		resolved, err := res.Deref(item)
		if err != nil {
			return [4]float64{}, false
		}
		num, ok := resolved.(raw.NumberObj)
		if !ok {
			return [4]float64{}, false
		}
		rect[i] = num.Float()
	}
	return rect, true
}
