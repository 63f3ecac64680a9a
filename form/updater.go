package form

import (
	"errors"
	"sort"
	"time"

	"formlib/ir/raw"
	"formlib/observability"
)

// Apply validates and applies a batch of field updates. Validation runs over
// the whole batch first and aggregates every failure; nothing is written
// unless every entry passes. Apply may be called repeatedly before Save.
func (s *Session) Apply(batch map[string]Value) error {
	if s.state == StateSerialized || s.state == StateClosed {
		return ErrSessionClosed
	}
	if len(batch) == 0 {
		return nil
	}

	start := time.Now()
	entries, err := s.validateBatch(batch)
	if err != nil {
		return err
	}

	tx := newTransaction(s.doc)
	for _, e := range entries {
		if err := s.applyEntry(tx, e); err != nil {
			s.state = StateClosed
			return err
		}
	}
	s.setNeedAppearances(tx)
	tx.commit()

	// Re-point cached dictionaries at the committed clones so later batches
	// stage on top of this one.
	for _, e := range entries {
		e.node.Value = e.value
		if staged, ok := tx.staged[e.node.Ref]; ok {
			e.node.Dict = staged
		}
		for _, w := range s.widgets[e.node.Ref] {
			if staged, ok := tx.staged[w.Ref]; ok {
				w.Dict = staged
			}
		}
	}
	if staged, ok := tx.staged[s.acroRef]; ok && s.acroRef != (raw.ObjectRef{}) {
		s.acroDict = staged
	}
	s.state = StateApplied
	s.log.Info("batch applied",
		observability.Int("fields", len(entries)),
		observability.Int(observability.MetricApplyTime, int(time.Since(start).Milliseconds())))
	return nil
}

type batchEntry struct {
	node  *FieldNode
	value Value
}

// validateBatch checks every batch entry against the field index and the
// type rules, collecting all failures before reporting.
func (s *Session) validateBatch(batch map[string]Value) ([]batchEntry, error) {
	names := make([]string, 0, len(batch))
	for name := range batch {
		names = append(names, name)
	}
	sort.Strings(names)

	var unknown []string
	var errs []error
	entries := make([]batchEntry, 0, len(batch))
	for _, name := range names {
		node, ok := s.tree.Lookup(name)
		if !ok {
			unknown = append(unknown, name)
			continue
		}
		value := batch[name]
		if value == nil {
			errs = append(errs, &EncodingError{Field: name, Reason: "nil value"})
			continue
		}
		if !valueMatches(node.Type, value.Kind()) {
			errs = append(errs, &TypeMismatchError{Field: name, Expected: node.Type, Actual: value.Kind()})
			continue
		}
		if node.Type == TypeChoice {
			s.checkChoice(node, value)
		}
		entries = append(entries, batchEntry{node: node, value: value})
	}

	if len(unknown) > 0 {
		errs = append([]error{&UnknownFieldsError{Names: unknown}}, errs...)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return entries, nil
}

// checkChoice warns when a choice value is outside the field's option list.
// Viewers accept such values for editable combo boxes, so this is not a
// validation failure.
func (s *Session) checkChoice(node *FieldNode, value Value) {
	choice, ok := value.(Choice)
	if !ok || len(node.Options) == 0 {
		return
	}
	for _, opt := range node.Options {
		if opt == string(choice) {
			return
		}
	}
	s.log.Warn("choice value not among field options",
		observability.String("field", node.Name),
		observability.String("value", string(choice)))
}

// transaction stages cloned dictionaries keyed by object reference. Reads
// during staging see the clones; the original store is untouched until
// commit.
type transaction struct {
	doc    *raw.Document
	staged map[raw.ObjectRef]*raw.DictObj
}

func newTransaction(doc *raw.Document) *transaction {
	return &transaction{doc: doc, staged: make(map[raw.ObjectRef]*raw.DictObj)}
}

// clone returns the staged copy for ref, creating it from src on first use.
// Merged field/widget dictionaries share one clone this way.
func (tx *transaction) clone(ref raw.ObjectRef, src *raw.DictObj) *raw.DictObj {
	if c, ok := tx.staged[ref]; ok {
		return c
	}
	c := src.Clone()
	tx.staged[ref] = c
	return c
}

func (tx *transaction) commit() {
	for ref, dict := range tx.staged {
		tx.doc.Objects[ref] = dict
	}
}

// applyEntry writes one validated value: /V on the field dictionary,
// propagated to every linked widget together with the matching appearance
// state. A field without widgets is updated and logged; the value still
// lands in the document.
func (s *Session) applyEntry(tx *transaction, e batchEntry) error {
	prim, err := encodeValue(e.value, e.node.OnState)
	if err != nil {
		return err
	}

	fieldClone := tx.clone(e.node.Ref, e.node.Dict)
	fieldClone.Set(raw.NameLiteral("V"), prim)

	widgets := s.widgets[e.node.Ref]
	if len(widgets) == 0 {
		s.log.Warn("updated field has no widget annotations",
			observability.String("field", e.node.Name))
	}
	as := appearanceState(e.value, e.node.OnState)
	for _, w := range widgets {
		widgetClone := tx.clone(w.Ref, w.Dict)
		if w.Ref != e.node.Ref {
			widgetClone.Set(raw.NameLiteral("V"), prim)
		}
		if as != "" {
			widgetClone.Set(raw.NameLiteral("AS"), raw.NameLiteral(as))
			w.AppearanceState = as
		}
	}
	return nil
}

// setNeedAppearances flags the form dictionary so viewers regenerate field
// appearances for the new values. When the form dictionary is inlined in
// the catalog, the catalog itself is re-staged with the updated copy.
func (s *Session) setNeedAppearances(tx *transaction) {
	if s.acroDict == nil {
		return
	}
	if s.acroRef != (raw.ObjectRef{}) {
		acroClone := tx.clone(s.acroRef, s.acroDict)
		acroClone.Set(raw.NameLiteral("NeedAppearances"), raw.Bool(true))
		return
	}
	catalogObj, err := s.res.ResolveRef(s.catalogRef)
	if err != nil {
		return
	}
	catalog, ok := catalogObj.(*raw.DictObj)
	if !ok {
		return
	}
	catalogClone := tx.clone(s.catalogRef, catalog)
	acroClone := s.acroDict.Clone()
	acroClone.Set(raw.NameLiteral("NeedAppearances"), raw.Bool(true))
	catalogClone.Set(raw.NameLiteral("AcroForm"), acroClone)
}
