package form

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"formlib/ir/raw"
	"formlib/observability"
	"formlib/parser"
	"formlib/writer"
)

// State tracks a session's position in its lifecycle. Serialization is
// terminal; a fatal apply failure closes the session as well.
type State int

const (
	StateLoaded State = iota
	StateApplied
	StateSerialized
	StateClosed
)

// Config controls session construction.
type Config struct {
	Parser    parser.Config
	Writer    writer.Config
	Collision CollisionPolicy
	Logger    observability.Logger
}

func DefaultConfig() Config {
	return Config{Parser: parser.DefaultConfig()}
}

// FieldInfo is the read-side snapshot of a terminal field.
type FieldInfo struct {
	Name     string
	Type     FieldType
	Value    Value
	Default  Value
	Flags    uint32
	Tooltip  string
	Options  []string
	Widgets  int
	Shadowed bool
}

// Session holds one loaded document and its decoded form state. It is not
// safe for concurrent use.
type Session struct {
	cfg Config
	log observability.Logger

	doc     *raw.Document
	res     *Resolver
	tree    *Tree
	widgets map[raw.ObjectRef][]*Widget
	pages   []Page

	catalogRef raw.ObjectRef
	acroRef    raw.ObjectRef // zero when the form dictionary is inlined in the catalog
	acroDict   *raw.DictObj

	state State
}

// Open parses the document and builds the field index, the page list, and
// the widget bindings. A document without a form dictionary opens with an
// empty index.
func Open(ctx context.Context, data []byte, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = observability.NopLogger{}
	}
	log := cfg.Logger

	start := time.Now()
	p := parser.NewDocumentParser(cfg.Parser)
	doc, err := p.Parse(ctx, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	log.Debug("document parsed",
		observability.Int(observability.MetricObjectCount, len(doc.Objects)),
		observability.Int(observability.MetricParseTime, int(time.Since(start).Milliseconds())))

	s := &Session{cfg: cfg, log: log, doc: doc, res: NewResolver(doc)}
	if err := s.locateForm(); err != nil {
		return nil, err
	}

	s.tree, err = buildTree(s.res, s.acroDict, cfg.Collision, log)
	if err != nil {
		return nil, err
	}
	catalog, err := s.res.ResolveRef(s.catalogRef)
	if err != nil {
		return nil, err
	}
	s.pages, err = collectPages(s.res, catalog.(*raw.DictObj))
	if err != nil {
		return nil, err
	}
	s.widgets = linkWidgets(s.res, s.pages, s.tree, log)
	s.resolveOnStates()

	log.Info("form session opened",
		observability.Int(observability.MetricFieldCount, len(s.tree.order)),
		observability.Int(observability.MetricWidgetCount, s.widgetCount()))
	return s, nil
}

// locateForm finds the catalog and the interactive form dictionary,
// remembering whether the latter is indirect so updates can target the
// right object.
func (s *Session) locateForm() error {
	rootObj, ok := s.doc.Trailer.Get(raw.NameLiteral("Root"))
	if !ok {
		return &MalformedStructureError{Reason: "trailer has no document catalog"}
	}
	rootRef, isRef := refOf(rootObj)
	if !isRef {
		return &MalformedStructureError{Reason: "document catalog is not an indirect reference"}
	}
	catalogObj, err := s.res.ResolveRef(rootRef)
	if err != nil {
		return err
	}
	catalog, ok := catalogObj.(*raw.DictObj)
	if !ok {
		return &MalformedStructureError{Ref: rootRef, Reason: "document catalog is not a dictionary"}
	}
	s.catalogRef = rootRef

	acroObj, ok := catalog.Get(raw.NameLiteral("AcroForm"))
	if !ok {
		s.log.Warn("document has no interactive form dictionary")
		return nil
	}
	if ref, isRef := refOf(acroObj); isRef {
		s.acroRef = ref
	}
	acro, err := s.res.DerefDict(acroObj)
	if err != nil {
		return err
	}
	if acro == nil {
		return &MalformedStructureError{Ref: s.acroRef, Reason: "form dictionary is not a dictionary"}
	}
	s.acroDict = acro
	return nil
}

// resolveOnStates fills button on-names that the field dictionaries did not
// reveal by probing the linked widgets' appearance dictionaries.
func (s *Session) resolveOnStates() {
	for _, node := range s.tree.order {
		if node.Type != TypeButton || node.OnState != "" {
			continue
		}
		for _, w := range s.widgets[node.Ref] {
			if state := onStateFromAppearance(s.res, w.Dict); state != "" {
				node.OnState = state
				break
			}
		}
	}
}

func (s *Session) widgetCount() int {
	n := 0
	for _, ws := range s.widgets {
		n += len(ws)
	}
	return n
}

// Fields lists every terminal field in document order.
func (s *Session) Fields() []FieldInfo {
	out := make([]FieldInfo, 0, len(s.tree.order))
	for _, node := range s.tree.order {
		out = append(out, s.info(node))
	}
	return out
}

// Field looks up a single field by qualified name.
func (s *Session) Field(name string) (FieldInfo, bool) {
	node, ok := s.tree.Lookup(name)
	if !ok {
		return FieldInfo{}, false
	}
	return s.info(node), true
}

func (s *Session) info(node *FieldNode) FieldInfo {
	return FieldInfo{
		Name:     node.Name,
		Type:     node.Type,
		Value:    node.Value,
		Default:  node.Default,
		Flags:    node.Flags,
		Tooltip:  node.Tooltip,
		Options:  node.Options,
		Widgets:  len(s.widgets[node.Ref]),
		Shadowed: node.Shadowed,
	}
}

// Widgets returns the widget bindings for a named field.
func (s *Session) Widgets(name string) []*Widget {
	node, ok := s.tree.Lookup(name)
	if !ok {
		return nil
	}
	return s.widgets[node.Ref]
}

// Diagnostics returns non-fatal findings collected while opening the
// document.
func (s *Session) Diagnostics() []Diagnostic { return s.tree.Diagnostics() }

// Save regenerates the document as a complete byte stream. The session
// becomes terminal afterwards.
func (s *Session) Save() ([]byte, error) {
	if s.state == StateSerialized || s.state == StateClosed {
		return nil, ErrSessionClosed
	}
	start := time.Now()
	w := writer.New(s.cfg.Writer)
	out, err := w.Write(s.doc)
	if err != nil {
		s.state = StateClosed
		return nil, &SerializationError{Err: err}
	}
	s.state = StateSerialized
	s.log.Info("document serialized",
		observability.Int("bytes", len(out)),
		observability.Int(observability.MetricWriteTime, int(time.Since(start).Milliseconds())))
	return out, nil
}

// Fill applies a batch and serializes in one step.
func (s *Session) Fill(batch map[string]Value) ([]byte, error) {
	if err := s.Apply(batch); err != nil {
		return nil, err
	}
	return s.Save()
}
