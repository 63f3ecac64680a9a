package form

import (
	"errors"
	"testing"

	"formlib/ir/raw"
	"formlib/observability"
)

func buildTreeFor(t *testing.T, b *docBuilder, acro *raw.DictObj, policy CollisionPolicy) (*Tree, error) {
	t.Helper()
	doc := &raw.Document{Objects: b.objects, Trailer: raw.Dict()}
	return buildTree(NewResolver(doc), acro, policy, observability.NopLogger{})
}

func TestTreeQualifiedNames(t *testing.T) {
	b := newDocBuilder()

	leaf := b.add(dictOf(map[string]raw.Object{
		"FT": raw.NameLiteral("Tx"),
		"T":  raw.Str([]byte("field")),
		"V":  raw.Str([]byte("deep")),
	}))
	group := b.add(dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("group")),
		"Kids": raw.NewArray(leaf),
	}))
	section := b.add(dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("section")),
		"Kids": raw.NewArray(group),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(section)})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}

	node, ok := tree.Lookup("section.group.field")
	if !ok {
		t.Fatal("qualified name not indexed")
	}
	if node.Type != TypeText || node.Value != Text("deep") {
		t.Fatalf("unexpected node: %+v", node)
	}
	if node.Partial != "field" {
		t.Fatalf("unexpected partial name: %q", node.Partial)
	}
	// intermediate nodes are not addressable
	if _, ok := tree.Lookup("section"); ok {
		t.Fatal("intermediate node leaked into the index")
	}
	if _, ok := tree.Lookup("section.group"); ok {
		t.Fatal("intermediate node leaked into the index")
	}
	if len(tree.Fields()) != 1 {
		t.Fatalf("expected 1 terminal field, got %d", len(tree.Fields()))
	}
}

func TestTreeInheritedFieldType(t *testing.T) {
	b := newDocBuilder()

	// the child names a field but inherits its type from the parent
	child := b.add(dictOf(map[string]raw.Object{
		"T": raw.Str([]byte("inner")),
	}))
	parent := b.add(dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("outer")),
		"FT":   raw.NameLiteral("Tx"),
		"Kids": raw.NewArray(child),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(parent)})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	node, ok := tree.Lookup("outer.inner")
	if !ok {
		t.Fatal("child field missing")
	}
	if node.Type != TypeText {
		t.Fatalf("expected inherited Tx type, got %s", node.Type)
	}
	// the parent carries its own type and children: both roles apply
	if _, ok := tree.Lookup("outer"); !ok {
		t.Fatal("dual-role parent should stay addressable")
	}
	if len(tree.Diagnostics()) == 0 {
		t.Fatal("dual-role node should produce a diagnostic")
	}
}

func TestTreeCycleDetection(t *testing.T) {
	b := newDocBuilder()

	first := b.reserve()
	second := b.add(dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("b")),
		"Kids": raw.NewArray(first),
	}))
	b.set(first, dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("a")),
		"Kids": raw.NewArray(second),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(first)})

	_, err := buildTreeFor(t, b, acro, CollideFirstWins)
	var cyc *CyclicFieldHierarchyError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected cyclic hierarchy error, got %v", err)
	}
}

func TestTreeSharedSubtreeIsNotACycle(t *testing.T) {
	b := newDocBuilder()

	shared := b.add(dictOf(map[string]raw.Object{
		"FT": raw.NameLiteral("Tx"),
		"T":  raw.Str([]byte("leaf")),
	}))
	left := b.add(dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("left")),
		"Kids": raw.NewArray(shared),
	}))
	right := b.add(dictOf(map[string]raw.Object{
		"T":    raw.Str([]byte("right")),
		"Kids": raw.NewArray(shared),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(left, right)})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("sibling branches sharing a node must not trip the cycle guard: %v", err)
	}
	if _, ok := tree.Lookup("left.leaf"); !ok {
		t.Fatal("left.leaf missing")
	}
	if _, ok := tree.Lookup("right.leaf"); !ok {
		t.Fatal("right.leaf missing")
	}
}

func TestTreeCollisionFirstWins(t *testing.T) {
	b := newDocBuilder()

	first := b.add(dictOf(map[string]raw.Object{
		"FT": raw.NameLiteral("Tx"),
		"T":  raw.Str([]byte("dup")),
		"V":  raw.Str([]byte("kept")),
	}))
	second := b.add(dictOf(map[string]raw.Object{
		"FT": raw.NameLiteral("Tx"),
		"T":  raw.Str([]byte("dup")),
		"V":  raw.Str([]byte("shadowed")),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(first, second)})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	node, ok := tree.Lookup("dup")
	if !ok || node.Value != Text("kept") {
		t.Fatalf("first occurrence should win: %+v", node)
	}
	fields := tree.Fields()
	if len(fields) != 2 {
		t.Fatalf("both nodes should be listed, got %d", len(fields))
	}
	if !fields[1].Shadowed {
		t.Fatal("second node should be marked shadowed")
	}
	if len(tree.Diagnostics()) == 0 {
		t.Fatal("collision should produce a diagnostic")
	}
}

func TestTreeCollisionFailPolicy(t *testing.T) {
	b := newDocBuilder()
	first := b.add(dictOf(map[string]raw.Object{"FT": raw.NameLiteral("Tx"), "T": raw.Str([]byte("dup"))}))
	second := b.add(dictOf(map[string]raw.Object{"FT": raw.NameLiteral("Tx"), "T": raw.Str([]byte("dup"))}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(first, second)})

	_, err := buildTreeFor(t, b, acro, CollideFail)
	var collision *NameCollisionError
	if !errors.As(err, &collision) || collision.Name != "dup" {
		t.Fatalf("expected collision error for dup, got %v", err)
	}
}

func TestTreeChoiceOptions(t *testing.T) {
	b := newDocBuilder()
	field := b.add(dictOf(map[string]raw.Object{
		"FT": raw.NameLiteral("Ch"),
		"T":  raw.Str([]byte("color")),
		"Opt": raw.NewArray(
			raw.Str([]byte("Red")),
			raw.NewArray(raw.Str([]byte("B")), raw.Str([]byte("Blue"))),
		),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(field)})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	node, _ := tree.Lookup("color")
	if len(node.Options) != 2 || node.Options[0] != "Red" || node.Options[1] != "B" {
		t.Fatalf("expected export values [Red B], got %v", node.Options)
	}
}

func TestTreeSkipsMalformedNodes(t *testing.T) {
	b := newDocBuilder()
	good := b.add(dictOf(map[string]raw.Object{"FT": raw.NameLiteral("Tx"), "T": raw.Str([]byte("ok"))}))
	acro := dictOf(map[string]raw.Object{
		// a dangling reference and a non-dictionary among the roots
		"Fields": raw.NewArray(raw.Ref(99, 0), raw.NumberInt(7), good),
	})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	if _, ok := tree.Lookup("ok"); !ok {
		t.Fatal("healthy sibling lost")
	}
	if len(tree.Diagnostics()) < 2 {
		t.Fatalf("expected diagnostics for both bad roots, got %v", tree.Diagnostics())
	}
}

func TestTreeButtonOnStateFromValue(t *testing.T) {
	b := newDocBuilder()
	field := b.add(dictOf(map[string]raw.Object{
		"FT": raw.NameLiteral("Btn"),
		"T":  raw.Str([]byte("agreed")),
		"V":  raw.NameLiteral("Ja"),
	}))
	acro := dictOf(map[string]raw.Object{"Fields": raw.NewArray(field)})

	tree, err := buildTreeFor(t, b, acro, CollideFirstWins)
	if err != nil {
		t.Fatalf("buildTree: %v", err)
	}
	node, _ := tree.Lookup("agreed")
	if node.OnState != "Ja" {
		t.Fatalf("expected on state from stored value, got %q", node.OnState)
	}
	if node.Value != Boolean(true) {
		t.Fatalf("expected checked state, got %v", node.Value)
	}
}
