package form

import (
	"testing"

	"formlib/ir/raw"
	"formlib/writer"
)

// docBuilder assembles raw documents for tests, handing out sequential
// object numbers.
type docBuilder struct {
	objects map[raw.ObjectRef]raw.Object
	next    int
}

func newDocBuilder() *docBuilder {
	return &docBuilder{objects: make(map[raw.ObjectRef]raw.Object), next: 1}
}

func (b *docBuilder) add(obj raw.Object) raw.RefObj {
	ref := raw.Ref(b.next, 0)
	b.next++
	b.objects[ref.R] = obj
	return ref
}

// reserve allocates an object number to be filled in later, for fixtures
// with forward or cyclic references.
func (b *docBuilder) reserve() raw.RefObj { return b.add(raw.NullObj{}) }

func (b *docBuilder) set(ref raw.RefObj, obj raw.Object) { b.objects[ref.R] = obj }

func (b *docBuilder) document(root raw.RefObj) *raw.Document {
	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), root)
	trailer.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(b.next)))
	return &raw.Document{Objects: b.objects, Trailer: trailer, Version: "1.7"}
}

func dictOf(kv map[string]raw.Object) *raw.DictObj {
	d := raw.Dict()
	for k, v := range kv {
		d.Set(raw.NameLiteral(k), v)
	}
	return d
}

func serialize(t *testing.T, doc *raw.Document) []byte {
	t.Helper()
	out, err := writer.New(writer.Config{}).Write(doc)
	if err != nil {
		t.Fatalf("serialize fixture: %v", err)
	}
	return out
}

// buildSimpleForm produces a one-page document with a merged text field
// widget, a checkbox, and a combo box, mirroring a typical fill target.
func buildSimpleForm(t *testing.T) []byte {
	t.Helper()
	b := newDocBuilder()

	pageRef := b.reserve()

	textField := b.add(dictOf(map[string]raw.Object{
		"FT":      raw.NameLiteral("Tx"),
		"T":       raw.Str([]byte("firstName")),
		"TU":      raw.Str([]byte("Given name")),
		"V":       raw.Str([]byte("OLD_VALUE")),
		"Subtype": raw.NameLiteral("Widget"),
		"Type":    raw.NameLiteral("Annot"),
		"Rect":    rectArray(50, 700, 250, 720),
		"P":       pageRef,
	}))

	checkbox := b.add(dictOf(map[string]raw.Object{
		"FT":      raw.NameLiteral("Btn"),
		"T":       raw.Str([]byte("subscribe")),
		"V":       raw.NameLiteral("Off"),
		"AS":      raw.NameLiteral("Off"),
		"Subtype": raw.NameLiteral("Widget"),
		"Rect":    rectArray(50, 660, 65, 675),
		"AP": dictOf(map[string]raw.Object{
			"N": dictOf(map[string]raw.Object{
				"Yes": raw.Dict(),
				"Off": raw.Dict(),
			}),
		}),
		"P": pageRef,
	}))

	combo := b.add(dictOf(map[string]raw.Object{
		"FT":      raw.NameLiteral("Ch"),
		"T":       raw.Str([]byte("color")),
		"V":       raw.Str([]byte("Red")),
		"Opt":     raw.NewArray(raw.Str([]byte("Red")), raw.Str([]byte("Green")), raw.NewArray(raw.Str([]byte("B")), raw.Str([]byte("Blue")))),
		"Subtype": raw.NameLiteral("Widget"),
		"Rect":    rectArray(50, 620, 250, 640),
		"P":       pageRef,
	}))

	pagesRef := b.reserve()
	b.set(pageRef, dictOf(map[string]raw.Object{
		"Type":     raw.NameLiteral("Page"),
		"Parent":   pagesRef,
		"MediaBox": rectArray(0, 0, 612, 792),
		"Annots":   raw.NewArray(textField, checkbox, combo),
	}))
	b.set(pagesRef, dictOf(map[string]raw.Object{
		"Type":  raw.NameLiteral("Pages"),
		"Kids":  raw.NewArray(pageRef),
		"Count": raw.NumberInt(1),
	}))

	acro := b.add(dictOf(map[string]raw.Object{
		"Fields": raw.NewArray(textField, checkbox, combo),
	}))
	catalog := b.add(dictOf(map[string]raw.Object{
		"Type":     raw.NameLiteral("Catalog"),
		"Pages":    pagesRef,
		"AcroForm": acro,
	}))

	return serialize(t, b.document(catalog))
}

func rectArray(a, b, c, d float64) *raw.ArrayObj {
	return raw.NewArray(raw.NumberFloat(a), raw.NumberFloat(b), raw.NumberFloat(c), raw.NumberFloat(d))
}
