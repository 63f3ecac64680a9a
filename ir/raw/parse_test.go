package raw

import (
	"bytes"
	"context"
	"testing"

	"formlib/scanner"
)

func readOne(t *testing.T, src string) Object {
	t.Helper()
	tr := NewTokenReader(scanner.NewBytes([]byte(src), scanner.Config{}))
	obj, err := ReadObject(tr)
	if err != nil {
		t.Fatalf("ReadObject(%q): %v", src, err)
	}
	return obj
}

func TestReadObjectPrimitives(t *testing.T) {
	if n, ok := readOne(t, "/Widget").(NameObj); !ok || n.Val != "Widget" {
		t.Fatalf("expected name Widget, got %#v", n)
	}
	if n, ok := readOne(t, "42").(NumberObj); !ok || !n.IsInt || n.I != 42 {
		t.Fatalf("expected integer 42, got %#v", n)
	}
	if n, ok := readOne(t, "-1.5").(NumberObj); !ok || n.IsInt || n.F != -1.5 {
		t.Fatalf("expected float -1.5, got %#v", n)
	}
	if b, ok := readOne(t, "true").(BoolObj); !ok || !b.V {
		t.Fatalf("expected true, got %#v", b)
	}
	if _, ok := readOne(t, "null").(NullObj); !ok {
		t.Fatal("expected null object")
	}
	if s, ok := readOne(t, "(hi)").(StringObj); !ok || string(s.Bytes) != "hi" || s.Hex {
		t.Fatalf("expected literal string, got %#v", s)
	}
	if s, ok := readOne(t, "<FEFF>").(StringObj); !ok || !s.Hex || !bytes.Equal(s.Bytes, []byte{0xFE, 0xFF}) {
		t.Fatalf("expected hex string, got %#v", s)
	}
	if r, ok := readOne(t, "7 0 R").(RefObj); !ok || r.R.Num != 7 {
		t.Fatalf("expected reference, got %#v", r)
	}
}

func TestReadObjectNested(t *testing.T) {
	obj := readOne(t, "<< /Kids [1 0 R 2 0 R] /Meta << /Depth 2 >> >>")
	dict, ok := obj.(*DictObj)
	if !ok {
		t.Fatalf("expected dict, got %#v", obj)
	}
	kidsObj, ok := dict.Get(NameLiteral("Kids"))
	if !ok {
		t.Fatal("Kids missing")
	}
	kids := kidsObj.(*ArrayObj)
	if kids.Len() != 2 {
		t.Fatalf("expected 2 kids, got %d", kids.Len())
	}
	first, _ := kids.Get(0)
	if first.(RefObj).R != (ObjectRef{Num: 1, Gen: 0}) {
		t.Fatalf("unexpected first kid: %#v", first)
	}
	metaObj, _ := dict.Get(NameLiteral("Meta"))
	meta := metaObj.(*DictObj)
	depth, _ := meta.Get(NameLiteral("Depth"))
	if depth.(NumberObj).I != 2 {
		t.Fatalf("unexpected depth: %#v", depth)
	}
}

func TestSequentialBodyParse(t *testing.T) {
	body := "%PDF-1.7\n" +
		"1 0 obj\n<< /Type /Catalog >>\nendobj\n" +
		"2 0 obj\n(hello)\nendobj\n" +
		"3 0 obj\n<< /Length 3 >>\nstream\nABC\nendstream\nendobj\n" +
		"trailer\n<< /Root 1 0 R /Size 4 >>\n"

	p := NewParser(ParserConfig{})
	doc, err := p.Parse(context.Background(), bytes.NewReader([]byte(body)))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Objects) != 3 {
		t.Fatalf("expected 3 objects, got %d", len(doc.Objects))
	}

	str, ok := doc.Objects[ObjectRef{Num: 2}].(StringObj)
	if !ok || string(str.Bytes) != "hello" {
		t.Fatalf("unexpected object 2: %#v", doc.Objects[ObjectRef{Num: 2}])
	}

	stream, ok := doc.Objects[ObjectRef{Num: 3}].(*StreamObj)
	if !ok {
		t.Fatalf("expected stream for object 3, got %#v", doc.Objects[ObjectRef{Num: 3}])
	}
	if string(stream.Data) != "ABC" {
		t.Fatalf("unexpected stream payload %q", stream.Data)
	}

	if doc.Trailer == nil {
		t.Fatal("trailer not captured")
	}
	root, ok := doc.Trailer.Get(NameLiteral("Root"))
	if !ok || root.(RefObj).R.Num != 1 {
		t.Fatalf("unexpected trailer root: %#v", root)
	}
}
