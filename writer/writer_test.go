package writer

import (
	"bytes"
	"context"
	"testing"

	"formlib/ir/raw"
	"formlib/parser"
)

func fixtureDocument() *raw.Document {
	catalog := raw.Dict()
	catalog.Set(raw.NameLiteral("Type"), raw.NameLiteral("Catalog"))
	catalog.Set(raw.NameLiteral("Pages"), raw.Ref(2, 0))

	pages := raw.Dict()
	pages.Set(raw.NameLiteral("Type"), raw.NameLiteral("Pages"))
	pages.Set(raw.NameLiteral("Kids"), raw.NewArray())
	pages.Set(raw.NameLiteral("Count"), raw.NumberInt(0))

	content := raw.Dict()
	stream := raw.NewStream(content, []byte("BT ET"))

	trailer := raw.Dict()
	trailer.Set(raw.NameLiteral("Root"), raw.Ref(1, 0))
	trailer.Set(raw.NameLiteral("Prev"), raw.NumberInt(12345))

	return &raw.Document{
		Objects: map[raw.ObjectRef]raw.Object{
			{Num: 1}: catalog,
			{Num: 2}: pages,
			{Num: 3}: raw.Str([]byte("plain (text)")),
			{Num: 4}: raw.HexStr([]byte{0xFE, 0xFF, 0x00, 0x41}),
			{Num: 5}: stream,
		},
		Trailer: trailer,
		Version: "1.7",
	}
}

func TestWriteRoundTrip(t *testing.T) {
	out, err := New(Config{}).Write(fixtureDocument())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}

	if !bytes.HasPrefix(out, []byte("%PDF-1.7\n")) {
		t.Fatalf("missing header: %q", out[:16])
	}
	if !bytes.HasSuffix(out, []byte("%%EOF\n")) {
		t.Fatalf("missing EOF marker: %q", out[len(out)-16:])
	}

	doc, err := parser.NewDocumentParser(parser.DefaultConfig()).
		Parse(context.Background(), bytes.NewReader(out))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if len(doc.Objects) != 5 {
		t.Fatalf("expected 5 objects after round trip, got %d", len(doc.Objects))
	}

	str, ok := doc.Objects[raw.ObjectRef{Num: 3}].(raw.StringObj)
	if !ok || string(str.Bytes) != "plain (text)" {
		t.Fatalf("literal string lost: %#v", doc.Objects[raw.ObjectRef{Num: 3}])
	}

	hex, ok := doc.Objects[raw.ObjectRef{Num: 4}].(raw.StringObj)
	if !ok || !hex.Hex || !bytes.Equal(hex.Bytes, []byte{0xFE, 0xFF, 0x00, 0x41}) {
		t.Fatalf("hex string lost: %#v", doc.Objects[raw.ObjectRef{Num: 4}])
	}

	stream, ok := doc.Objects[raw.ObjectRef{Num: 5}].(*raw.StreamObj)
	if !ok || string(stream.Data) != "BT ET" {
		t.Fatalf("stream lost: %#v", doc.Objects[raw.ObjectRef{Num: 5}])
	}

	if _, ok := doc.Trailer.Get(raw.NameLiteral("Prev")); ok {
		t.Fatal("stale Prev key survived regeneration")
	}
	if size, ok := doc.Trailer.Get(raw.NameLiteral("Size")); !ok || size.(raw.NumberObj).I != 6 {
		t.Fatalf("unexpected trailer size: %#v", size)
	}
}

func TestWriteVersionOverride(t *testing.T) {
	out, err := New(Config{Version: "2.0"}).Write(fixtureDocument())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-2.0\n")) {
		t.Fatalf("version override ignored: %q", out[:16])
	}
}

func TestWriteRejectsIncompleteDocuments(t *testing.T) {
	if _, err := New(Config{}).Write(&raw.Document{}); err == nil {
		t.Fatal("expected empty document to be rejected")
	}

	doc := fixtureDocument()
	doc.Trailer = raw.Dict()
	if _, err := New(Config{}).Write(doc); err == nil {
		t.Fatal("expected rootless trailer to be rejected")
	}
}

func TestSerializeNameEscapes(t *testing.T) {
	got := string(serializeName("Lime Green#1"))
	if got != "/Lime#20Green#231" {
		t.Fatalf("unexpected name serialization: %q", got)
	}
}

func TestSerializeStringForms(t *testing.T) {
	if got := string(serializeString(raw.Str([]byte("a(b)\\")))); got != `(a\(b\)\\)` {
		t.Fatalf("unexpected literal form: %q", got)
	}
	if got := string(serializeString(raw.Str([]byte{0x01, 0x02}))); got != "<0102>" {
		t.Fatalf("binary payload should switch to hex: %q", got)
	}
}
