package writer

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"formlib/ir/raw"
)

type impl struct{ cfg Config }

func (w *impl) Write(doc *raw.Document) ([]byte, error) {
	if doc == nil || len(doc.Objects) == 0 {
		return nil, errors.New("document holds no objects")
	}
	if doc.Trailer == nil {
		return nil, errors.New("document has no trailer")
	}
	if _, ok := doc.Trailer.Get(raw.NameLiteral("Root")); !ok {
		return nil, errors.New("trailer has no Root")
	}

	version := w.cfg.Version
	if version == "" {
		version = doc.Version
	}
	if version == "" {
		version = "1.7"
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-" + version + "\n")
	// binary marker comment so transports treat the file as binary
	buf.WriteString("%\xE2\xE3\xCF\xD3\n")

	ordered := make([]raw.ObjectRef, 0, len(doc.Objects))
	for ref := range doc.Objects {
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Num != ordered[j].Num {
			return ordered[i].Num < ordered[j].Num
		}
		return ordered[i].Gen < ordered[j].Gen
	})

	offsets := make(map[int]int64, len(ordered))
	gens := make(map[int]int, len(ordered))
	for _, ref := range ordered {
		offsets[ref.Num] = int64(buf.Len())
		gens[ref.Num] = ref.Gen
		serialized, err := w.SerializeObject(ref, doc.Objects[ref])
		if err != nil {
			return nil, fmt.Errorf("serialize object %d %d: %w", ref.Num, ref.Gen, err)
		}
		buf.Write(serialized)
	}

	maxObjNum := ordered[len(ordered)-1].Num
	xrefOffset := buf.Len()
	buf.WriteString("xref\n")
	fmt.Fprintf(&buf, "0 %d\n", maxObjNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxObjNum; num++ {
		if off, ok := offsets[num]; ok {
			fmt.Fprintf(&buf, "%010d %05d n \n", off, gens[num])
		} else {
			buf.WriteString("0000000000 65535 f \n")
		}
	}

	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(cleanTrailer(doc.Trailer, maxObjNum+1)))
	buf.WriteString("\nstartxref\n")
	fmt.Fprintf(&buf, "%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), nil
}

func (w *impl) SerializeObject(ref raw.ObjectRef, obj raw.Object) ([]byte, error) {
	if obj == nil {
		return nil, errors.New("nil object")
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%d %d obj\n", ref.Num, ref.Gen)
	buf.Write(serializePrimitive(obj))
	buf.WriteString("\nendobj\n")
	return buf.Bytes(), nil
}

// cleanTrailer copies the source trailer, drops keys tied to the discarded
// byte stream, and stamps the new object count.
func cleanTrailer(trailer raw.Dictionary, size int) *raw.DictObj {
	out := raw.Dict()
	for _, key := range trailer.Keys() {
		if isStaleTrailerKey(key.Value()) {
			continue
		}
		if v, ok := trailer.Get(key); ok {
			out.Set(key, v)
		}
	}
	out.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(size)))
	return out
}

func isStaleTrailerKey(key string) bool {
	for _, stale := range staleTrailerKeys {
		if key == stale {
			return true
		}
	}
	return false
}

func serializePrimitive(o raw.Object) []byte {
	switch v := o.(type) {
	case raw.NameObj:
		return serializeName(v.Value())
	case raw.NumberObj:
		if v.IsInteger() {
			return strconv.AppendInt(nil, v.Int(), 10)
		}
		return strconv.AppendFloat(nil, v.Float(), 'f', -1, 64)
	case raw.BoolObj:
		if v.Value() {
			return []byte("true")
		}
		return []byte("false")
	case raw.NullObj:
		return []byte("null")
	case raw.StringObj:
		return serializeString(v)
	case *raw.ArrayObj:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.Write(serializePrimitive(it))
		}
		b.WriteByte(']')
		return b.Bytes()
	case *raw.DictObj:
		return serializeDict(v)
	case *raw.StreamObj:
		var b bytes.Buffer
		dict := v.Dict.Clone()
		dict.Set(raw.NameLiteral("Length"), raw.NumberInt(int64(len(v.Data))))
		b.Write(serializeDict(dict))
		b.WriteString("\nstream\n")
		b.Write(v.Data)
		b.WriteString("\nendstream")
		return b.Bytes()
	case raw.RefObj:
		return []byte(fmt.Sprintf("%d %d R", v.Ref().Num, v.Ref().Gen))
	default:
		return []byte("null")
	}
}

func serializeDict(d *raw.DictObj) []byte {
	var b bytes.Buffer
	b.WriteString("<<")
	keys := make([]string, 0, len(d.KV))
	for k := range d.KV {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.Write(serializeName(k))
		b.WriteByte(' ')
		b.Write(serializePrimitive(d.KV[k]))
	}
	b.WriteString(">>")
	return b.Bytes()
}

// serializeName writes a name with #-escapes for delimiters and non-regular
// bytes.
func serializeName(name string) []byte {
	var b bytes.Buffer
	b.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c <= 0x20 || c >= 0x7F || isNameEscape(c) {
			fmt.Fprintf(&b, "#%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.Bytes()
}

func isNameEscape(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%', '#':
		return true
	default:
		return false
	}
}

// serializeString emits hex form for strings flagged hex or containing
// non-printable bytes, and an escaped literal otherwise.
func serializeString(s raw.StringObj) []byte {
	data := s.Value()
	if s.IsHex() || hasBinary(data) {
		var b bytes.Buffer
		b.WriteByte('<')
		for _, c := range data {
			fmt.Fprintf(&b, "%02X", c)
		}
		b.WriteByte('>')
		return b.Bytes()
	}
	var b bytes.Buffer
	b.WriteByte('(')
	for _, c := range data {
		switch c {
		case '(', ')', '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte(')')
	return b.Bytes()
}

func hasBinary(data []byte) bool {
	for _, c := range data {
		if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
			return true
		}
		if c >= 0x7F {
			return true
		}
	}
	return false
}
