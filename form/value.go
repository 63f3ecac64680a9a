package form

import (
	"fmt"
	"math"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"

	"formlib/ir/raw"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindText Kind = iota
	KindBoolean
	KindChoice
	KindInteger
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindBoolean:
		return "boolean"
	case KindChoice:
		return "choice"
	case KindInteger:
		return "integer"
	default:
		return "unknown"
	}
}

// Value is a typed field value. The closed set of variants mirrors what
// interactive forms can actually hold: free text, an on/off toggle state, a
// choice export value, and integral numbers.
type Value interface {
	Kind() Kind
}

type Text string

func (Text) Kind() Kind { return KindText }

type Boolean bool

func (Boolean) Kind() Kind { return KindBoolean }

type Choice string

func (Choice) Kind() Kind { return KindChoice }

type Integer int32

func (Integer) Kind() Kind { return KindInteger }

// FieldType is a field's declared type, own or inherited.
type FieldType int

const (
	TypeUnknown FieldType = iota
	TypeText
	TypeButton
	TypeChoice
	TypeSignature
)

func (t FieldType) String() string {
	switch t {
	case TypeText:
		return "Tx"
	case TypeButton:
		return "Btn"
	case TypeChoice:
		return "Ch"
	case TypeSignature:
		return "Sig"
	default:
		return "unknown"
	}
}

func fieldTypeFromName(name string) FieldType {
	switch name {
	case "Tx":
		return TypeText
	case "Btn":
		return TypeButton
	case "Ch":
		return TypeChoice
	case "Sig":
		return TypeSignature
	default:
		return TypeUnknown
	}
}

// valueMatches reports whether a batch value kind is assignable to a field
// type. Text fields additionally accept integers, which are rendered in
// decimal form.
func valueMatches(ft FieldType, k Kind) bool {
	switch ft {
	case TypeText:
		return k == KindText || k == KindInteger
	case TypeButton:
		return k == KindBoolean
	case TypeChoice:
		return k == KindChoice
	default:
		return false
	}
}

var (
	utf16Encoder = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
	utf16Decoder = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM)
)

// encodeTextString converts a Go string into string-object bytes: always
// UTF-16BE with a byte-order mark, regardless of how the stored value was
// encoded, carried in hex form so the payload survives serialization byte
// for byte.
func encodeTextString(s string) raw.StringObj {
	encoded, err := utf16Encoder.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// The encoder replaces unpaired surrogates rather than failing on
		// valid input; an error here means the input was not UTF-8.
		encoded = []byte{0xFE, 0xFF}
		for _, r := range s {
			if r > 0xFFFF {
				r1, r2 := utf16Surrogates(r)
				encoded = append(encoded, byte(r1>>8), byte(r1), byte(r2>>8), byte(r2))
				continue
			}
			encoded = append(encoded, byte(r>>8), byte(r))
		}
	}
	return raw.HexStr(encoded)
}

// decodeTextString converts string-object bytes back into a Go string. Bytes
// starting with the UTF-16BE byte-order mark decode as UTF-16; everything
// else passes through the single-byte document encoding. The lossy flag is
// set when malformed input forced replacement characters.
func decodeTextString(b []byte) (string, bool) {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		decoded, err := utf16Decoder.NewDecoder().Bytes(b)
		if err == nil {
			return string(decoded), false
		}
		return decodeUTF16Permissive(b[2:]), true
	}
	return decodePDFDoc(b), false
}

func utf16Surrogates(r rune) (rune, rune) {
	r -= 0x10000
	return 0xD800 + (r >> 10), 0xDC00 + (r & 0x3FF)
}

// decodeUTF16Permissive decodes big-endian UTF-16 without the BOM,
// substituting the replacement character for unpaired surrogates and
// dropping a trailing odd byte.
func decodeUTF16Permissive(b []byte) string {
	var out []rune
	for i := 0; i+1 < len(b); i += 2 {
		u := rune(b[i])<<8 | rune(b[i+1])
		if u >= 0xD800 && u < 0xDC00 && i+3 < len(b) {
			lo := rune(b[i+2])<<8 | rune(b[i+3])
			if lo >= 0xDC00 && lo < 0xE000 {
				out = append(out, 0x10000+((u-0xD800)<<10)+(lo-0xDC00))
				i += 2
				continue
			}
		}
		if u >= 0xD800 && u < 0xE000 {
			u = utf8.RuneError
		}
		out = append(out, u)
	}
	return string(out)
}

// pdfDocSpecials maps the bytes where the document encoding departs from
// Latin-1. Unlisted bytes map to the identical code point.
var pdfDocSpecials = map[byte]rune{
	0x18: 0x02D8, // breve
	0x19: 0x02C7, // caron
	0x1A: 0x02C6, // circumflex
	0x1B: 0x02D9, // dot above
	0x1C: 0x02DD, // double acute
	0x1D: 0x02DB, // ogonek
	0x1E: 0x02DA, // ring above
	0x1F: 0x02DC, // small tilde
	0x80: 0x2022, // bullet
	0x81: 0x2020, // dagger
	0x82: 0x2021, // double dagger
	0x83: 0x2026, // ellipsis
	0x84: 0x2014, // em dash
	0x85: 0x2013, // en dash
	0x86: 0x0192, // f with hook
	0x87: 0x2044, // fraction slash
	0x88: 0x2039, // single left guillemet
	0x89: 0x203A, // single right guillemet
	0x8A: 0x2212, // minus sign
	0x8B: 0x2030, // per mille
	0x8C: 0x201E, // low double quote
	0x8D: 0x201C, // left double quote
	0x8E: 0x201D, // right double quote
	0x8F: 0x2018, // left single quote
	0x90: 0x2019, // right single quote
	0x91: 0x201A, // low single quote
	0x92: 0x2122, // trademark
	0x93: 0xFB01, // fi ligature
	0x94: 0xFB02, // fl ligature
	0x95: 0x0141, // L with stroke
	0x96: 0x0152, // OE ligature
	0x97: 0x0160, // S with caron
	0x98: 0x0178, // Y with diaeresis
	0x99: 0x017D, // Z with caron
	0x9A: 0x0131, // dotless i
	0x9B: 0x0142, // l with stroke
	0x9C: 0x0153, // oe ligature
	0x9D: 0x0161, // s with caron
	0x9E: 0x017E, // z with caron
	0xA0: 0x20AC, // euro sign
}

func decodePDFDoc(b []byte) string {
	out := make([]rune, 0, len(b))
	for _, c := range b {
		if r, ok := pdfDocSpecials[c]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, rune(c))
	}
	return string(out)
}

// decodeValue interprets a field's stored value primitive according to the
// field's declared type. The returned lossy flag mirrors decodeTextString.
func decodeValue(obj raw.Object, ft FieldType, field string) (Value, bool, error) {
	if obj == nil {
		return nil, false, nil
	}
	if _, ok := obj.(raw.NullObj); ok {
		return nil, false, nil
	}
	switch ft {
	case TypeText:
		switch v := obj.(type) {
		case raw.StringObj:
			s, lossy := decodeTextString(v.Bytes)
			return Text(s), lossy, nil
		case raw.NumberObj:
			if v.IsInt {
				if v.I < math.MinInt32 || v.I > math.MaxInt32 {
					return nil, false, &EncodingError{Field: field, Reason: "integer value out of 32-bit range"}
				}
				return Integer(v.I), false, nil
			}
			return nil, false, &EncodingError{Field: field, Reason: "non-integral number value"}
		}
	case TypeButton:
		if v, ok := obj.(raw.NameObj); ok {
			return Boolean(v.Val != "Off"), false, nil
		}
	case TypeChoice:
		switch v := obj.(type) {
		case raw.StringObj:
			s, lossy := decodeTextString(v.Bytes)
			return Choice(s), lossy, nil
		case raw.NameObj:
			return Choice(v.Val), false, nil
		}
	case TypeSignature:
		return nil, false, &EncodingError{Field: field, Reason: "signature values are not representable"}
	}
	return nil, false, &EncodingError{
		Field:  field,
		Reason: fmt.Sprintf("stored %s value is not representable for type %s", obj.Type(), ft),
	}
}

// encodeValue converts a validated batch value into the primitive written to
// the field. onState is the button's on-appearance name, already discovered
// from the widget appearance dictionaries.
func encodeValue(v Value, onState string) (raw.Object, error) {
	switch val := v.(type) {
	case Text:
		return encodeTextString(string(val)), nil
	case Integer:
		return raw.NumberInt(int64(val)), nil
	case Boolean:
		if !val {
			return raw.NameLiteral("Off"), nil
		}
		if onState == "" {
			onState = "Yes"
		}
		return raw.NameLiteral(onState), nil
	case Choice:
		return encodeTextString(string(val)), nil
	default:
		return nil, &EncodingError{Reason: fmt.Sprintf("unsupported value kind %v", v)}
	}
}

// appearanceState picks the widget /AS name matching a freshly applied
// value, or "" when the type carries no appearance state.
func appearanceState(v Value, onState string) string {
	switch val := v.(type) {
	case Boolean:
		if !val {
			return "Off"
		}
		if onState == "" {
			return "Yes"
		}
		return onState
	case Choice:
		return string(val)
	default:
		return ""
	}
}
