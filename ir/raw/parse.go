package raw

import (
	"context"
	"fmt"
	"io"

	"formlib/recovery"
	"formlib/scanner"
)

// TokenReader wraps a scanner with one-token pushback, which is all the
// object grammar needs.
type TokenReader struct {
	s   scanner.Scanner
	buf []scanner.Token
}

func NewTokenReader(s scanner.Scanner) *TokenReader { return &TokenReader{s: s} }

func (r *TokenReader) Next() (scanner.Token, error) {
	if l := len(r.buf); l > 0 {
		t := r.buf[l-1]
		r.buf = r.buf[:l-1]
		return t, nil
	}
	return r.s.Next()
}

func (r *TokenReader) Unread(tok scanner.Token) { r.buf = append(r.buf, tok) }

func (r *TokenReader) Scanner() scanner.Scanner { return r.s }

// ReadObject parses a single object from the token stream.
func ReadObject(tr *TokenReader) (Object, error) {
	tok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	switch tok.Type {
	case scanner.TokenName:
		if v, ok := tok.Value.(string); ok {
			return NameObj{Val: v}, nil
		}
	case scanner.TokenNumber:
		if i, ok := tok.Value.(int64); ok {
			return NumberObj{I: i, IsInt: true}, nil
		}
		if f, ok := tok.Value.(float64); ok {
			return NumberObj{F: f, IsInt: false}, nil
		}
	case scanner.TokenBoolean:
		if v, ok := tok.Value.(bool); ok {
			return BoolObj{V: v}, nil
		}
	case scanner.TokenNull:
		return NullObj{}, nil
	case scanner.TokenString:
		if b, ok := tok.Value.([]byte); ok {
			return StringObj{Bytes: b, Hex: tok.Hex}, nil
		}
	case scanner.TokenArray:
		return readArray(tr)
	case scanner.TokenDict:
		return readDict(tr)
	case scanner.TokenRef:
		if v, ok := tok.Value.(struct{ Num, Gen int }); ok {
			return RefObj{R: ObjectRef{Num: v.Num, Gen: v.Gen}}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token: %v", tok.Type)
}

func readArray(tr *TokenReader) (Object, error) {
	arr := &ArrayObj{}
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == "]" {
			break
		}
		tr.Unread(tok)
		item, err := ReadObject(tr)
		if err != nil {
			return nil, err
		}
		arr.Append(item)
	}
	return arr, nil
}

func readDict(tr *TokenReader) (Object, error) {
	d := Dict()
	for {
		tok, err := tr.Next()
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == ">>" {
			break
		}
		if tok.Type != scanner.TokenName {
			return nil, fmt.Errorf("expected name in dict, got %v", tok.Type)
		}
		key, _ := tok.Value.(string)
		val, err := ReadObject(tr)
		if err != nil {
			return nil, err
		}
		d.Set(NameObj{Val: key}, val)
	}
	return d, nil
}

// ParserConfig controls sequential body parsing.
type ParserConfig struct {
	Scanner scanner.Config
}

// NewParser constructs a sequential body-scan parser. It walks the whole
// byte stream collecting every "N G obj" it can find, ignoring the
// cross-reference table entirely. It serves as the repair path when the
// table is missing or lies.
func NewParser(cfg ParserConfig) Parser {
	return &parserImpl{cfg: cfg}
}

type parserImpl struct {
	cfg ParserConfig
}

func (p *parserImpl) Parse(ctx context.Context, r io.ReaderAt) (*Document, error) {
	s := scanner.New(r, p.cfg.Scanner)
	tr := NewTokenReader(s)

	doc := &Document{Objects: make(map[ObjectRef]Object)}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tok, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if tok.Type == scanner.TokenKeyword && tok.Value == "trailer" {
			if obj, err := ReadObject(tr); err == nil {
				if dict, ok := obj.(*DictObj); ok {
					doc.Trailer = dict
				}
			}
			continue
		}
		if tok.Type != scanner.TokenNumber {
			continue
		}
		objNum, ok := tokenInt(tok)
		if !ok {
			continue
		}

		genTok, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if genTok.Type != scanner.TokenNumber {
			tr.Unread(genTok)
			continue
		}
		gen, ok := tokenInt(genTok)
		if !ok {
			continue
		}

		kwTok, err := tr.Next()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		if kwTok.Type != scanner.TokenKeyword || kwTok.Value != "obj" {
			tr.Unread(kwTok)
			tr.Unread(genTok)
			continue
		}

		s.SetLocation(locationFor(objNum, gen))

		obj, err := readIndirect(tr)
		if err != nil {
			return nil, fmt.Errorf("parse object %d %d: %w", objNum, gen, err)
		}

		doc.Objects[ObjectRef{Num: objNum, Gen: gen}] = obj
	}

	return doc, nil
}

// readIndirect reads an object body, wrapping a following stream payload and
// consuming an optional endobj.
func readIndirect(tr *TokenReader) (Object, error) {
	obj, err := ReadObject(tr)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*DictObj); ok {
		if lenObj, ok := dict.Get(NameLiteral("Length")); ok {
			if n, ok := lenObj.(NumberObj); ok && n.IsInt {
				tr.Scanner().SetNextStreamLength(n.I)
			}
		}
		if streamTok, err := tr.Next(); err == nil {
			if streamTok.Type == scanner.TokenStream {
				data, _ := streamTok.Value.([]byte)
				obj = NewStream(dict, append([]byte(nil), data...))
			} else {
				tr.Unread(streamTok)
			}
		}
		tr.Scanner().SetNextStreamLength(-1)
	}
	if t, err := tr.Next(); err == nil {
		if t.Type != scanner.TokenKeyword || t.Value != "endobj" {
			tr.Unread(t)
		}
	}
	return obj, nil
}

func locationFor(num, gen int) recovery.Location {
	return recovery.Location{ObjectNum: num, ObjectGen: gen}
}

func tokenInt(tok scanner.Token) (int, bool) {
	if i, ok := tok.Value.(int64); ok {
		return int(i), true
	}
	return 0, false
}
