package parser

import (
	"context"
	"errors"
	"fmt"
	"io"

	"formlib/ir/raw"
	"formlib/recovery"
	"formlib/scanner"
	"formlib/xref"
)

// Config controls high-level parsing (xref resolution + object loading).
type Config struct {
	Scanner  scanner.Config
	Recovery recovery.Strategy
	// Repair enables whole-file reconstruction when the xref table is
	// missing or inconsistent. On by default through DefaultConfig.
	Repair bool
}

func DefaultConfig() Config {
	return Config{Repair: true}
}

// DocumentParser builds a raw.Document from a byte stream using the
// cross-reference table, falling back to a sequential body scan when the
// table cannot be trusted.
type DocumentParser struct {
	cfg Config
}

func NewDocumentParser(cfg Config) *DocumentParser {
	cfg.Scanner.Recovery = cfg.Recovery
	return &DocumentParser{cfg: cfg}
}

func (p *DocumentParser) Parse(ctx context.Context, r io.ReaderAt) (*raw.Document, error) {
	resolver := xref.NewResolver(xref.ResolverConfig{Scanner: p.cfg.Scanner, Repair: p.cfg.Repair})
	table, err := resolver.Resolve(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("resolve xref: %w", err)
	}

	data := readAll(r)
	doc := &raw.Document{
		Objects: make(map[raw.ObjectRef]raw.Object),
		Trailer: table.Trailer(),
		Version: detectHeaderVersion(data),
	}

	for _, objNum := range table.Objects() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if objNum == 0 {
			continue // free list head
		}
		offset, gen, found := table.Lookup(objNum)
		if !found {
			continue
		}
		ref := raw.ObjectRef{Num: objNum, Gen: gen}
		obj, err := p.loadAt(data, ref, offset)
		if err != nil {
			if p.skip(err, ref, offset) {
				continue
			}
			return nil, fmt.Errorf("load object %d %d: %w", objNum, gen, err)
		}
		doc.Objects[ref] = obj
	}

	if len(doc.Objects) == 0 {
		return nil, errors.New("document holds no loadable objects")
	}
	return doc, nil
}

// loadAt parses the indirect object stored at the given byte offset,
// verifying that the header matches the reference the table promised.
func (p *DocumentParser) loadAt(data []byte, ref raw.ObjectRef, offset int64) (raw.Object, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("object offset out of range: %d", offset)
	}
	s := scanner.NewBytes(data, p.cfg.Scanner)
	if err := s.SeekTo(offset); err != nil {
		return nil, err
	}
	s.SetLocation(recovery.Location{ObjectNum: ref.Num, ObjectGen: ref.Gen, ByteOffset: offset})
	tr := raw.NewTokenReader(s)

	numTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	num, ok := intToken(numTok)
	if !ok || num != ref.Num {
		return nil, fmt.Errorf("object header mismatch at offset %d", offset)
	}
	genTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	gen, ok := intToken(genTok)
	if !ok || gen != ref.Gen {
		return nil, fmt.Errorf("object header mismatch at offset %d", offset)
	}
	kwTok, err := tr.Next()
	if err != nil {
		return nil, err
	}
	if kwTok.Type != scanner.TokenKeyword || kwTok.Value != "obj" {
		return nil, fmt.Errorf("obj keyword missing at offset %d", offset)
	}

	return readBody(tr)
}

// readBody parses an object body, wrapping a trailing stream payload.
func readBody(tr *raw.TokenReader) (raw.Object, error) {
	obj, err := raw.ReadObject(tr)
	if err != nil {
		return nil, err
	}
	if dict, ok := obj.(*raw.DictObj); ok {
		if lenObj, ok := dict.Get(raw.NameLiteral("Length")); ok {
			if n, ok := lenObj.(raw.NumberObj); ok && n.IsInt {
				tr.Scanner().SetNextStreamLength(n.I)
			}
		}
		if tok, err := tr.Next(); err == nil {
			if tok.Type == scanner.TokenStream {
				data, _ := tok.Value.([]byte)
				obj = raw.NewStream(dict, append([]byte(nil), data...))
			} else {
				tr.Unread(tok)
			}
		}
		tr.Scanner().SetNextStreamLength(-1)
	}
	return obj, nil
}

func (p *DocumentParser) skip(err error, ref raw.ObjectRef, offset int64) bool {
	if p.cfg.Recovery == nil {
		return false
	}
	action := p.cfg.Recovery.OnError(err, recovery.Location{
		ByteOffset: offset,
		ObjectNum:  ref.Num,
		ObjectGen:  ref.Gen,
		Component:  "parser",
	})
	return action == recovery.ActionSkip || action == recovery.ActionWarn
}

func intToken(tok scanner.Token) (int, bool) {
	if tok.Type != scanner.TokenNumber {
		return 0, false
	}
	i, ok := tok.Value.(int64)
	return int(i), ok
}

func detectHeaderVersion(data []byte) string {
	const prefix = "%PDF-"
	if len(data) < len(prefix)+3 || string(data[:len(prefix)]) != prefix {
		return ""
	}
	end := len(prefix)
	for end < len(data) && end < len(prefix)+8 {
		c := data[end]
		if c == '\r' || c == '\n' || c == ' ' {
			break
		}
		end++
	}
	return string(data[len(prefix):end])
}

func readAll(r io.ReaderAt) []byte {
	buf := make([]byte, 0, 64*1024)
	tmp := make([]byte, 64*1024)
	for off := int64(0); ; off += int64(len(tmp)) {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if err != nil || n < len(tmp) {
			break
		}
	}
	return buf
}
