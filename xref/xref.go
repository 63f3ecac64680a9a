package xref

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"formlib/ir/raw"
	"formlib/scanner"
)

// Table holds object offsets for a classic xref table.
type Table interface {
	Lookup(objNum int) (offset int64, gen int, found bool)
	Objects() []int
	Trailer() raw.Dictionary
}

// Resolver locates and parses xref information in a document.
type Resolver interface {
	Resolve(ctx context.Context, r io.ReaderAt) (Table, error)
}

type ResolverConfig struct {
	Scanner scanner.Config
	// Repair enables the whole-file reconstruction scan when the classic
	// table is missing or inconsistent.
	Repair bool
}

// NewResolver returns a classic-table resolver.
func NewResolver(cfg ResolverConfig) Resolver {
	return &tableResolver{cfg: cfg}
}

type tableResolver struct {
	cfg ResolverConfig
}

func (t *tableResolver) Resolve(ctx context.Context, r io.ReaderAt) (Table, error) {
	data := readAll(r)

	tbl, err := t.resolveClassic(data)
	if err != nil && t.cfg.Repair {
		return repair(ctx, data, t.cfg.Scanner)
	}
	return tbl, err
}

func (t *tableResolver) resolveClassic(data []byte) (Table, error) {
	startxref := bytes.LastIndex(data, []byte("startxref"))
	if startxref < 0 {
		return nil, errors.New("startxref not found")
	}
	offset, err := firstInt(data[startxref+len("startxref"):])
	if err != nil {
		return nil, fmt.Errorf("parse startxref: %w", err)
	}
	if offset <= 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("xref offset out of range: %d", offset)
	}

	sc := newLineScanner(data[offset:])
	line, ok := sc.next()
	if !ok || line != "xref" {
		return nil, errors.New("xref keyword not found at offset")
	}

	entries := make(map[int]entry)
	for {
		line, ok := sc.next()
		if !ok {
			break
		}
		if strings.HasPrefix(line, "trailer") {
			break
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid xref subsection header: %q", line)
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("parse xref start: %w", err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("parse xref count: %w", err)
		}
		for i := 0; i < count; i++ {
			entryLine, ok := sc.next()
			if !ok {
				return nil, errors.New("unexpected end of xref section")
			}
			fields := strings.Fields(entryLine)
			if len(fields) < 3 {
				return nil, fmt.Errorf("invalid xref entry: %q", entryLine)
			}
			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("parse xref offset: %w", err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("parse xref gen: %w", err)
			}
			if fields[2] != "n" {
				continue // free entry
			}
			entries[startObj+i] = entry{offset: off, gen: gen}
		}
	}

	if len(entries) == 0 {
		return nil, errors.New("xref table holds no live objects")
	}

	var trailer raw.Dictionary
	if idx := bytes.Index(data[offset:], []byte("trailer")); idx >= 0 {
		trailer = parseTrailer(data[offset+int64(idx)+int64(len("trailer")):], t.cfg.Scanner)
	}
	if trailer == nil {
		return nil, errors.New("trailer dictionary not found")
	}

	return &table{entries: entries, trailer: trailer}, nil
}

func parseTrailer(data []byte, cfg scanner.Config) raw.Dictionary {
	tr := raw.NewTokenReader(scanner.NewBytes(data, cfg))
	obj, err := raw.ReadObject(tr)
	if err != nil {
		return nil
	}
	dict, _ := obj.(*raw.DictObj)
	if dict == nil {
		return nil
	}
	return dict
}

type entry struct {
	offset int64
	gen    int
}

type table struct {
	entries map[int]entry
	trailer raw.Dictionary
}

func (t *table) Lookup(objNum int) (int64, int, bool) {
	e, ok := t.entries[objNum]
	if !ok {
		return 0, 0, false
	}
	return e.offset, e.gen, true
}

func (t *table) Objects() []int {
	out := make([]int, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

func (t *table) Trailer() raw.Dictionary { return t.trailer }

// lineScanner iterates text lines while tracking the byte position, which
// the trailer locator needs.
type lineScanner struct {
	data []byte
	pos  int64
}

func newLineScanner(data []byte) *lineScanner { return &lineScanner{data: data} }

func (s *lineScanner) next() (string, bool) {
	for s.pos < int64(len(s.data)) {
		start := s.pos
		for s.pos < int64(len(s.data)) && s.data[s.pos] != '\n' && s.data[s.pos] != '\r' {
			s.pos++
		}
		line := strings.TrimSpace(string(s.data[start:s.pos]))
		if s.pos < int64(len(s.data)) {
			if s.data[s.pos] == '\r' {
				s.pos++
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			} else {
				s.pos++
			}
		}
		if line != "" {
			return line, true
		}
	}
	return "", false
}

func firstInt(data []byte) (int64, error) {
	sc := newLineScanner(data)
	line, ok := sc.next()
	if !ok {
		return 0, errors.New("missing value")
	}
	return strconv.ParseInt(line, 10, 64)
}

func readAll(r io.ReaderAt) []byte {
	var buf bytes.Buffer
	const chunk = int64(64 * 1024)
	tmp := make([]byte, chunk)
	for off := int64(0); ; off += chunk {
		n, err := r.ReadAt(tmp, off)
		if n > 0 {
			buf.Write(tmp[:n])
		}
		if err != nil || int64(n) < chunk {
			break
		}
	}
	return buf.Bytes()
}
