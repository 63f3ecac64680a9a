package xref

import (
	"context"
	"errors"
	"io"

	"formlib/ir/raw"
	"formlib/scanner"
)

// repair scans the entire file to reconstruct the xref table. It looks for
// "N G obj" patterns and keeps the last trailer dictionary it meets.
func repair(ctx context.Context, data []byte, cfg scanner.Config) (Table, error) {
	s := scanner.NewBytes(data, cfg)
	tr := raw.NewTokenReader(s)
	entries := make(map[int]entry)
	var lastTrailer raw.Dictionary

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// Skip unreadable regions during the repair scan.
			if seekErr := s.SeekTo(s.Position() + 1); seekErr != nil {
				break
			}
			continue
		}

		if tok.Type == scanner.TokenKeyword && tok.Value == "trailer" {
			if obj, err := raw.ReadObject(tr); err == nil {
				if dict, ok := obj.(*raw.DictObj); ok {
					lastTrailer = dict
				}
			}
			continue
		}

		if tok.Type != scanner.TokenNumber {
			continue
		}
		objNum, ok := tok.Value.(int64)
		if !ok {
			continue
		}

		genTok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			continue
		}
		if genTok.Type != scanner.TokenNumber {
			tr.Unread(genTok)
			continue
		}
		gen, ok := genTok.Value.(int64)
		if !ok {
			continue
		}

		kwTok, err := tr.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			continue
		}
		if kwTok.Type == scanner.TokenKeyword && kwTok.Value == "obj" {
			entries[int(objNum)] = entry{offset: tok.Pos, gen: int(gen)}
			continue
		}
		tr.Unread(kwTok)
		tr.Unread(genTok)
	}

	if len(entries) == 0 {
		return nil, errors.New("repair failed: no objects found")
	}

	if lastTrailer == nil {
		// Construct a minimal trailer if the document lost its own.
		t := raw.Dict()
		t.Set(raw.NameLiteral("Size"), raw.NumberInt(int64(len(entries)+1)))
		lastTrailer = t
	}

	return &table{entries: entries, trailer: lastTrailer}, nil
}
