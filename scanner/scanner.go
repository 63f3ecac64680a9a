package scanner

import (
	"bytes"
	"errors"
	"io"
	"strconv"

	"formlib/recovery"
)

type TokenType int

const (
	TokenDict    TokenType = iota // '<<'
	TokenArray                    // '['
	TokenName                     // '/Name'
	TokenString                   // literal or hex string
	TokenNumber                   // numeric value
	TokenBoolean                  // true/false
	TokenNull                     // null
	TokenRef                      // indirect ref '5 0 R'
	TokenStream                   // 'stream' keyword with payload
	TokenKeyword                  // other keywords (obj, endobj, endstream, '>>', ']', ...)
)

type Token struct {
	Type  TokenType
	Value interface{}
	Hex   bool // strings only: scanned from hex form
	Pos   int64
}

type Scanner interface {
	Next() (Token, error)
	Position() int64
	SeekTo(offset int64) error
	SetNextStreamLength(n int64)
	SetLocation(loc recovery.Location)
}

type Config struct {
	MaxStringLength int64
	MaxArrayDepth   int
	MaxDictDepth    int
	MaxStreamLength int64
	Recovery        recovery.Strategy
}

// cosScanner tokenizes a fully buffered document body. Form documents are
// loaded whole for the lifetime of a session, so no windowed reads are
// needed.
type cosScanner struct {
	data          []byte
	pos           int64
	cfg           Config
	nextStreamLen int64
	arrayDepth    int
	dictDepth     int
	loc           recovery.Location
}

// New reads the entire ReaderAt and returns a scanner over it.
func New(r io.ReaderAt, cfg Config) Scanner {
	return NewBytes(readAll(r), cfg)
}

// NewBytes returns a scanner over an in-memory buffer.
func NewBytes(data []byte, cfg Config) Scanner {
	return &cosScanner{data: data, cfg: cfg, nextStreamLen: -1}
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

func (s *cosScanner) Position() int64 { return s.pos }

func (s *cosScanner) SeekTo(offset int64) error {
	if offset < 0 || offset > int64(len(s.data)) {
		return errors.New("seek out of range")
	}
	s.pos = offset
	return nil
}

func (s *cosScanner) SetNextStreamLength(n int64)        { s.nextStreamLen = n }
func (s *cosScanner) SetLocation(loc recovery.Location) { s.loc = loc }

func (s *cosScanner) Next() (Token, error) {
	if err := s.skipWSAndComments(); err != nil {
		return Token{}, err
	}
	start := s.pos
	c := s.data[s.pos]
	switch c {
	case '<':
		if s.peek(1) == '<' {
			s.pos += 2
			return s.emit(Token{Type: TokenDict, Value: "<<", Pos: start})
		}
		return s.scanHexString()
	case '>':
		if s.peek(1) == '>' {
			s.pos += 2
			return s.emit(Token{Type: TokenKeyword, Value: ">>", Pos: start})
		}
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Value: string(c), Pos: start})
	case '[':
		s.pos++
		return s.emit(Token{Type: TokenArray, Value: "[", Pos: start})
	case ']':
		s.pos++
		return s.emit(Token{Type: TokenKeyword, Value: "]", Pos: start})
	case '(':
		return s.scanLiteralString()
	case '/':
		return s.scanName()
	}
	if isNumberStart(c) {
		return s.scanNumberOrRef()
	}
	if isRegular(c) {
		return s.scanKeyword()
	}
	s.pos++
	return s.emit(Token{Type: TokenKeyword, Value: string(c), Pos: start})
}

func (s *cosScanner) skipWSAndComments() error {
	for {
		if s.pos >= int64(len(s.data)) {
			return io.EOF
		}
		c := s.data[s.pos]
		if isWhitespace(c) {
			s.pos++
			continue
		}
		if c == '%' {
			for s.pos < int64(len(s.data)) && !isEOL(s.data[s.pos]) {
				s.pos++
			}
			continue
		}
		return nil
	}
}

func (s *cosScanner) peek(n int64) byte {
	if s.pos+n >= int64(len(s.data)) {
		return 0
	}
	return s.data[s.pos+n]
}

func (s *cosScanner) scanName() (Token, error) {
	start := s.pos
	s.pos++ // skip '/'
	var out bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		if c == '#' && s.pos+2 < int64(len(s.data)) {
			a, aok := fromHex(s.data[s.pos+1])
			b, bok := fromHex(s.data[s.pos+2])
			if aok && bok {
				out.WriteByte(a<<4 | b)
				s.pos += 3
				continue
			}
		}
		out.WriteByte(c)
		s.pos++
	}
	return s.emit(Token{Type: TokenName, Value: out.String(), Pos: start})
}

func (s *cosScanner) scanLiteralString() (Token, error) {
	start := s.pos
	s.pos++ // skip '('
	var buf bytes.Buffer
	depth := 1
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '\\' {
			s.pos++
			if s.pos >= int64(len(s.data)) {
				break
			}
			esc := s.data[s.pos]
			switch {
			case esc == '\r':
				// line continuation, swallow optional LF
				s.pos++
				if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
					s.pos++
				}
			case esc == '\n':
				s.pos++
			case esc >= '0' && esc <= '7':
				val := int(esc - '0')
				s.pos++
				for k := 0; k < 2 && s.pos < int64(len(s.data)); k++ {
					d := s.data[s.pos]
					if d < '0' || d > '7' {
						break
					}
					val = val<<3 + int(d-'0')
					s.pos++
				}
				buf.WriteByte(byte(val))
			default:
				buf.WriteByte(translateEscape(esc))
				s.pos++
			}
			continue
		}
		if c == '(' {
			depth++
		} else if c == ')' {
			depth--
			if depth == 0 {
				s.pos++
				return s.emit(Token{Type: TokenString, Value: buf.Bytes(), Pos: start})
			}
		}
		buf.WriteByte(c)
		s.pos++
		if s.cfg.MaxStringLength > 0 && int64(buf.Len()) > s.cfg.MaxStringLength {
			return Token{}, s.recover(errors.New("literal string too long"), "literal")
		}
	}
	if err := s.recover(errors.New("unterminated literal string"), "literal"); err != nil {
		return Token{}, err
	}
	return s.emit(Token{Type: TokenString, Value: buf.Bytes(), Pos: start})
}

func (s *cosScanner) scanHexString() (Token, error) {
	start := s.pos
	s.pos++ // skip '<'
	var nibbles []byte
	closed := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '>' {
			s.pos++
			closed = true
			break
		}
		if isWhitespace(c) {
			s.pos++
			continue
		}
		nibbles = append(nibbles, c)
		s.pos++
	}
	if !closed {
		if err := s.recover(errors.New("unterminated hex string"), "hex"); err != nil {
			return Token{}, err
		}
	}
	if len(nibbles)%2 == 1 {
		nibbles = append(nibbles, '0')
	}
	if s.cfg.MaxStringLength > 0 && int64(len(nibbles)/2) > s.cfg.MaxStringLength {
		return Token{}, s.recover(errors.New("hex string too long"), "hex")
	}
	out := make([]byte, 0, len(nibbles)/2)
	for i := 0; i < len(nibbles); i += 2 {
		a, _ := fromHex(nibbles[i])
		b, _ := fromHex(nibbles[i+1])
		out = append(out, a<<4|b)
	}
	return s.emit(Token{Type: TokenString, Value: out, Hex: true, Pos: start})
}

// scanStream consumes the stream payload following the 'stream' keyword.
// When the caller announced the declared /Length it is trusted; otherwise
// the payload runs to the next standalone 'endstream' marker.
func (s *cosScanner) scanStream(start int64) (Token, error) {
	// PDF 7.3.8: the stream keyword is followed by an EOL before the data.
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\r' {
		s.pos++
	}
	if s.pos < int64(len(s.data)) && s.data[s.pos] == '\n' {
		s.pos++
	}
	dataStart := s.pos

	if s.nextStreamLen >= 0 {
		l := s.nextStreamLen
		s.nextStreamLen = -1
		if s.cfg.MaxStreamLength > 0 && l > s.cfg.MaxStreamLength {
			return Token{}, s.recover(errors.New("stream too long"), "stream")
		}
		if dataStart+l > int64(len(s.data)) {
			if err := s.recover(errors.New("stream ended before declared length"), "stream"); err != nil {
				return Token{}, err
			}
			l = int64(len(s.data)) - dataStart
		}
		payload := append([]byte(nil), s.data[dataStart:dataStart+l]...)
		s.pos = dataStart + l
		// skip to and past the endstream marker
		if idx := bytes.Index(s.data[s.pos:], []byte("endstream")); idx >= 0 {
			s.pos += int64(idx + len("endstream"))
		} else {
			s.pos = int64(len(s.data))
		}
		return s.emit(Token{Type: TokenStream, Value: payload, Pos: start})
	}

	needle := []byte("endstream")
	rest := s.data[dataStart:]
	for off := 0; ; {
		idx := bytes.Index(rest[off:], needle)
		if idx < 0 {
			if err := s.recover(errors.New("endstream not found"), "stream"); err != nil {
				return Token{}, err
			}
			payload := append([]byte(nil), rest...)
			s.pos = int64(len(s.data))
			return s.emit(Token{Type: TokenStream, Value: payload, Pos: start})
		}
		at := off + idx
		afterOK := at+len(needle) >= len(rest) || isDelimiter(rest[at+len(needle)])
		beforeOK := at == 0 || isWhitespace(rest[at-1])
		if beforeOK && afterOK {
			end := at
			// trim the EOL that belongs to the marker, not the data
			if end > 0 && rest[end-1] == '\n' {
				end--
			}
			if end > 0 && rest[end-1] == '\r' {
				end--
			}
			payload := append([]byte(nil), rest[:end]...)
			if s.cfg.MaxStreamLength > 0 && int64(len(payload)) > s.cfg.MaxStreamLength {
				return Token{}, s.recover(errors.New("stream too long"), "stream")
			}
			s.pos = dataStart + int64(at+len(needle))
			return s.emit(Token{Type: TokenStream, Value: payload, Pos: start})
		}
		off = at + 1
	}
}

func (s *cosScanner) scanKeyword() (Token, error) {
	start := s.pos
	var buf bytes.Buffer
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if isDelimiter(c) {
			break
		}
		buf.WriteByte(c)
		s.pos++
	}
	kw := buf.String()
	switch kw {
	case "true", "false":
		return Token{Type: TokenBoolean, Value: kw == "true", Pos: start}, nil
	case "null":
		return Token{Type: TokenNull, Value: nil, Pos: start}, nil
	case "stream":
		return s.scanStream(start)
	default:
		return Token{Type: TokenKeyword, Value: kw, Pos: start}, nil
	}
}

func (s *cosScanner) scanNumberOrRef() (Token, error) {
	start := s.pos
	first := s.scanNumberString()
	if first == "" {
		s.pos++
		return Token{}, errors.New("invalid number")
	}
	afterFirst := s.pos
	if err := s.skipWSAndComments(); err == nil {
		secondStart := s.pos
		second := s.scanNumberString()
		if second != "" {
			if err := s.skipWSAndComments(); err == nil &&
				s.data[s.pos] == 'R' && (s.pos+1 >= int64(len(s.data)) || isDelimiter(s.data[s.pos+1])) {
				s.pos++
				n1, _ := strconv.Atoi(first)
				n2, _ := strconv.Atoi(second)
				return Token{Type: TokenRef, Value: struct{ Num, Gen int }{Num: n1, Gen: n2}, Pos: start}, nil
			}
			s.pos = secondStart // second number belongs to the next token
		} else {
			s.pos = afterFirst
		}
	}
	if i, err := strconv.ParseInt(first, 10, 64); err == nil {
		return s.emit(Token{Type: TokenNumber, Value: i, Pos: start})
	}
	f, err := strconv.ParseFloat(first, 64)
	if err != nil {
		return Token{}, s.recover(errors.New("malformed number"), "number")
	}
	return s.emit(Token{Type: TokenNumber, Value: f, Pos: start})
}

func (s *cosScanner) scanNumberString() string {
	start := s.pos
	var buf bytes.Buffer
	seenDigit := false
	for s.pos < int64(len(s.data)) {
		c := s.data[s.pos]
		if c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') {
			buf.WriteByte(c)
			if c >= '0' && c <= '9' {
				seenDigit = true
			}
			s.pos++
			continue
		}
		break
	}
	if !seenDigit {
		s.pos = start
		return ""
	}
	return buf.String()
}

func (s *cosScanner) emit(tok Token) (Token, error) {
	switch tok.Type {
	case TokenArray:
		s.arrayDepth++
		if s.cfg.MaxArrayDepth > 0 && s.arrayDepth > s.cfg.MaxArrayDepth {
			return Token{}, s.recover(errors.New("array depth exceeded"), "array")
		}
	case TokenDict:
		s.dictDepth++
		if s.cfg.MaxDictDepth > 0 && s.dictDepth > s.cfg.MaxDictDepth {
			return Token{}, s.recover(errors.New("dict depth exceeded"), "dict")
		}
	case TokenKeyword:
		if tok.Value == "]" && s.arrayDepth > 0 {
			s.arrayDepth--
		}
		if tok.Value == ">>" && s.dictDepth > 0 {
			s.dictDepth--
		}
	}
	return tok, nil
}

func (s *cosScanner) recover(err error, component string) error {
	if s.cfg.Recovery == nil {
		return err
	}
	loc := s.loc
	loc.ByteOffset = s.pos
	loc.Component = "scanner:" + component
	switch s.cfg.Recovery.OnError(err, loc) {
	case recovery.ActionSkip, recovery.ActionWarn:
		return nil
	default:
		return err
	}
}

func isWhitespace(c byte) bool {
	return c == 0x00 || c == 0x09 || c == 0x0A || c == 0x0C || c == 0x0D || c == 0x20
}

func isEOL(c byte) bool { return c == '\r' || c == '\n' }

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	default:
		return isWhitespace(c)
	}
}

func isNumberStart(c byte) bool { return c == '+' || c == '-' || c == '.' || (c >= '0' && c <= '9') }

func isRegular(c byte) bool { return !isDelimiter(c) }

func translateEscape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'f':
		return '\f'
	default:
		return c
	}
}

func fromHex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	default:
		return 0, false
	}
}
