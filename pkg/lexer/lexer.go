// Package lexer implements the sandscript tokenizer.
package lexer

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/thomasrohde/sandscript/pkg/ast"
	"github.com/thomasrohde/sandscript/pkg/diagnostics"
)

// TokenType identifies the type of a lexer token.
type TokenType int

const (
	// Keywords
	TokLet TokenType = iota
	TokFn
	TokReturn
	TokIf
	TokElse
	TokWhile
	TokFor
	TokIn
	TokBreak
	TokContinue
	TokImport
	TokAs
	TokLimits
	TokTrue
	TokFalse
	TokNull

	// Literals
	TokNumberLit
	TokStringLit

	TokIdent

	// Punctuation
	TokLBrace   // {
	TokRBrace   // }
	TokLBracket // [
	TokRBracket // ]
	TokLParen   // (
	TokRParen   // )
	TokColon    // :
	TokComma    // ,
	TokDot      // .
	TokSemi     // ;
	TokEquals   // =

	// Operators
	TokGtEq    // >=
	TokLtEq    // <=
	TokEqEq    // ==
	TokBangEq  // !=
	TokGt      // >
	TokLt      // <
	TokAndAnd  // &&
	TokOrOr    // ||
	TokBang    // !
	TokPlus    // +
	TokMinus   // -
	TokStar    // *
	TokSlash   // /
	TokPercent // %

	TokEOF
)

// Token represents a single lexer token.
type Token struct {
	Type  TokenType
	Value string
	Span  ast.Span
}

var keywords = map[string]TokenType{
	"let":      TokLet,
	"fn":       TokFn,
	"return":   TokReturn,
	"if":       TokIf,
	"else":     TokElse,
	"while":    TokWhile,
	"for":      TokFor,
	"in":       TokIn,
	"break":    TokBreak,
	"continue": TokContinue,
	"import":   TokImport,
	"as":       TokAs,
	"limits":   TokLimits,
	"true":     TokTrue,
	"false":    TokFalse,
	"null":     TokNull,
}

// IsKeyword reports whether word is reserved.
func IsKeyword(word string) bool {
	_, ok := keywords[word]
	return ok
}

// Two-character operators are tried before single characters.
var twoCharOps = map[string]TokenType{
	">=": TokGtEq,
	"<=": TokLtEq,
	"==": TokEqEq,
	"!=": TokBangEq,
	"&&": TokAndAnd,
	"||": TokOrOr,
}

var oneCharOps = map[byte]TokenType{
	'{': TokLBrace,
	'}': TokRBrace,
	'[': TokLBracket,
	']': TokRBracket,
	'(': TokLParen,
	')': TokRParen,
	':': TokColon,
	',': TokComma,
	'.': TokDot,
	';': TokSemi,
	'=': TokEquals,
	'>': TokGt,
	'<': TokLt,
	'!': TokBang,
	'+': TokPlus,
	'-': TokMinus,
	'*': TokStar,
	'/': TokSlash,
	'%': TokPercent,
}

type scanner struct {
	source   string
	filename string
	pos      int
	line     int
	col      int
}

func (s *scanner) atEnd() bool { return s.pos >= len(s.source) }

func (s *scanner) peek() byte { return s.peekAt(0) }

func (s *scanner) peekAt(offset int) byte {
	if p := s.pos + offset; p < len(s.source) {
		return s.source[p]
	}
	return 0
}

func (s *scanner) advance() byte {
	ch := s.source[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return ch
}

func (s *scanner) span(startLine, startCol int) ast.Span {
	return ast.Span{File: s.filename, StartLine: startLine, StartCol: startCol, EndLine: s.line, EndCol: s.col}
}

func (s *scanner) skipTrivia() {
	for !s.atEnd() {
		switch ch := s.peek(); {
		case ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n':
			s.advance()
		case ch == '#':
			for !s.atEnd() && s.peek() != '\n' {
				s.advance()
			}
		default:
			return
		}
	}
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool { return ch >= '0' && ch <= '9' }

func (s *scanner) scanString() (Token, error) {
	startLine, startCol := s.line, s.col
	quote := s.advance()

	var buf strings.Builder
	for !s.atEnd() {
		ch := s.peek()
		switch {
		case ch == quote:
			s.advance()
			return Token{Type: TokStringLit, Value: buf.String(), Span: s.span(startLine, startCol)}, nil
		case ch == '\n':
			return Token{}, s.lexError(startLine, startCol, "unterminated string literal")
		case ch == '\\':
			s.advance()
			if s.atEnd() {
				return Token{}, s.lexError(startLine, startCol, "unterminated string escape")
			}
			if err := s.scanEscape(&buf, startLine, startCol); err != nil {
				return Token{}, err
			}
		default:
			r, size := utf8.DecodeRuneInString(s.source[s.pos:])
			if r == utf8.RuneError && size == 1 {
				return Token{}, s.lexError(startLine, startCol, "invalid UTF-8 character in string")
			}
			buf.WriteString(s.source[s.pos : s.pos+size])
			for i := 0; i < size; i++ {
				s.advance()
			}
		}
	}
	return Token{}, s.lexError(startLine, startCol, "unterminated string literal")
}

var simpleEscapes = map[byte]byte{
	'"': '"', '\'': '\'', '\\': '\\', 'n': '\n', 'r': '\r', 't': '\t', '0': 0,
}

func (s *scanner) scanEscape(buf *strings.Builder, line, col int) error {
	esc := s.advance()
	if b, ok := simpleEscapes[esc]; ok {
		buf.WriteByte(b)
		return nil
	}
	if esc != 'u' {
		return s.lexError(line, col, fmt.Sprintf("invalid escape character: \\%c", esc))
	}
	if s.pos+4 > len(s.source) {
		return s.lexError(line, col, "incomplete unicode escape")
	}
	hex := s.source[s.pos : s.pos+4]
	cp, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return s.lexError(line, col, fmt.Sprintf("invalid unicode escape: \\u%s", hex))
	}
	buf.WriteRune(rune(cp))
	for i := 0; i < 4; i++ {
		s.advance()
	}
	return nil
}

func (s *scanner) scanNumber() Token {
	startLine, startCol := s.line, s.col
	start := s.pos
	for isDigit(s.peek()) {
		s.advance()
	}
	if s.peek() == '.' && isDigit(s.peekAt(1)) {
		s.advance()
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	if e := s.peek(); e == 'e' || e == 'E' {
		next := s.peekAt(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(s.peekAt(2))) {
			s.advance()
			if next == '+' || next == '-' {
				s.advance()
			}
			for isDigit(s.peek()) {
				s.advance()
			}
		}
	}
	return Token{Type: TokNumberLit, Value: s.source[start:s.pos], Span: s.span(startLine, startCol)}
}

func (s *scanner) scanWord() Token {
	startLine, startCol := s.line, s.col
	start := s.pos
	for isAlpha(s.peek()) || isDigit(s.peek()) {
		s.advance()
	}
	text := s.source[start:s.pos]
	typ := TokIdent
	if kw, ok := keywords[text]; ok {
		typ = kw
	}
	return Token{Type: typ, Value: text, Span: s.span(startLine, startCol)}
}

func (s *scanner) lexError(line, col int, msg string) error {
	diag := diagnostics.MakeDiag(
		diagnostics.ELex,
		msg,
		&ast.Span{File: s.filename, StartLine: line, StartCol: col, EndLine: line, EndCol: col + 1},
		"",
	)
	return &LexError{Diag: diag}
}

// LexError wraps a diagnostic for lex errors.
type LexError struct {
	Diag diagnostics.Diagnostic
}

func (e *LexError) Error() string {
	return e.Diag.Message
}

func (s *scanner) next() (Token, error) {
	s.skipTrivia()
	startLine, startCol := s.line, s.col
	if s.atEnd() {
		return Token{Type: TokEOF, Span: s.span(startLine, startCol)}, nil
	}

	ch := s.peek()
	switch {
	case isDigit(ch):
		return s.scanNumber(), nil
	case ch == '"' || ch == '\'':
		return s.scanString()
	case isAlpha(ch):
		return s.scanWord(), nil
	}

	if s.pos+2 <= len(s.source) {
		op := s.source[s.pos : s.pos+2]
		if typ, ok := twoCharOps[op]; ok {
			s.advance()
			s.advance()
			return Token{Type: typ, Value: op, Span: s.span(startLine, startCol)}, nil
		}
	}
	if typ, ok := oneCharOps[ch]; ok {
		s.advance()
		return Token{Type: typ, Value: string(ch), Span: s.span(startLine, startCol)}, nil
	}

	s.advance()
	return Token{}, s.lexError(startLine, startCol, fmt.Sprintf("unexpected character '%c'", ch))
}

// Tokenize breaks source code into a slice of tokens ending with TokEOF.
func Tokenize(source, filename string) ([]Token, error) {
	s := &scanner{source: source, filename: filename, line: 1, col: 1}
	var tokens []Token
	for {
		tok, err := s.next()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == TokEOF {
			return tokens, nil
		}
	}
}
