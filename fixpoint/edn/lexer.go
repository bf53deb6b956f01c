// Package edn reads the EDN subset used by plan files: lists, vectors, maps,
// strings, numbers, keywords, symbols, tagged values and #N column
// references.
package edn

import (
	"fmt"
	"strings"
	"unicode"
)

// TokenType is the kind of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenString
	TokenAtom
	TokenOpen
	TokenClose
)

// Token is a lexical token with its position.
type Token struct {
	Type  TokenType
	Value string
	Line  int
	Col   int
}

func (t Token) String() string {
	switch t.Type {
	case TokenEOF:
		return fmt.Sprintf("EOF[%d:%d]", t.Line, t.Col)
	case TokenString:
		return fmt.Sprintf("String[%d:%d]:%q", t.Line, t.Col, t.Value)
	default:
		return fmt.Sprintf("%s[%d:%d]", t.Value, t.Line, t.Col)
	}
}

type lexer struct {
	input string
	pos   int
	line  int
	col   int
}

// lex splits input into tokens, ending with TokenEOF.
func lex(input string) ([]Token, error) {
	l := &lexer{input: input, line: 1, col: 1}
	var tokens []Token
	for {
		l.skipWhitespaceAndComments()
		if l.pos >= len(l.input) {
			break
		}
		line, col := l.line, l.col

		switch ch := l.input[l.pos]; ch {
		case '"':
			s, err := l.readString()
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, Token{Type: TokenString, Value: s, Line: line, Col: col})
		case '(', '[', '{':
			l.advance()
			tokens = append(tokens, Token{Type: TokenOpen, Value: string(ch), Line: line, Col: col})
		case ')', ']', '}':
			l.advance()
			tokens = append(tokens, Token{Type: TokenClose, Value: string(ch), Line: line, Col: col})
		default:
			atom := l.readAtom()
			if atom == "" {
				return nil, fmt.Errorf("unexpected character '%c' at %d:%d", ch, line, col)
			}
			tokens = append(tokens, Token{Type: TokenAtom, Value: atom, Line: line, Col: col})
		}
	}
	return append(tokens, Token{Type: TokenEOF, Line: l.line, Col: l.col}), nil
}

func (l *lexer) advance() {
	if l.pos >= len(l.input) {
		return
	}
	if l.input[l.pos] == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	l.pos++
}

func (l *lexer) skipWhitespaceAndComments() {
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch {
		case unicode.IsSpace(rune(ch)) || ch == ',':
			l.advance()
		case ch == ';':
			for l.pos < len(l.input) && l.input[l.pos] != '\n' {
				l.advance()
			}
		default:
			return
		}
	}
}

func (l *lexer) readString() (string, error) {
	var sb strings.Builder
	line, col := l.line, l.col
	l.advance()
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		switch ch {
		case '"':
			l.advance()
			return sb.String(), nil
		case '\\':
			l.advance()
			if l.pos >= len(l.input) {
				break
			}
			switch esc := l.input[l.pos]; esc {
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case 'n':
				sb.WriteByte('\n')
			case '\\', '"':
				sb.WriteByte(esc)
			default:
				return "", fmt.Errorf("invalid escape sequence '\\%c' at %d:%d", esc, l.line, l.col)
			}
			l.advance()
		default:
			sb.WriteByte(ch)
			l.advance()
		}
	}
	return "", fmt.Errorf("unterminated string starting at %d:%d", line, col)
}

func (l *lexer) readAtom() string {
	start := l.pos
	// #{ opens a set.
	if strings.HasPrefix(l.input[l.pos:], "#{") {
		l.advance()
		l.advance()
		return "#{"
	}
	for l.pos < len(l.input) {
		ch := l.input[l.pos]
		if isDelimiter(ch) || unicode.IsSpace(rune(ch)) || ch == ',' {
			break
		}
		l.advance()
	}
	return l.input[start:l.pos]
}

func isDelimiter(ch byte) bool {
	return strings.IndexByte("()[]{}\";", ch) >= 0
}
