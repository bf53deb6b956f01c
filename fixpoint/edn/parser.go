package edn

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NodeType is the kind of an EDN value.
type NodeType int

const (
	NodeNil NodeType = iota
	NodeBool
	NodeInt
	NodeFloat
	NodeString
	NodeSymbol
	NodeKeyword
	NodeColumn
	NodeList
	NodeVector
	NodeMap
	NodeSet
	NodeTagged
)

var nodeTypeNames = [...]string{
	"nil", "bool", "int", "float", "string", "symbol", "keyword", "column",
	"list", "vector", "map", "set", "tagged value",
}

func (t NodeType) String() string {
	if int(t) < len(nodeTypeNames) {
		return nodeTypeNames[t]
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Node is a parsed EDN value.
type Node struct {
	Type  NodeType
	Line  int
	Col   int
	Value string // atoms; the tag of a tagged value
	Nodes []Node // collection items; the tagged value itself
}

var (
	intPattern   = regexp.MustCompile(`^[+-]?\d+$`)
	floatPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?([eE][+-]?\d+)?$`)
	columnRef    = regexp.MustCompile(`^#\d+$`)
)

// Parse reads exactly one value from input.
func Parse(input string) (*Node, error) {
	nodes, err := ParseAll(input)
	if err != nil {
		return nil, err
	}
	if len(nodes) != 1 {
		return nil, fmt.Errorf("expected one value, found %d", len(nodes))
	}
	return &nodes[0], nil
}

// ParseAll reads every top-level value in input.
func ParseAll(input string) ([]Node, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	var nodes []Node
	for p.peek().Type != TokenEOF {
		n, err := p.read()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

type parser struct {
	tokens []Token
	pos    int
}

func (p *parser) peek() Token {
	return p.tokens[p.pos]
}

func (p *parser) next() Token {
	t := p.tokens[p.pos]
	if t.Type != TokenEOF {
		p.pos++
	}
	return t
}

func (p *parser) read() (Node, error) {
	tok := p.next()
	switch tok.Type {
	case TokenEOF:
		return Node{}, fmt.Errorf("unexpected EOF at %d:%d", tok.Line, tok.Col)
	case TokenString:
		return Node{Type: NodeString, Value: tok.Value, Line: tok.Line, Col: tok.Col}, nil
	case TokenClose:
		return Node{}, fmt.Errorf("unexpected '%s' at %d:%d", tok.Value, tok.Line, tok.Col)
	case TokenOpen:
		switch tok.Value {
		case "(":
			return p.readSeq(tok, NodeList, ")")
		case "[":
			return p.readSeq(tok, NodeVector, "]")
		default:
			n, err := p.readSeq(tok, NodeMap, "}")
			if err == nil && len(n.Nodes)%2 != 0 {
				err = fmt.Errorf("map literal at %d:%d must have an even number of forms", tok.Line, tok.Col)
			}
			return n, err
		}
	}
	return p.readAtom(tok)
}

func (p *parser) readSeq(open Token, typ NodeType, close string) (Node, error) {
	n := Node{Type: typ, Line: open.Line, Col: open.Col}
	for {
		tok := p.peek()
		switch {
		case tok.Type == TokenEOF:
			return Node{}, fmt.Errorf("unterminated %s starting at %d:%d", typ, open.Line, open.Col)
		case tok.Type == TokenClose:
			p.next()
			if tok.Value != close {
				return Node{}, fmt.Errorf("mismatched '%s' at %d:%d", tok.Value, tok.Line, tok.Col)
			}
			return n, nil
		}
		item, err := p.read()
		if err != nil {
			return Node{}, err
		}
		n.Nodes = append(n.Nodes, item)
	}
}

func (p *parser) readAtom(tok Token) (Node, error) {
	v := tok.Value
	n := Node{Value: v, Line: tok.Line, Col: tok.Col}
	switch {
	case v == "nil":
		n.Type = NodeNil
	case v == "true" || v == "false":
		n.Type = NodeBool
	case v == "#{":
		set, err := p.readSeq(tok, NodeSet, "}")
		return set, err
	case columnRef.MatchString(v):
		n.Type = NodeColumn
		n.Value = v[1:]
	case strings.HasPrefix(v, "#") && len(v) > 1:
		inner, err := p.read()
		if err != nil {
			return Node{}, err
		}
		n.Type = NodeTagged
		n.Value = v[1:]
		n.Nodes = []Node{inner}
	case strings.HasPrefix(v, ":"):
		if len(v) == 1 {
			return Node{}, fmt.Errorf("empty keyword at %d:%d", tok.Line, tok.Col)
		}
		n.Type = NodeKeyword
	case intPattern.MatchString(v):
		n.Type = NodeInt
	case floatPattern.MatchString(v):
		n.Type = NodeFloat
	default:
		n.Type = NodeSymbol
	}
	return n, nil
}

// String renders the node back to EDN.
func (n Node) String() string {
	join := func(open, close string) string {
		parts := make([]string, len(n.Nodes))
		for i, c := range n.Nodes {
			parts[i] = c.String()
		}
		return open + strings.Join(parts, " ") + close
	}
	switch n.Type {
	case NodeNil:
		return "nil"
	case NodeString:
		return strconv.Quote(n.Value)
	case NodeColumn:
		return "#" + n.Value
	case NodeList:
		return join("(", ")")
	case NodeVector:
		return join("[", "]")
	case NodeMap:
		return join("{", "}")
	case NodeSet:
		return join("#{", "}")
	case NodeTagged:
		return "#" + n.Value + " " + n.Nodes[0].String()
	default:
		return n.Value
	}
}

// Pos formats the node position for error messages.
func (n Node) Pos() string {
	return fmt.Sprintf("%d:%d", n.Line, n.Col)
}

// AsInt returns the value of an int node.
func (n Node) AsInt() (int64, error) {
	if n.Type != NodeInt {
		return 0, fmt.Errorf("expected int at %s, got %s %s", n.Pos(), n.Type, n)
	}
	return strconv.ParseInt(n.Value, 10, 64)
}

// AsColumn returns the index of a #N column reference.
func (n Node) AsColumn() (int, error) {
	if n.Type != NodeColumn {
		return 0, fmt.Errorf("expected column reference at %s, got %s %s", n.Pos(), n.Type, n)
	}
	return strconv.Atoi(n.Value)
}

// AsKeyword returns a keyword without its leading colon.
func (n Node) AsKeyword() (string, error) {
	if n.Type != NodeKeyword {
		return "", fmt.Errorf("expected keyword at %s, got %s %s", n.Pos(), n.Type, n)
	}
	return n.Value[1:], nil
}

// AsName returns the text of a symbol, keyword or string.
func (n Node) AsName() (string, error) {
	switch n.Type {
	case NodeSymbol, NodeString:
		return n.Value, nil
	case NodeKeyword:
		return n.Value[1:], nil
	}
	return "", fmt.Errorf("expected name at %s, got %s %s", n.Pos(), n.Type, n)
}

// Lookup returns the value stored under a keyword in a map node.
func (n Node) Lookup(key string) (Node, bool) {
	if n.Type != NodeMap {
		return Node{}, false
	}
	for i := 0; i+1 < len(n.Nodes); i += 2 {
		k := n.Nodes[i]
		if k.Type == NodeKeyword && k.Value[1:] == key {
			return n.Nodes[i+1], true
		}
	}
	return Node{}, false
}

// IsCollection reports whether the node holds items.
func (n Node) IsCollection() bool {
	return n.Type == NodeList || n.Type == NodeVector || n.Type == NodeMap || n.Type == NodeSet
}
