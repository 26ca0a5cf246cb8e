package filter

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokOp
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokIs
	tokNot
	tokNull
	tokTrue
	tokFalse
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// Parse parses a predicate string into an expression tree. The grammar is
// intentionally small:
//
//	expr    := conj (OR conj)*
//	conj    := unit (AND unit)*
//	unit    := '(' expr ')' | pred
//	pred    := field cmp value | field IS [NOT] NULL
//	cmp     := = | != | > | >= | < | <=
//	value   := 'string' | "string" | number | true | false
//	field   := ident ('.' ident)*
//
// Field names are matched case-sensitively; keywords are not.
func Parse(s string) (*Expr, error) {
	toks, err := lex(s)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty predicate", ErrSyntax)
	}
	p := &parser{toks: toks}
	expr, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, p.toks[p.pos].text, p.toks[p.pos].pos)
	}
	return expr, nil
}

func lex(s string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '=':
			toks = append(toks, token{tokOp, "=", i})
			i++
		case c == '!':
			if i+1 >= len(s) || s[i+1] != '=' {
				return nil, fmt.Errorf("%w: unexpected '!' at offset %d", ErrSyntax, i)
			}
			toks = append(toks, token{tokOp, "!=", i})
			i += 2
		case c == '>' || c == '<':
			op := string(c)
			if i+1 < len(s) && s[i+1] == '=' {
				op += "="
				i++
			}
			toks = append(toks, token{tokOp, op, i})
			i++
		case c == '\'' || c == '"':
			lit, next, err := lexString(s, i)
			if err != nil {
				return nil, err
			}
			toks = append(toks, token{tokString, lit, i})
			i = next
		case c == '-' || c == '+' || (c >= '0' && c <= '9'):
			start := i
			i++
			for i < len(s) && (s[i] >= '0' && s[i] <= '9' || s[i] == '.' || s[i] == 'e' || s[i] == 'E' || s[i] == '-' || s[i] == '+') {
				// Sign characters are only valid right after an exponent.
				if (s[i] == '-' || s[i] == '+') && !(s[i-1] == 'e' || s[i-1] == 'E') {
					break
				}
				i++
			}
			toks = append(toks, token{tokNumber, s[start:i], start})
		case isIdentStart(rune(c)):
			start := i
			for i < len(s) && isIdentPart(rune(s[i])) {
				i++
			}
			word := s[start:i]
			switch strings.ToUpper(word) {
			case "AND":
				toks = append(toks, token{tokAnd, word, start})
			case "OR":
				toks = append(toks, token{tokOr, word, start})
			case "IS":
				toks = append(toks, token{tokIs, word, start})
			case "NOT":
				toks = append(toks, token{tokNot, word, start})
			case "NULL":
				toks = append(toks, token{tokNull, word, start})
			case "TRUE":
				toks = append(toks, token{tokTrue, word, start})
			case "FALSE":
				toks = append(toks, token{tokFalse, word, start})
			default:
				toks = append(toks, token{tokIdent, word, start})
			}
		default:
			return nil, fmt.Errorf("%w: unexpected character %q at offset %d", ErrSyntax, string(c), i)
		}
	}
	return toks, nil
}

func lexString(s string, start int) (string, int, error) {
	quote := s[start]
	var sb strings.Builder
	i := start + 1
	for i < len(s) {
		if s[i] == quote {
			// Doubled quote is an escape, SQL style.
			if i+1 < len(s) && s[i+1] == quote {
				sb.WriteByte(quote)
				i += 2
				continue
			}
			return sb.String(), i + 1, nil
		}
		sb.WriteByte(s[i])
		i++
	}
	return "", 0, fmt.Errorf("%w: unterminated string at offset %d", ErrSyntax, start)
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.'
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *parser) parseOr() (*Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	children := []*Expr{left}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokOr {
			break
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Expr{Op: OpOr, Children: children}, nil
}

func (p *parser) parseAnd() (*Expr, error) {
	left, err := p.parseUnit()
	if err != nil {
		return nil, err
	}
	children := []*Expr{left}
	for {
		tok, ok := p.peek()
		if !ok || tok.kind != tokAnd {
			break
		}
		p.pos++
		right, err := p.parseUnit()
		if err != nil {
			return nil, err
		}
		children = append(children, right)
	}
	if len(children) == 1 {
		return left, nil
	}
	return &Expr{Op: OpAnd, Children: children}, nil
}

func (p *parser) parseUnit() (*Expr, error) {
	tok, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of predicate", ErrSyntax)
	}
	if tok.kind == tokLParen {
		p.pos++
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing closing parenthesis", ErrSyntax)
		}
		p.pos++
		return expr, nil
	}
	return p.parsePred()
}

func (p *parser) parsePred() (*Expr, error) {
	tok, ok := p.peek()
	if !ok || tok.kind != tokIdent {
		return nil, fmt.Errorf("%w: expected field name at offset %d", ErrSyntax, tok.pos)
	}
	field := tok.text
	p.pos++

	tok, ok = p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: expected operator after %q", ErrSyntax, field)
	}

	if tok.kind == tokIs {
		p.pos++
		negated := false
		tok, ok = p.peek()
		if ok && tok.kind == tokNot {
			negated = true
			p.pos++
			tok, ok = p.peek()
		}
		if !ok || tok.kind != tokNull {
			return nil, fmt.Errorf("%w: expected NULL after IS", ErrSyntax)
		}
		p.pos++
		if negated {
			return NotNull(field), nil
		}
		return IsNull(field), nil
	}

	if tok.kind != tokOp {
		return nil, fmt.Errorf("%w: expected comparison operator after %q, got %q", ErrSyntax, field, tok.text)
	}
	op := Op(tok.text)
	p.pos++

	tok, ok = p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: expected value after %q %s", ErrSyntax, field, op)
	}
	var value any
	switch tok.kind {
	case tokString:
		value = tok.text
	case tokNumber:
		num, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q", ErrSyntax, tok.text)
		}
		value = num
	case tokTrue:
		value = true
	case tokFalse:
		value = false
	default:
		return nil, fmt.Errorf("%w: expected literal value, got %q", ErrSyntax, tok.text)
	}
	p.pos++

	return Cmp(field, op, value), nil
}
