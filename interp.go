package provlog

import (
	"fmt"
	"strings"
	"unicode"
)

// The built-in interpreter for code scripts. The language is a
// sequence of expression statements over the six host functions:
//
//	push("/entry/"); push("/entry/proof")
//	check_signature("/pubkey") || check_preimage("/hash")
//	check_eq(branch("vlad")) && check_signature(branch("pubkey"))
//
// "||" and "&&" short-circuit, "&&" binds tighter. branch("rel") is
// only meaningful as a key argument to push or a check. A script whose
// last statement evaluates to false leaves a FAILURE marker on the
// return stack so an earlier check's SUCCESS cannot count as the
// script's verdict.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokSemi
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

type lexer struct {
	src string
	pos int
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && unicode.IsSpace(rune(l.src[l.pos])) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}
	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, pos: start}, nil
	case c == ';':
		l.pos++
		return token{kind: tokSemi, pos: start}, nil
	case c == '&':
		if strings.HasPrefix(l.src[l.pos:], "&&") {
			l.pos += 2
			return token{kind: tokAnd, pos: start}, nil
		}
	case c == '|':
		if strings.HasPrefix(l.src[l.pos:], "||") {
			l.pos += 2
			return token{kind: tokOr, pos: start}, nil
		}
	case c == '"':
		l.pos++
		var b strings.Builder
		for l.pos < len(l.src) {
			ch := l.src[l.pos]
			if ch == '\\' && l.pos+1 < len(l.src) {
				l.pos++
				b.WriteByte(l.src[l.pos])
				l.pos++
				continue
			}
			if ch == '"' {
				l.pos++
				return token{kind: tokString, text: b.String(), pos: start}, nil
			}
			b.WriteByte(ch)
			l.pos++
		}
		return token{}, fmt.Errorf("%w: unterminated string at %d", ErrScript, start)
	case c == '_' || unicode.IsLetter(rune(c)):
		for l.pos < len(l.src) {
			ch := rune(l.src[l.pos])
			if ch != '_' && !unicode.IsLetter(ch) && !unicode.IsDigit(ch) {
				break
			}
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}
	return token{}, fmt.Errorf("%w: unexpected character %q at %d", ErrScript, c, start)
}

// AST

type node interface{ node() }

type callNode struct {
	fn  string
	arg node // nil, *litNode or *callNode
}

type litNode struct {
	text string
}

type binNode struct {
	op    tokenKind // tokAnd or tokOr
	left  node
	right node
}

func (*callNode) node() {}
func (*litNode) node()  {}
func (*binNode) node()  {}

type parser struct {
	lex  lexer
	tok  token
	peek *token
}

func newParser(src string) (*parser, error) {
	p := &parser{lex: lexer{src: src}}
	return p, p.advance()
}

func (p *parser) advance() error {
	if p.peek != nil {
		p.tok = *p.peek
		p.peek = nil
		return nil
	}
	t, err := p.lex.next()
	if err != nil {
		return err
	}
	p.tok = t
	return nil
}

// parseScript parses a whole program: statements separated by
// semicolons, implicitly combined with "&&".
func parseScript(src string) (node, error) {
	p, err := newParser(src)
	if err != nil {
		return nil, err
	}
	var prog node
	for p.tok.kind != tokEOF {
		if p.tok.kind == tokSemi {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if prog == nil {
			prog = expr
		} else {
			prog = &binNode{op: tokAnd, left: prog, right: expr}
		}
	}
	if prog == nil {
		return nil, fmt.Errorf("%w: empty script", ErrScript)
	}
	return prog, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokOr {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for p.tok.kind == tokAnd {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	switch p.tok.kind {
	case tokLParen:
		if err := p.advance(); err != nil {
			return nil, err
		}
		expr, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.tok.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ) at %d", ErrScript, p.tok.pos)
		}
		return expr, p.advance()
	case tokIdent:
		return p.parseCall()
	}
	return nil, fmt.Errorf("%w: unexpected token at %d", ErrScript, p.tok.pos)
}

func (p *parser) parseCall() (node, error) {
	name := p.tok.text
	switch name {
	case "push", "pop", "branch", "check_eq", "check_preimage", "check_signature":
	default:
		return nil, fmt.Errorf("%w: unknown function %q at %d", ErrScript, name, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	if p.tok.kind != tokLParen {
		return nil, fmt.Errorf("%w: %s needs an argument list at %d", ErrScript, name, p.tok.pos)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	call := &callNode{fn: name}
	switch p.tok.kind {
	case tokRParen:
	case tokString:
		call.arg = &litNode{text: p.tok.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
	case tokIdent:
		inner, err := p.parseCall()
		if err != nil {
			return nil, err
		}
		call.arg = inner
	default:
		return nil, fmt.Errorf("%w: bad argument to %s at %d", ErrScript, name, p.tok.pos)
	}
	if p.tok.kind != tokRParen {
		return nil, fmt.Errorf("%w: missing ) after %s argument at %d", ErrScript, name, p.tok.pos)
	}
	return call, p.advance()
}

// evaluation

func evalScript(h *hostContext, src string) (bool, error) {
	if h.cfg.MaxScriptBytes > 0 && len(src) > h.cfg.MaxScriptBytes {
		return false, fmt.Errorf("%w: script of %d bytes exceeds limit %d", ErrScript, len(src), h.cfg.MaxScriptBytes)
	}
	prog, err := parseScript(src)
	if err != nil {
		return false, err
	}
	ok, err := evalBool(h, prog)
	if err != nil {
		return false, err
	}
	if !ok {
		h.rstack.Push(Failure{})
	}
	return ok, nil
}

func evalBool(h *hostContext, n node) (bool, error) {
	if err := h.useFuel(1); err != nil {
		return false, err
	}
	switch n := n.(type) {
	case *binNode:
		left, err := evalBool(h, n.left)
		if err != nil {
			return false, err
		}
		if n.op == tokAnd && !left {
			return false, nil
		}
		if n.op == tokOr && left {
			return true, nil
		}
		return evalBool(h, n.right)
	case *callNode:
		switch n.fn {
		case "push":
			k, err := evalKey(h, n.arg)
			if err != nil {
				return false, err
			}
			return true, h.Push(k)
		case "pop":
			return true, h.Pop()
		case "check_eq":
			k, err := evalKey(h, n.arg)
			if err != nil {
				return false, err
			}
			return h.CheckEq(k)
		case "check_preimage":
			k, err := evalKey(h, n.arg)
			if err != nil {
				return false, err
			}
			return h.CheckPreimage(k)
		case "check_signature":
			k, err := evalKey(h, n.arg)
			if err != nil {
				return false, err
			}
			return h.CheckSignature(k)
		case "branch":
			return false, fmt.Errorf("%w: branch() outside a key argument", ErrScript)
		}
	}
	return false, fmt.Errorf("%w: unexpected expression", ErrScript)
}

// evalKey resolves a key argument: a literal path or a branch() call.
func evalKey(h *hostContext, n node) (Key, error) {
	if err := h.useFuel(1); err != nil {
		return Key{}, err
	}
	switch n := n.(type) {
	case *litNode:
		k, err := ParseKey(n.text)
		if err != nil {
			return Key{}, fmt.Errorf("%w: %v", ErrScript, err)
		}
		return k, nil
	case *callNode:
		if n.fn != "branch" {
			return Key{}, fmt.Errorf("%w: %s is not a key expression", ErrScript, n.fn)
		}
		lit, ok := n.arg.(*litNode)
		if !ok {
			return Key{}, fmt.Errorf("%w: branch() needs a literal argument", ErrScript)
		}
		return h.Branch(lit.text)
	case nil:
		return Key{}, fmt.Errorf("%w: missing key argument", ErrScript)
	}
	return Key{}, fmt.Errorf("%w: bad key argument", ErrScript)
}
