package miniscript

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

const (
	// maxDepth bounds the nesting of fragments so that hostile input
	// can't exhaust the stack.
	maxDepth = 128

	wrapperLetters = "asctdvjnlu"
)

// Resolver tells the parser which keys and images exist.
type Resolver interface {
	HasKey(pubKey [32]byte) bool
	HasImage(image [32]byte) bool
}

// Parse parses a complete tapscript Miniscript expression. The expression
// must be of type B.
func Parse(s string, r Resolver) (Node, error) {
	node, pos, err := ParseFragment(s, 0, r)
	if err != nil {
		return nil, err
	}

	p := &parser{input: s, pos: pos}
	p.skipSpace()
	if p.pos != len(s) {
		return nil, p.errorf(p.pos, "unexpected trailing input")
	}

	if err := CheckTopLevel(node); err != nil {
		return nil, &SyntaxError{Msg: err.Error()}
	}

	return node, nil
}

// ParseFragment parses one expression of input starting at pos and returns
// it together with the position right after it. Error positions are
// absolute offsets into input.
func ParseFragment(input string, pos int, r Resolver) (Node, int, error) {
	p := &parser{input: input, pos: pos, resolver: r}
	node, err := p.parseExpr(0)
	if err != nil {
		return nil, 0, err
	}

	return node, p.pos, nil
}

// CheckTopLevel verifies that node can be used as a whole tapscript.
func CheckTopLevel(node Node) error {
	if node.Type().Base != TypeB {
		return fmt.Errorf("top level expression %s must be of type B, "+
			"got %s", node, node.Type())
	}

	return nil
}

type parser struct {
	input    string
	pos      int
	resolver Resolver
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && isSpace(p.input[p.pos]) {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}

	return p.input[p.pos]
}

// word reads an identifier made of letters, digits and underscores.
func (p *parser) word() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && isWordChar(p.input[p.pos]) {
		p.pos++
	}

	return p.input[start:p.pos]
}

// arg reads a raw argument up to the next delimiter.
func (p *parser) arg() (string, int) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) && !isDelimiter(p.input[p.pos]) {
		p.pos++
	}

	return p.input[start:p.pos], start
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf(p.pos, "expected '%c'", c)
	}
	p.pos++

	return nil
}

func (p *parser) errorf(pos int, format string, args ...interface{}) error {
	return &SyntaxError{
		Pos:   pos,
		Token: tokenAt(p.input, pos),
		Msg:   fmt.Sprintf(format, args...),
	}
}

func (p *parser) parseExpr(depth int) (Node, error) {
	if depth > maxDepth {
		return nil, p.errorf(p.pos, "expression nested deeper than %d",
			maxDepth)
	}

	p.skipSpace()
	start := p.pos
	name := p.word()
	if name == "" {
		return nil, p.errorf(start, "expected a fragment")
	}

	wrappers := ""
	fragStart := start
	if p.pos < len(p.input) && p.input[p.pos] == ':' {
		wrappers = name
		for i := 0; i < len(wrappers); i++ {
			if !strings.ContainsRune(wrapperLetters,
				rune(wrappers[i])) {

				return nil, p.errorf(start+i, "unknown wrapper "+
					"'%c'", wrappers[i])
			}
		}
		p.pos++
		fragStart = p.pos
		name = p.word()
		if name == "" {
			return nil, p.errorf(fragStart, "expected a fragment "+
				"after wrappers %q", wrappers)
		}
	}

	node, err := p.parseFragment(name, fragStart, depth)
	if err != nil {
		return nil, err
	}

	// The wrapper closest to the fragment is applied first.
	for i := len(wrappers) - 1; i >= 0; i-- {
		node, err = applyWrapper(wrappers[i], node)
		if err != nil {
			return nil, &SyntaxError{
				Pos:   start + i,
				Token: wrappers[:i+1] + ":" + name,
				Msg:   err.Error(),
			}
		}
	}

	return node, nil
}

func (p *parser) parseFragment(name string, start, depth int) (Node, error) {
	typeErr := func(err error) error {
		return &SyntaxError{Pos: start, Token: name, Msg: err.Error()}
	}

	switch name {
	case "0", "1":
		return NewConst(name == "1"), nil

	case "pk_k", "pk_h", "pk", "pkh":
		keys, err := p.parseKeys(0)
		if err != nil {
			return nil, err
		}
		key := NewKey(keys[0], name == "pk_h" || name == "pkh")
		if name == "pk" || name == "pkh" {
			return NewWrap(WrapC, key)
		}

		return key, nil

	case "sha256", "sha256_preimage":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		image, err := p.parseImage()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}

		return NewImage(image), nil

	case "older", "after":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		n, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}

		var node Node
		if name == "older" {
			node, err = NewOlder(n)
		} else {
			node, err = NewAfter(n)
		}
		if err != nil {
			return nil, typeErr(err)
		}

		return node, nil

	case "multi_a":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		k, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		keys, err := p.parseKeys(1)
		if err != nil {
			return nil, err
		}
		node, err := NewMulti(int(k), keys)
		if err != nil {
			return nil, typeErr(err)
		}

		return node, nil

	case "thresh":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		k, err := p.parseNumber()
		if err != nil {
			return nil, err
		}
		var subs []Node
		for p.peek() == ',' {
			p.pos++
			sub, err := p.parseExpr(depth + 1)
			if err != nil {
				return nil, err
			}
			subs = append(subs, sub)
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		node, err := NewThresh(int(k), subs)
		if err != nil {
			return nil, typeErr(err)
		}

		return node, nil

	case "and_v", "and_b", "and_n", "or_b", "or_c", "or_d", "or_i",
		"andor":

		numArgs := 2
		if name == "andor" {
			numArgs = 3
		}
		args, err := p.parseSubs(numArgs, depth)
		if err != nil {
			return nil, err
		}
		node, err := combine(name, args)
		if err != nil {
			return nil, typeErr(err)
		}

		return node, nil

	case "multi":
		return nil, p.errorf(start, "multi is not available in "+
			"tapscript, use multi_a")

	case "hash256", "ripemd160", "hash160":
		return nil, p.errorf(start, "only sha256 hash locks are "+
			"supported")

	default:
		return nil, p.errorf(start, "unknown fragment %q", name)
	}
}

func combine(name string, args []Node) (Node, error) {
	switch name {
	case "and_v":
		return NewAnd(AndV, args[0], args[1])
	case "and_b":
		return NewAnd(AndB, args[0], args[1])
	case "and_n":
		return NewAndOr(args[0], args[1], NewConst(false))
	case "andor":
		return NewAndOr(args[0], args[1], args[2])
	case "or_b":
		return NewOr(OrB, args[0], args[1])
	case "or_c":
		return NewOr(OrC, args[0], args[1])
	case "or_d":
		return NewOr(OrD, args[0], args[1])
	case "or_i":
		return NewOr(OrI, args[0], args[1])
	default:
		return nil, fmt.Errorf("unknown combinator %q", name)
	}
}

func applyWrapper(letter byte, node Node) (Node, error) {
	switch letter {
	case 't':
		return NewAnd(AndV, node, NewConst(true))
	case 'l':
		return NewOr(OrI, NewConst(false), node)
	case 'u':
		return NewOr(OrI, node, NewConst(false))
	default:
		return NewWrap(Wrapper(letter), node)
	}
}

// parseSubs parses a parenthesized list of exactly n sub-expressions.
func (p *parser) parseSubs(n, depth int) ([]Node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}

	subs := make([]Node, 0, n)
	for i := 0; i < n; i++ {
		if i > 0 {
			if err := p.expect(','); err != nil {
				return nil, err
			}
		}
		sub, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}

	return subs, nil
}

// parseKeys parses key arguments up to the closing parenthesis. With skip
// set to 1 the opening parenthesis was already consumed together with a
// leading argument and every key is preceded by a comma.
func (p *parser) parseKeys(skip int) ([][32]byte, error) {
	if skip == 0 {
		if err := p.expect('('); err != nil {
			return nil, err
		}
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}

		return [][32]byte{key}, nil
	}

	var keys [][32]byte
	for p.peek() == ',' {
		p.pos++
		key, err := p.parseKey()
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := p.expect(')'); err != nil {
		return nil, err
	}

	return keys, nil
}

func (p *parser) parseKey() ([32]byte, error) {
	var key [32]byte

	tok, start := p.arg()
	if strings.HasPrefix(tok, "+") {
		return key, p.errorf(start, "key markers are not supported, "+
			"use the plain x-only key")
	}

	raw, err := hex.DecodeString(tok)
	if err != nil || len(raw) != 32 {
		return key, p.errorf(start, "expected a 32 byte hex x-only key")
	}
	if _, err := schnorr.ParsePubKey(raw); err != nil {
		return key, p.errorf(start, "invalid x-only key: %v", err)
	}
	copy(key[:], raw)

	if p.resolver != nil && !p.resolver.HasKey(key) {
		return key, &UnknownKeyOrImageError{
			Kind: RefKey, ID: key, Pos: start,
		}
	}

	return key, nil
}

func (p *parser) parseImage() ([32]byte, error) {
	var image [32]byte

	tok, start := p.arg()
	raw, err := hex.DecodeString(tok)
	if err != nil || len(raw) != 32 {
		return image, p.errorf(start, "expected a 32 byte hex image")
	}
	copy(image[:], raw)

	if p.resolver != nil && !p.resolver.HasImage(image) {
		return image, &UnknownKeyOrImageError{
			Kind: RefImage, ID: image, Pos: start,
		}
	}

	return image, nil
}

func (p *parser) parseNumber() (uint32, error) {
	tok, start := p.arg()
	if tok == "" || (len(tok) > 1 && tok[0] == '0') {
		return 0, p.errorf(start, "expected a decimal number")
	}
	n, err := strconv.ParseUint(tok, 10, 32)
	if err != nil {
		return 0, p.errorf(start, "expected a decimal number")
	}

	return uint32(n), nil
}

// ParseKeyAt parses a single x-only key argument of input starting at pos,
// resolves it and returns the position right after it.
func ParseKeyAt(input string, pos int, r Resolver) ([32]byte, int, error) {
	p := &parser{input: input, pos: pos, resolver: r}
	key, err := p.parseKey()
	if err != nil {
		return key, 0, err
	}

	return key, p.pos, nil
}

func tokenAt(s string, pos int) string {
	if pos >= len(s) {
		return ""
	}
	end := pos
	for end < len(s) && !isDelimiter(s[end]) && s[end] != ':' {
		end++
	}
	if end == pos {
		end++
	}

	return s[pos:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func isWordChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}

func isDelimiter(c byte) bool {
	return c == '(' || c == ')' || c == ',' || c == '{' || c == '}' ||
		c == '#' || isSpace(c)
}
