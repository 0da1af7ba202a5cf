package descriptor

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/uncomputable/tappy/miniscript"
)

// maxTreeDepth is the deepest Taproot script tree BIP341 allows.
const maxTreeDepth = 128

// Tree is a node of a Taproot script tree as written in a descriptor. A leaf
// holds a Miniscript expression, a branch holds two sub-trees.
type Tree struct {
	Script      miniscript.Node
	Left, Right *Tree
}

// IsLeaf returns true if the tree is a single script.
func (t *Tree) IsLeaf() bool {
	return t.Script != nil
}

// String returns the BIP386 form of the tree.
func (t *Tree) String() string {
	if t.IsLeaf() {
		return t.Script.String()
	}

	return "{" + t.Left.String() + "," + t.Right.String() + "}"
}

// Descriptor is a parsed tr() output descriptor. Tree is nil for key path
// only outputs.
type Descriptor struct {
	InternalKey [32]byte
	Tree        *Tree
}

// String returns the canonical form of the descriptor without checksum.
func (d *Descriptor) String() string {
	key := hex.EncodeToString(d.InternalKey[:])
	if d.Tree == nil {
		return "tr(" + key + ")"
	}

	return "tr(" + key + "," + d.Tree.String() + ")"
}

// Checksummed returns the canonical form of the descriptor with its
// checksum appended.
func (d *Descriptor) Checksummed() string {
	s := d.String()

	// The canonical form only uses characters of the checksum input
	// charset.
	sum, _ := Checksum(s)

	return s + "#" + sum
}

// Parse parses a descriptor of the form tr(KEY) or tr(KEY,TREE) with an
// optional checksum. Every key and image must be known to r.
func Parse(s string, r miniscript.Resolver) (*Descriptor, error) {
	body, err := StripChecksum(s, false)
	if err != nil {
		pos := strings.LastIndexByte(s, '#')
		if pos < 0 {
			pos = 0
		}

		return nil, &miniscript.SyntaxError{
			Pos: pos, Token: s[pos:], Msg: err.Error(),
		}
	}

	p := &parser{input: body, resolver: r}
	d, err := p.parseDescriptor()
	if err != nil {
		return nil, err
	}
	log.Tracef("Parsed descriptor %s", d)

	return d, nil
}

type parser struct {
	input    string
	pos      int
	resolver miniscript.Resolver
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) {
		switch p.input[p.pos] {
		case ' ', '\t', '\n', '\r':
			p.pos++
		default:
			return
		}
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.pos >= len(p.input) {
		return 0
	}

	return p.input[p.pos]
}

func (p *parser) token() string {
	if p.pos >= len(p.input) {
		return ""
	}
	end := p.pos
	for end < len(p.input) && end-p.pos < 16 {
		c := p.input[end]
		if c == '(' || c == ')' || c == ',' || c == '{' || c == '}' {
			break
		}
		end++
	}
	if end == p.pos {
		end++
	}

	return p.input[p.pos:end]
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &miniscript.SyntaxError{
		Pos:   p.pos,
		Token: p.token(),
		Msg:   fmt.Sprintf(format, args...),
	}
}

func (p *parser) expect(c byte) error {
	if p.peek() != c {
		return p.errorf("expected '%c'", c)
	}
	p.pos++

	return nil
}

func (p *parser) parseDescriptor() (*Descriptor, error) {
	p.skipSpace()
	if len(p.input)-p.pos < 3 || p.input[p.pos:p.pos+3] != "tr(" {
		return nil, p.errorf("only tr() descriptors are supported")
	}
	p.pos += 3

	key, pos, err := miniscript.ParseKeyAt(p.input, p.pos, p.resolver)
	if err != nil {
		return nil, err
	}
	p.pos = pos

	d := &Descriptor{InternalKey: key}
	if p.peek() == ',' {
		p.pos++
		d.Tree, err = p.parseTree(0)
		if err != nil {
			return nil, err
		}
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, p.errorf("unexpected trailing input")
	}

	return d, nil
}

func (p *parser) parseTree(depth int) (*Tree, error) {
	if depth > maxTreeDepth {
		return nil, p.errorf("script tree deeper than %d", maxTreeDepth)
	}

	if p.peek() != '{' {
		start := p.pos
		script, pos, err := miniscript.ParseFragment(
			p.input, p.pos, p.resolver,
		)
		if err != nil {
			return nil, err
		}
		if err := miniscript.CheckTopLevel(script); err != nil {
			p.pos = start
			return nil, p.errorf("%v", err)
		}
		p.pos = pos

		return &Tree{Script: script}, nil
	}

	p.pos++
	left, err := p.parseTree(depth + 1)
	if err != nil {
		return nil, err
	}
	if err := p.expect(','); err != nil {
		return nil, err
	}
	right, err := p.parseTree(depth + 1)
	if err != nil {
		return nil, err
	}
	if err := p.expect('}'); err != nil {
		return nil, err
	}

	return &Tree{Left: left, Right: right}, nil
}
