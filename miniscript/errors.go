package miniscript

import (
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrSyntax is matched by every SyntaxError.
	ErrSyntax = errors.New("syntax error")

	// ErrUnknownKeyOrImage is matched by every UnknownKeyOrImageError.
	ErrUnknownKeyOrImage = errors.New("unknown key or image")
)

// SyntaxError is returned for malformed or ill-typed expressions. Pos is the
// byte offset of Token in the parsed string.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at position %d: %s", e.Pos,
			e.Msg)
	}

	return fmt.Sprintf("syntax error at position %d near %q: %s", e.Pos,
		e.Token, e.Msg)
}

// Is makes errors.Is(err, ErrSyntax) work.
func (e *SyntaxError) Is(target error) bool {
	return target == ErrSyntax
}

// RefKind names what kind of reference could not be resolved.
type RefKind string

const (
	RefKey   RefKind = "key"
	RefImage RefKind = "image"
)

// UnknownKeyOrImageError is returned when an expression references a key or
// image that the resolver does not know.
type UnknownKeyOrImageError struct {
	Kind RefKind
	ID   [32]byte
	Pos  int
}

func (e *UnknownKeyOrImageError) Error() string {
	return fmt.Sprintf("unknown %s %s at position %d", e.Kind,
		hex.EncodeToString(e.ID[:]), e.Pos)
}

// Is makes errors.Is(err, ErrUnknownKeyOrImage) work.
func (e *UnknownKeyOrImageError) Is(target error) bool {
	return target == ErrUnknownKeyOrImage
}
