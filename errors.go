// errors.go - the structured error taxonomy

package rbbvm

import (
	"errors"
	"fmt"
)

// Sentinel categories. Use errors.Is(err, rbbvm.ErrDecode) etc. to test the
// category of an error returned from this package.
var (
	ErrDecode = errors.New("decode error")
	ErrImport = errors.New("import error")
	ErrType   = errors.New("type error")
	ErrName   = errors.New("name error")
	ErrBounds = errors.New("bounds error")
	ErrFFI    = errors.New("ffi error")
)

// DecodeError reports a malformed program image: an unknown opcode, a
// truncated operand, an invalid immediate tag, or similar.
type DecodeError struct {
	Offset int
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode error at offset %d: %s", e.Offset, e.Msg)
}
func (e *DecodeError) Unwrap() error { return ErrDecode }

func newDecodeError(offset int, format string, args ...any) error {
	return &DecodeError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// ImportError reports a failed import: the target was not found, matched
// more than one candidate on the link search path, or forms an import
// cycle.
type ImportError struct {
	Path string
	Msg  string
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import error for %q: %s", e.Path, e.Msg)
}
func (e *ImportError) Unwrap() error { return ErrImport }

func newImportError(path, format string, args ...any) error {
	return &ImportError{Path: path, Msg: fmt.Sprintf(format, args...)}
}

// TypeError reports an operation attempted on incompatible Body kinds.
type TypeError struct {
	Msg string
}

func (e *TypeError) Error() string { return fmt.Sprintf("type error: %s", e.Msg) }
func (e *TypeError) Unwrap() error { return ErrType }

func newTypeError(format string, args ...any) error {
	return &TypeError{Msg: fmt.Sprintf(format, args...)}
}

// NameError reports an undefined variable, function, extern, module or
// struct field.
type NameError struct {
	Name string
}

func (e *NameError) Error() string { return fmt.Sprintf("undefined name %q", e.Name) }
func (e *NameError) Unwrap() error { return ErrName }

func newNameError(name string) error {
	return &NameError{Name: name}
}

// BoundsError reports an out-of-range heap index or jump target, or a
// division/modulo by zero.
type BoundsError struct {
	Msg string
}

func (e *BoundsError) Error() string { return fmt.Sprintf("bounds error: %s", e.Msg) }
func (e *BoundsError) Unwrap() error { return ErrBounds }

func newBoundsError(format string, args ...any) error {
	return &BoundsError{Msg: fmt.Sprintf(format, args...)}
}

// FFIError reports a failure in the foreign-function bridge: an
// unsupported extern type, a library load failure, or a missing symbol.
type FFIError struct {
	Msg string
}

func (e *FFIError) Error() string { return fmt.Sprintf("ffi error: %s", e.Msg) }
func (e *FFIError) Unwrap() error { return ErrFFI }

func newFFIError(format string, args ...any) error {
	return &FFIError{Msg: fmt.Sprintf(format, args...)}
}
