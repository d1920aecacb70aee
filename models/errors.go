package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// The loader's whole failure taxonomy. Every stage surfaces exactly one
// of these (possibly wrapped for context); the session rolls back and
// hands it to the caller. Classify with errors.Cause.

type MalformedObjectError struct {
	Object string
	Reason string
}

func (e *MalformedObjectError) Error() string {
	return fmt.Sprintf("malformed object %q: %s", e.Object, e.Reason)
}

type DuplicateSymbolError struct {
	Symbol string
	Object string
}

func (e *DuplicateSymbolError) Error() string {
	return fmt.Sprintf("duplicate symbol %q (defined again by %q)", e.Symbol, e.Object)
}

type UnresolvedSymbolError struct {
	Symbol string
	Object string
}

func (e *UnresolvedSymbolError) Error() string {
	return fmt.Sprintf("unresolved symbol %q referenced by %q", e.Symbol, e.Object)
}

type UnsupportedRelocationTypeError struct {
	Object string
	Type   uint32
}

func (e *UnsupportedRelocationTypeError) Error() string {
	return fmt.Sprintf("unsupported relocation type %d in %q", e.Type, e.Object)
}

type RelocationOverflowError struct {
	Object string
	Site   uint64
	Symbol string
}

func (e *RelocationOverflowError) Error() string {
	return fmt.Sprintf("relocation overflow at %q+%#x targeting %q", e.Object, e.Site, e.Symbol)
}

type OutOfMemoryError struct {
	Requested uint64
	Free      uint64
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: requested %#x bytes, %#x free", e.Requested, e.Free)
}

type ModuleInUseError struct {
	ID         int
	Dependents []int
}

func (e *ModuleInUseError) Error() string {
	deps := make([]string, len(e.Dependents))
	for i, id := range e.Dependents {
		deps[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("module %d in use by module(s) %s", e.ID, strings.Join(deps, ", "))
}

// IsOutOfMemory reports whether err's cause is allocator exhaustion; the
// caller may unload modules and retry the whole load.
func IsOutOfMemory(err error) bool {
	_, ok := errors.Cause(err).(*OutOfMemoryError)
	return ok
}
