// Package loader parses relocatable object files into the read-only
// views the linker consumes. It performs format validation only; no
// address computation happens here.
package loader

import (
	"github.com/strandos/loadstone/models"
)

// Section index values beyond SecUndef for symbols that resolve without
// a mapped section.
const (
	// SecAbs marks an absolute symbol: Value is its final address.
	SecAbs = -3
	// SecIgnored marks a symbol defined in a section the loader does
	// not map (debug info, notes). Referencing one is an error.
	SecIgnored = -2
)

// ObjectFile is the immutable parsed view of one input object. It is
// owned by the load operation that parsed it and discarded once the
// resulting module is built.
type ObjectFile struct {
	Name     string
	Sections []models.Section
	Symbols  []models.Symbol
	Relocs   []models.Reloc
}

// Globals yields the indices of global and weak definitions, the
// candidates for the batch's pending pool.
func (o *ObjectFile) Globals() []int {
	var out []int
	for i := range o.Symbols {
		sym := &o.Symbols[i]
		if sym.IsUndef() || sym.Bind == models.BindLocal {
			continue
		}
		out = append(out, i)
	}
	return out
}

// Undefined yields the indices of undefined references.
func (o *ObjectFile) Undefined() []int {
	var out []int
	for i := range o.Symbols {
		if o.Symbols[i].IsUndef() {
			out = append(out, i)
		}
	}
	return out
}
