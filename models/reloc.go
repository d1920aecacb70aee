package models

import "fmt"

// Reloc is one relocation entry: patch the field at Section+Offset once
// the referenced symbol's final address is known. Type is the raw
// machine-specific relocation kind (R_X86_64_* for the supported
// machine); the engine rejects kinds it does not recognize.
type Reloc struct {
	Section int
	Offset  uint64
	Type    uint32
	Sym     int
	Addend  int64
}

func (r *Reloc) String() string {
	return fmt.Sprintf("reloc type=%d sec=%d off=%#x sym=%d addend=%d",
		r.Type, r.Section, r.Offset, r.Sym, r.Addend)
}
