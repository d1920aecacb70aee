package models

import "fmt"

type SymBind int

const (
	BindLocal SymBind = iota
	BindGlobal
	BindWeak
)

func (b SymBind) String() string {
	switch b {
	case BindLocal:
		return "local"
	case BindGlobal:
		return "global"
	case BindWeak:
		return "weak"
	}
	return fmt.Sprintf("bind(%d)", int(b))
}

type SymKind int

const (
	SymFunc SymKind = iota
	SymData
)

// SecUndef marks a symbol with no defining section: a reference to be
// resolved against the batch pool, prior modules, or the ABI table.
const SecUndef = -1

// Symbol is one symbol table entry of a parsed object. Section indexes
// the owning ObjectFile's section list, or SecUndef.
type Symbol struct {
	Name    string
	Section int
	Value   uint64
	Size    uint64
	Bind    SymBind
	Kind    SymKind
}

func (s *Symbol) IsUndef() bool {
	return s.Section == SecUndef
}

func (s *Symbol) IsStrong() bool {
	return !s.IsUndef() && s.Bind == BindGlobal
}

// Export is a published symbol: a name bound to an absolute address in a
// loaded module.
type Export struct {
	Name string
	Addr uint64
	Kind SymKind
}
