package models

import "fmt"

type SectionKind int

const (
	SecCode SectionKind = iota
	SecROData
	SecData
	SecBss
)

func (k SectionKind) String() string {
	switch k {
	case SecCode:
		return "code"
	case SecROData:
		return "rodata"
	case SecData:
		return "data"
	case SecBss:
		return "bss"
	}
	return fmt.Sprintf("section(%d)", int(k))
}

// Prot returns the terminal protection for sections of this kind.
// During relocation patching every segment is mapped ProtRead|ProtWrite;
// FinalizeProtection moves it here.
func (k SectionKind) Prot() int {
	switch k {
	case SecCode:
		return ProtExec
	case SecROData:
		return ProtRead
	default:
		return ProtRead | ProtWrite
	}
}

// Section is one allocatable section of a parsed object. Data is nil for
// bss; Size is authoritative either way.
type Section struct {
	Name  string
	Kind  SectionKind
	Data  []byte
	Size  uint64
	Align uint64
}

func (s *Section) String() string {
	return fmt.Sprintf("%s [%s] size=%#x align=%#x", s.Name, s.Kind, s.Size, s.Align)
}
