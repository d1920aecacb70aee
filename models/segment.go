package models

import "fmt"

const (
	ProtRead  = 1
	ProtWrite = 2
	ProtExec  = 4
)

func ProtString(prot int) string {
	prots := []int{ProtRead, ProtWrite, ProtExec}
	chars := []string{"r", "w", "x"}
	s := ""
	for i := range prots {
		if prot&prots[i] != 0 {
			s += chars[i]
		} else {
			s += "-"
		}
	}
	return s
}

// SegmentRef addresses a mapped segment by owner rather than by raw
// pointer: (module id, segment id) stays valid even if the backing is
// moved by a future allocator.
type SegmentRef struct {
	Module  int
	Segment int
}

// Segment describes one mapped region of a loaded module.
type Segment struct {
	ID   int
	Base uint64
	Size uint64
	Prot int
}

func (s *Segment) Contains(addr uint64) bool {
	return addr >= s.Base && addr < s.Base+s.Size
}

func (s *Segment) String() string {
	return fmt.Sprintf("0x%x-0x%x %s", s.Base, s.Base+s.Size, ProtString(s.Prot))
}
