package loadstone

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strandos/loadstone/mem"
	"github.com/strandos/loadstone/models"
)

// Module is one loaded object: its mapped segments, published exports,
// and optional entry point. A module stays resident until Unload, and
// cannot be unloaded while another module's relocations point into it.
type Module struct {
	ID       int
	Name     string
	Segments []models.Segment
	Exports  []models.Export
	// Entry is the address of the module's start routine, 0 if it
	// exports neither _start nor main.
	Entry uint64

	regions    []*mem.Region
	deps       map[int]bool
	dependents map[int]bool
}

// Contains reports whether addr falls inside one of the module's
// segments.
func (m *Module) Contains(addr uint64) bool {
	for i := range m.Segments {
		if m.Segments[i].Contains(addr) {
			return true
		}
	}
	return false
}

// LookupExport finds one of the module's own published symbols.
func (m *Module) LookupExport(name string) (models.Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return models.Export{}, false
}

// Symbolicate names an address inside the module as symbol+offset,
// using the nearest export at or below addr.
func (m *Module) Symbolicate(addr uint64) (string, uint64, bool) {
	if !m.Contains(addr) {
		return "", 0, false
	}
	var best *models.Export
	for i := range m.Exports {
		e := &m.Exports[i]
		if e.Addr <= addr && (best == nil || e.Addr > best.Addr) {
			best = e
		}
	}
	if best == nil {
		return "", 0, false
	}
	return best.Name, addr - best.Addr, true
}

// Dependents lists the ids of modules bound into this one, sorted.
func (m *Module) Dependents() []int {
	out := make([]int, 0, len(m.dependents))
	for id := range m.dependents {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func (m *Module) String() string {
	segs := make([]string, len(m.Segments))
	for i := range m.Segments {
		segs[i] = m.Segments[i].String()
	}
	return fmt.Sprintf("module %d %q [%s] %d exports",
		m.ID, m.Name, strings.Join(segs, " "), len(m.Exports))
}
