// Package loadstone links and maps relocatable object files at runtime.
// A Session owns a memory mapper, a registry of loaded modules, and the
// fixed ABI table; Load takes a batch of objects through parse, symbol
// resolution, allocation, relocation, and protection finalization as one
// atomic step.
package loadstone

import (
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/strandos/loadstone/archive"
	"github.com/strandos/loadstone/linker"
	"github.com/strandos/loadstone/loader"
	"github.com/strandos/loadstone/mem"
	"github.com/strandos/loadstone/models"
)

// Input is one object file of a load batch.
type Input struct {
	Name string
	Data []byte
}

type ownedExport struct {
	models.Export
	owner int
}

// Session is the loader's root object. All methods are safe for
// concurrent use; a Load observes either none or all of another Load's
// effects.
type Session struct {
	mu      sync.Mutex
	mapper  mem.Mapper
	abi     *models.ABITable
	nextID  int
	modules map[int]*Module
	exports map[string]ownedExport
}

// NewSession builds a session over the given mapper. abi may be nil for
// a freestanding session with no fixed entry points.
func NewSession(mapper mem.Mapper, abi *models.ABITable) *Session {
	return &Session{
		mapper:  mapper,
		abi:     abi,
		modules: make(map[int]*Module),
		exports: make(map[string]ownedExport),
	}
}

// registryView exposes published exports to the resolver. The session
// lock is already held for the duration of a Load.
type registryView struct {
	s *Session
}

func (v registryView) LookupExport(name string) (uint64, bool) {
	e, ok := v.s.exports[name]
	return e.Addr, ok
}

// Load links a batch of objects into one module each and publishes
// their exports. The batch is atomic: on any error no memory stays
// mapped, no export stays published, and the registry is unchanged.
func (s *Session) Load(inputs []Input) ([]*Module, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(inputs) == 0 {
		return nil, errors.New("empty load batch")
	}

	objs := make([]*loader.ObjectFile, len(inputs))
	for i, in := range inputs {
		o, err := loader.Parse(in.Name, in.Data)
		if err != nil {
			return nil, err
		}
		objs[i] = o
	}

	// the full reference map must exist before any memory is committed
	res, err := linker.Resolve(objs, registryView{s}, s.abi)
	if err != nil {
		return nil, err
	}

	var mapped []*mem.Region
	release := func() {
		for _, r := range mapped {
			s.mapper.Unmap(r)
		}
	}

	regions := make([][]*mem.Region, len(objs))
	bases := make([][]uint64, len(objs))
	for i, o := range objs {
		regions[i] = make([]*mem.Region, len(o.Sections))
		bases[i] = make([]uint64, len(o.Sections))
		for si := range o.Sections {
			sec := &o.Sections[si]
			r, err := s.mapper.Map(sec.Size, sec.Align)
			if err != nil {
				release()
				return nil, errors.Wrapf(err, "mapping %s of %q", sec.Name, o.Name)
			}
			mapped = append(mapped, r)
			regions[i][si] = r
			bases[i][si] = r.Base
			if sec.Kind != models.SecBss {
				copy(r.Data, sec.Data)
			}
		}
	}

	addrs, ok := res.Addrs(bases)

	for i, o := range objs {
		data := func(sec int) []byte {
			if o.Sections[sec].Kind == models.SecBss {
				return nil
			}
			return regions[i][sec].Data
		}
		if err := linker.Apply(o, addrs[i], ok[i], bases[i], data); err != nil {
			release()
			return nil, err
		}
	}

	for i, o := range objs {
		for si := range o.Sections {
			if err := s.mapper.Protect(regions[i][si], o.Sections[si].Kind.Prot()); err != nil {
				release()
				return nil, errors.Wrapf(err, "finalizing %s of %q", o.Sections[si].Name, o.Name)
			}
		}
	}

	// everything fallible is done; build and publish
	mods := make([]*Module, len(objs))
	for i, o := range objs {
		s.nextID++
		m := &Module{
			ID:         s.nextID,
			Name:       o.Name,
			regions:    regions[i],
			deps:       make(map[int]bool),
			dependents: make(map[int]bool),
		}
		for si := range o.Sections {
			r := regions[i][si]
			m.Segments = append(m.Segments, models.Segment{
				ID: si, Base: r.Base, Size: r.Size, Prot: r.Prot,
			})
		}
		mods[i] = m
	}

	for _, ex := range res.Exports() {
		sym := &objs[ex.Obj].Symbols[ex.Sym]
		mods[ex.Obj].Exports = append(mods[ex.Obj].Exports, models.Export{
			Name: sym.Name,
			Addr: addrs[ex.Obj][ex.Sym],
			Kind: sym.Kind,
		})
	}
	for _, m := range mods {
		sort.Slice(m.Exports, func(i, j int) bool { return m.Exports[i].Addr < m.Exports[j].Addr })
		if e, found := m.LookupExport("_start"); found {
			m.Entry = e.Addr
		} else if e, found := m.LookupExport("main"); found {
			m.Entry = e.Addr
		}
	}

	extern := res.ExternAddrs()
	poolDeps := res.PoolDeps()
	for i, m := range mods {
		for _, addr := range extern[i] {
			for id, other := range s.modules {
				if other.Contains(addr) {
					m.deps[id] = true
					other.dependents[m.ID] = true
				}
			}
		}
		for _, j := range poolDeps[i] {
			m.deps[mods[j].ID] = true
			mods[j].dependents[m.ID] = true
		}
	}

	for _, m := range mods {
		s.modules[m.ID] = m
		for _, e := range m.Exports {
			s.exports[e.Name] = ownedExport{Export: e, owner: m.ID}
		}
	}
	return mods, nil
}

// LoadBundle loads every object of a bundle as one batch.
func (s *Session) LoadBundle(r io.ReadCloser) ([]*Module, error) {
	br, err := archive.NewReader(r)
	if err != nil {
		return nil, err
	}
	entries, err := br.All()
	if err != nil {
		return nil, err
	}
	inputs := make([]Input, len(entries))
	for i, e := range entries {
		inputs[i] = Input{Name: e.Name, Data: e.Data}
	}
	return s.Load(inputs)
}

// Unload removes a module, releasing its memory and retracting its
// exports. Fails with ModuleInUse while other modules are bound into it.
// A failed unmap is reported but still unregisters the module; the
// region leaks rather than leaving a half-freed module invocable.
func (s *Session) Unload(id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.modules[id]
	if !ok {
		return errors.Errorf("no module %d", id)
	}
	var pinning []int
	for d := range m.dependents {
		if d != id {
			pinning = append(pinning, d)
		}
	}
	if len(pinning) > 0 {
		sort.Ints(pinning)
		return &models.ModuleInUseError{ID: id, Dependents: pinning}
	}

	// unregister unconditionally: a failed unmap must not leave a
	// half-freed module invocable or its names taken
	var first error
	for _, r := range m.regions {
		if err := s.mapper.Unmap(r); err != nil && first == nil {
			first = errors.Wrapf(err, "unloading module %d", id)
		}
	}
	delete(s.modules, id)
	for name, e := range s.exports {
		if e.owner == id {
			delete(s.exports, name)
		}
	}
	for d := range m.deps {
		if other := s.modules[d]; other != nil {
			delete(other.dependents, id)
		}
	}
	return first
}

// LookupExport finds a published symbol across all loaded modules.
func (s *Session) LookupExport(name string) (models.Export, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.exports[name]
	return e.Export, ok
}

// Module returns a loaded module by id.
func (s *Session) Module(id int) (*Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	return m, ok
}

// Modules lists loaded modules sorted by id.
func (s *Session) Modules() []*Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Module, 0, len(s.modules))
	for _, m := range s.modules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Symbolicate names an address as module/symbol+offset.
func (s *Session) Symbolicate(addr uint64) (*Module, string, uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.modules {
		if name, off, ok := m.Symbolicate(addr); ok {
			return m, name, off, ok
		}
	}
	return nil, "", 0, false
}

// Free reports the mapper's remaining bytes.
func (s *Session) Free() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mapper.Free()
}

// Close unloads every module regardless of dependents. The first unmap
// error is reported; teardown continues past it.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first error
	for id, m := range s.modules {
		for _, r := range m.regions {
			if err := s.mapper.Unmap(r); err != nil && first == nil {
				first = errors.Wrapf(err, "closing module %d", id)
			}
		}
		delete(s.modules, id)
	}
	s.exports = make(map[string]ownedExport)
	return first
}
