// Package linker resolves symbol references across a load batch and
// applies relocations once every referenced address is known. It is
// strictly two-pass: a complete reference→address map exists before the
// first byte is patched, so mutually referencing objects link in any
// batch order.
package linker

import (
	"github.com/strandos/loadstone/loader"
	"github.com/strandos/loadstone/models"
)

// GlobalLookup is the registry's view of previously loaded modules'
// exports. The ABI table is consulted only after this fails.
type GlobalLookup interface {
	LookupExport(name string) (uint64, bool)
}

type defSite struct {
	obj, sym int
}

type bindKind int

const (
	bindDefined bindKind = iota // symbol's own definition stands
	bindPool                    // bound to another batch definition
	bindExtern                  // bound to a fixed address (registry or ABI)
	bindAbs                     // absolute symbol, address is its value
	bindWeakZero                // undefined weak with no provider
	bindNone                    // defined in an unmapped section
)

type binding struct {
	kind   bindKind
	addr   uint64
	target defSite
}

// Export names a batch definition to be published on success.
type Export struct {
	Obj, Sym int
}

// Resolution is the complete reference map for one batch. It carries no
// addresses for batch-local definitions until Addrs is given section
// base addresses, so resolution runs (and fails) before any memory is
// committed.
type Resolution struct {
	objs     []*loader.ObjectFile
	bindings [][]binding
	exports  []Export
}

// Resolve pools the batch's global and weak definitions, rejects
// collisions, and binds every symbol reference in resolution order:
// batch pool, then prior modules, then the ABI table.
func Resolve(objs []*loader.ObjectFile, globals GlobalLookup, abi *models.ABITable) (*Resolution, error) {
	pool := make(map[string]defSite)

	// pass 1: define
	for i, o := range objs {
		for _, si := range o.Globals() {
			sym := &o.Symbols[si]
			if sym.Section == loader.SecIgnored {
				continue
			}
			prev, ok := pool[sym.Name]
			if !ok {
				pool[sym.Name] = defSite{obj: i, sym: si}
				continue
			}
			prevStrong := objs[prev.obj].Symbols[prev.sym].IsStrong()
			switch {
			case sym.IsStrong() && prevStrong:
				return nil, &models.DuplicateSymbolError{Symbol: sym.Name, Object: o.Name}
			case sym.IsStrong():
				pool[sym.Name] = defSite{obj: i, sym: si}
			default:
				// weak loses to any earlier definition
			}
		}
	}

	// every pool name must be new to the registry
	if globals != nil {
		for name, site := range pool {
			if _, taken := globals.LookupExport(name); taken {
				return nil, &models.DuplicateSymbolError{
					Symbol: name,
					Object: objs[site.obj].Name,
				}
			}
		}
	}

	// pass 2: bind every symbol entry
	r := &Resolution{objs: objs, bindings: make([][]binding, len(objs))}
	for i, o := range objs {
		r.bindings[i] = make([]binding, len(o.Symbols))
		for si := range o.Symbols {
			sym := &o.Symbols[si]
			b, err := bindSymbol(objs, pool, globals, abi, i, si, sym)
			if err != nil {
				return nil, err
			}
			r.bindings[i][si] = b
		}
	}

	for _, site := range pool {
		r.exports = append(r.exports, Export{Obj: site.obj, Sym: site.sym})
	}
	return r, nil
}

func bindSymbol(objs []*loader.ObjectFile, pool map[string]defSite,
	globals GlobalLookup, abi *models.ABITable,
	obj, si int, sym *models.Symbol) (binding, error) {

	switch {
	case sym.Section == loader.SecAbs:
		return binding{kind: bindAbs}, nil
	case sym.Section == loader.SecIgnored:
		return binding{kind: bindNone}, nil
	case !sym.IsUndef():
		// a weak definition may have lost the pool to a stronger one
		if sym.Bind != models.BindLocal {
			if site := pool[sym.Name]; site.obj != obj || site.sym != si {
				return binding{kind: bindPool, target: site}, nil
			}
		}
		return binding{kind: bindDefined}, nil
	}

	// undefined: pool → registry → ABI → weak-zero
	if site, ok := pool[sym.Name]; ok {
		return binding{kind: bindPool, target: site}, nil
	}
	if globals != nil {
		if addr, ok := globals.LookupExport(sym.Name); ok {
			return binding{kind: bindExtern, addr: addr}, nil
		}
	}
	if abi != nil {
		if addr, ok := abi.Lookup(sym.Name); ok {
			return binding{kind: bindExtern, addr: addr}, nil
		}
	}
	if sym.Bind == models.BindWeak {
		return binding{kind: bindWeakZero}, nil
	}
	return binding{}, &models.UnresolvedSymbolError{
		Symbol: sym.Name,
		Object: objs[obj].Name,
	}
}

// Exports returns the batch definitions to publish on success.
func (r *Resolution) Exports() []Export {
	return r.exports
}

// Addrs materializes the reference→address map once section base
// addresses are known. bases[i][s] is object i's section s base.
// ok[i][k] is false for symbols that have no address (unmapped-section
// definitions); applying a relocation against one is an error.
func (r *Resolution) Addrs(bases [][]uint64) (addrs [][]uint64, ok [][]bool) {
	addrs = make([][]uint64, len(r.objs))
	ok = make([][]bool, len(r.objs))
	for i, o := range r.objs {
		addrs[i] = make([]uint64, len(o.Symbols))
		ok[i] = make([]bool, len(o.Symbols))
		for si := range o.Symbols {
			switch b := r.bindings[i][si]; b.kind {
			case bindDefined:
				sym := &o.Symbols[si]
				addrs[i][si] = bases[i][sym.Section] + sym.Value
				ok[i][si] = true
			case bindPool:
				t := &r.objs[b.target.obj].Symbols[b.target.sym]
				switch t.Section {
				case loader.SecAbs:
					addrs[i][si] = t.Value
					ok[i][si] = true
				case loader.SecIgnored:
					// no address; flagged false
				default:
					addrs[i][si] = bases[b.target.obj][t.Section] + t.Value
					ok[i][si] = true
				}
			case bindExtern:
				addrs[i][si] = b.addr
				ok[i][si] = true
			case bindAbs:
				addrs[i][si] = o.Symbols[si].Value
				ok[i][si] = true
			case bindWeakZero:
				addrs[i][si] = 0
				ok[i][si] = true
			case bindNone:
				// no address; flagged false
			}
		}
	}
	return addrs, ok
}

// ExternAddrs lists, per object, every address bound from outside the
// batch (prior modules or the ABI table). The session matches these
// against module address ranges to maintain dependent sets for unload
// safety.
func (r *Resolution) ExternAddrs() [][]uint64 {
	out := make([][]uint64, len(r.bindings))
	for i := range r.bindings {
		for _, b := range r.bindings[i] {
			if b.kind == bindExtern {
				out[i] = append(out[i], b.addr)
			}
		}
	}
	return out
}

// PoolDeps lists, per object, the other batch objects it binds symbols
// from.
func (r *Resolution) PoolDeps() [][]int {
	out := make([][]int, len(r.bindings))
	for i := range r.bindings {
		seen := make(map[int]bool)
		for _, b := range r.bindings[i] {
			if b.kind == bindPool && b.target.obj != i && !seen[b.target.obj] {
				seen[b.target.obj] = true
				out[i] = append(out[i], b.target.obj)
			}
		}
	}
	return out
}
