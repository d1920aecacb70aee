package mem

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/strandos/loadstone/models"
)

type span struct {
	base, size uint64
}

// Arena allocates regions out of a fixed virtual address range. Nothing
// is executable-for-real here: segment bytes live in plain slices and
// addresses are arena-relative, which is exactly what link correctness
// tests and accounting need. First fit with coalescing free list.
type Arena struct {
	pageSize uint64
	free     []span
	nextID   int
}

func NewArena(base, size, pageSize uint64) (*Arena, error) {
	if pageSize == 0 || pageSize&(pageSize-1) != 0 {
		return nil, errors.Errorf("page size %#x is not a power of two", pageSize)
	}
	if base == 0 {
		return nil, errors.New("arena base must be nonzero (0 is the null address)")
	}
	if size == 0 || size%pageSize != 0 {
		return nil, errors.Errorf("arena size %#x is not page-granular", size)
	}
	return &Arena{
		pageSize: pageSize,
		free:     []span{{base: base, size: size}},
	}, nil
}

func (a *Arena) PageSize() uint64 {
	return a.pageSize
}

func (a *Arena) Free() uint64 {
	var total uint64
	for _, s := range a.free {
		total += s.size
	}
	return total
}

func (a *Arena) Map(size, align uint64) (*Region, error) {
	if size == 0 {
		size = 1
	}
	if align < a.pageSize {
		align = a.pageSize
	}
	rounded := alignUp(size, a.pageSize)

	for i, s := range a.free {
		start := alignUp(s.base, align)
		if start+rounded > s.base+s.size || start < s.base {
			continue
		}
		// carve [start, start+rounded) out of the span
		var repl []span
		if start > s.base {
			repl = append(repl, span{base: s.base, size: start - s.base})
		}
		if end := start + rounded; end < s.base+s.size {
			repl = append(repl, span{base: end, size: s.base + s.size - end})
		}
		a.free = append(a.free[:i], append(repl, a.free[i+1:]...)...)

		a.nextID++
		return &Region{
			ID:   a.nextID,
			Base: start,
			Size: rounded,
			Prot: models.ProtRead | models.ProtWrite,
			Data: make([]byte, rounded),
		}, nil
	}
	return nil, &models.OutOfMemoryError{Requested: rounded, Free: a.Free()}
}

func (a *Arena) Protect(r *Region, prot int) error {
	if err := checkTransition(r, prot); err != nil {
		return err
	}
	r.Prot = prot
	r.sealed = true
	return nil
}

func (a *Arena) Unmap(r *Region) error {
	if r.Data == nil {
		return errors.Errorf("region %d already unmapped", r.ID)
	}
	a.free = append(a.free, span{base: r.Base, size: r.Size})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].base < a.free[j].base })
	// coalesce neighbors
	merged := a.free[:1]
	for _, s := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.base+last.size == s.base {
			last.size += s.size
		} else {
			merged = append(merged, s)
		}
	}
	a.free = merged
	r.Data = nil
	return nil
}
