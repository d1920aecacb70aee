// Package mem reserves page-aligned, protection-managed memory for
// module segments. Two mappers exist: Arena, a pure-Go address-space
// allocator with exact byte accounting, and HostMap, which hands out
// real executable pages on linux.
package mem

import (
	"github.com/pkg/errors"

	"github.com/strandos/loadstone/models"
)

// Region is one mapped segment. Base+i corresponds to Data[i]; callers
// address regions by id, never by raw pointer.
type Region struct {
	ID   int
	Base uint64
	Size uint64
	Prot int
	Data []byte

	sealed bool
	raw    []byte
}

// Sealed reports whether the region's protection has been finalized.
func (r *Region) Sealed() bool {
	return r.sealed
}

type Mapper interface {
	// Map reserves a region of at least size bytes, rounded up to page
	// granularity, honoring align. The region starts ProtRead|ProtWrite.
	Map(size, align uint64) (*Region, error)
	// Protect moves a region to its terminal protection. The transition
	// is one-way: a second call fails, and writable+executable is never
	// granted.
	Protect(r *Region, prot int) error
	// Unmap releases the region back to the mapper.
	Unmap(r *Region) error
	// Free reports the bytes still available, where meaningful.
	Free() uint64
	PageSize() uint64
}

func alignUp(x, a uint64) uint64 {
	if a <= 1 {
		return x
	}
	return (x + a - 1) / a * a
}

func checkTransition(r *Region, prot int) error {
	if prot&models.ProtWrite != 0 && prot&models.ProtExec != 0 {
		return errors.Errorf("region %d: refusing writable+executable protection", r.ID)
	}
	if r.sealed {
		return errors.Errorf("region %d: protection already finalized", r.ID)
	}
	return nil
}
