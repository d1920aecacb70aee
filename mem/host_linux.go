//go:build linux

package mem

import (
	"math"
	"os"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/strandos/loadstone/models"
)

// HostMap hands out anonymous mappings from the host kernel, so loaded
// code is genuinely executable. Addresses are real pointers; Unmap is
// the only reclamation path.
type HostMap struct {
	pageSize uint64
	nextID   int
}

func NewHostMap() (*HostMap, error) {
	return &HostMap{pageSize: uint64(os.Getpagesize())}, nil
}

func (h *HostMap) PageSize() uint64 {
	return h.pageSize
}

// Free is not meaningfully bounded for host mappings.
func (h *HostMap) Free() uint64 {
	return math.MaxUint64
}

func protToHost(prot int) int {
	out := 0
	if prot&models.ProtRead != 0 {
		out |= unix.PROT_READ
	}
	if prot&models.ProtWrite != 0 {
		out |= unix.PROT_WRITE
	}
	if prot&models.ProtExec != 0 {
		out |= unix.PROT_EXEC
	}
	return out
}

func (h *HostMap) Map(size, align uint64) (*Region, error) {
	if size == 0 {
		size = 1
	}
	if align < h.pageSize {
		align = h.pageSize
	}
	rounded := alignUp(size, h.pageSize)
	mapLen := rounded
	if align > h.pageSize {
		mapLen += align
	}
	raw, err := unix.Mmap(-1, 0, int(mapLen),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, errors.WithMessage(&models.OutOfMemoryError{Requested: mapLen}, err.Error())
	}
	base := uint64(uintptr(unsafe.Pointer(&raw[0])))
	aligned := alignUp(base, align)
	off := aligned - base

	h.nextID++
	return &Region{
		ID:   h.nextID,
		Base: aligned,
		Size: rounded,
		Prot: models.ProtRead | models.ProtWrite,
		Data: raw[off : off+rounded : off+rounded],
		raw:  raw,
	}, nil
}

func (h *HostMap) Protect(r *Region, prot int) error {
	if err := checkTransition(r, prot); err != nil {
		return err
	}
	if err := unix.Mprotect(r.Data, protToHost(prot)); err != nil {
		return errors.Wrapf(err, "mprotect(%#x, %s)", r.Base, models.ProtString(prot))
	}
	r.Prot = prot
	r.sealed = true
	return nil
}

func (h *HostMap) Unmap(r *Region) error {
	if r.raw == nil {
		return errors.Errorf("region %d already unmapped", r.ID)
	}
	if err := unix.Munmap(r.raw); err != nil {
		return errors.Wrapf(err, "munmap(%#x)", r.Base)
	}
	r.raw = nil
	r.Data = nil
	return nil
}
