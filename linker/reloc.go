package linker

import (
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/strandos/loadstone/loader"
	"github.com/strandos/loadstone/models"
)

var (
	errOverflow    = errors.New("value does not fit relocation field")
	errUnsupported = errors.New("unrecognized relocation type")
	errTruncated   = errors.New("relocation site extends past section end")
)

// patch applies one relocation formula. S is the resolved symbol
// address, A the addend, P the site address. The closed switch is the
// entire set the environment's compiler emits for x86-64 relocatable
// code; anything else is rejected, never skipped.
func patch(site []byte, typ uint32, S uint64, A int64, P uint64) error {
	put32 := func(v uint32) error {
		if len(site) < 4 {
			return errTruncated
		}
		binary.LittleEndian.PutUint32(site, v)
		return nil
	}
	put64 := func(v uint64) error {
		if len(site) < 8 {
			return errTruncated
		}
		binary.LittleEndian.PutUint64(site, v)
		return nil
	}

	switch elf.R_X86_64(typ) {
	case elf.R_X86_64_NONE:
		return nil
	case elf.R_X86_64_64:
		return put64(S + uint64(A))
	case elf.R_X86_64_PC64:
		return put64(S + uint64(A) - P)
	case elf.R_X86_64_32:
		v := S + uint64(A)
		if v != uint64(uint32(v)) {
			return errOverflow
		}
		return put32(uint32(v))
	case elf.R_X86_64_32S:
		v := int64(S) + A
		if v != int64(int32(v)) {
			return errOverflow
		}
		return put32(uint32(v))
	case elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
		// no PLT exists at runtime; PLT32 calls bind direct
		v := int64(S) + A - int64(P)
		if v != int64(int32(v)) {
			return errOverflow
		}
		return put32(uint32(v))
	default:
		return errUnsupported
	}
}

// Apply patches every relocation of one object into its section
// buffers. addrs/ok come from Resolution.Addrs; bases are the object's
// own section base addresses; data(sec) is the writable mapped content
// of section sec. All-or-nothing is the caller's job: the first error
// aborts and the caller releases the batch's memory.
func Apply(obj *loader.ObjectFile, addrs []uint64, ok []bool, bases []uint64, data func(sec int) []byte) error {
	for _, rel := range obj.Relocs {
		sym := &obj.Symbols[rel.Sym]
		if !ok[rel.Sym] {
			return &models.UnresolvedSymbolError{Symbol: sym.Name, Object: obj.Name}
		}
		buf := data(rel.Section)
		if buf == nil {
			return &models.MalformedObjectError{
				Object: obj.Name,
				Reason: "relocation site in zero-fill section " + obj.Sections[rel.Section].Name,
			}
		}
		S := addrs[rel.Sym]
		P := bases[rel.Section] + rel.Offset
		err := patch(buf[rel.Offset:], rel.Type, S, rel.Addend, P)
		switch err {
		case nil:
		case errOverflow:
			return &models.RelocationOverflowError{Object: obj.Name, Site: rel.Offset, Symbol: sym.Name}
		case errUnsupported:
			return &models.UnsupportedRelocationTypeError{Object: obj.Name, Type: rel.Type}
		case errTruncated:
			return &models.MalformedObjectError{
				Object: obj.Name,
				Reason: "relocation site extends past section end",
			}
		default:
			return err
		}
	}
	return nil
}
