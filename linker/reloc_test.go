package linker

import (
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/strandos/loadstone/loader"
	"github.com/strandos/loadstone/models"
)

// relocObj builds a one-section object with a single relocation against
// an undefined symbol named ext.
func relocObj(typ elf.R_X86_64, off uint64, addend int64) *loader.ObjectFile {
	return &loader.ObjectFile{
		Name: "r.o",
		Sections: []models.Section{
			{Name: ".text", Kind: models.SecCode, Data: make([]byte, 16), Size: 16, Align: 16},
		},
		Symbols: []models.Symbol{
			{Name: "ext", Section: models.SecUndef, Bind: models.BindGlobal, Kind: models.SymFunc},
		},
		Relocs: []models.Reloc{
			{Section: 0, Offset: off, Type: uint32(typ), Sym: 0, Addend: addend},
		},
	}
}

func applyOne(t *testing.T, o *loader.ObjectFile, S, base uint64) ([]byte, error) {
	t.Helper()
	buf := make([]byte, 16)
	return buf, Apply(o, []uint64{S}, []bool{true}, []uint64{base}, func(int) []byte { return buf })
}

func TestApplyAbs64(t *testing.T) {
	o := relocObj(elf.R_X86_64_64, 4, 8)
	buf, err := applyOne(t, o, 0x11223344_55667788, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	if got := binary.LittleEndian.Uint64(buf[4:]); got != 0x11223344_55667790 {
		t.Fatalf("want S+A, got %#x", got)
	}
}

func TestApplyPC32(t *testing.T) {
	o := relocObj(elf.R_X86_64_PC32, 1, -4)
	buf, err := applyOne(t, o, 0x2000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	// S + A - P = 0x2000 - 4 - 0x1001
	if got := int32(binary.LittleEndian.Uint32(buf[1:])); got != 0xffb {
		t.Fatalf("want 0xffb, got %#x", got)
	}
}

func TestApplyPLT32BindsDirect(t *testing.T) {
	o := relocObj(elf.R_X86_64_PLT32, 1, -4)
	buf, err := applyOne(t, o, 0x800, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	// backwards call: S + A - P = 0x800 - 4 - 0x1001
	if got := int32(binary.LittleEndian.Uint32(buf[1:])); got != -0x805 {
		t.Fatalf("want -0x805, got %#x", got)
	}
}

func TestApply32Overflow(t *testing.T) {
	o := relocObj(elf.R_X86_64_32, 0, 0)
	_, err := applyOne(t, o, 0x1_0000_0000, 0x1000)
	e, ok := err.(*models.RelocationOverflowError)
	if !ok {
		t.Fatalf("want RelocationOverflow, got %v", err)
	}
	if e.Symbol != "ext" || e.Site != 0 {
		t.Fatalf("error context wrong: %v", e)
	}
}

func TestApply32SSignedRange(t *testing.T) {
	// 0x7fffffff fits, 0x80000000 does not
	o := relocObj(elf.R_X86_64_32S, 0, 0)
	if _, err := applyOne(t, o, 0x7fffffff, 0x1000); err != nil {
		t.Fatal(err)
	}
	if _, err := applyOne(t, o, 0x80000000, 0x1000); err == nil {
		t.Fatal("want overflow for 0x80000000")
	}
}

func TestApplyPC32Overflow(t *testing.T) {
	o := relocObj(elf.R_X86_64_PC32, 0, 0)
	_, err := applyOne(t, o, 0x1_0000_2000, 0x1000)
	if _, ok := err.(*models.RelocationOverflowError); !ok {
		t.Fatalf("want RelocationOverflow, got %v", err)
	}
}

func TestApplyUnsupportedType(t *testing.T) {
	o := relocObj(elf.R_X86_64_GOTPCREL, 0, 0)
	_, err := applyOne(t, o, 0x2000, 0x1000)
	e, ok := err.(*models.UnsupportedRelocationTypeError)
	if !ok {
		t.Fatalf("want UnsupportedRelocationType, got %v", err)
	}
	if e.Type != uint32(elf.R_X86_64_GOTPCREL) {
		t.Fatalf("wrong type in error: %d", e.Type)
	}
}

func TestApplyNone(t *testing.T) {
	o := relocObj(elf.R_X86_64_NONE, 0, 0)
	buf, err := applyOne(t, o, 0x2000, 0x1000)
	if err != nil {
		t.Fatal(err)
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatal("NONE relocation must not write")
		}
	}
}

func TestApplySiteTruncated(t *testing.T) {
	o := relocObj(elf.R_X86_64_64, 12, 0)
	_, err := applyOne(t, o, 0x2000, 0x1000)
	if _, ok := err.(*models.MalformedObjectError); !ok {
		t.Fatalf("want MalformedObject, got %v", err)
	}
}

func TestApplyZeroFillSite(t *testing.T) {
	o := relocObj(elf.R_X86_64_64, 0, 0)
	o.Sections[0] = models.Section{Name: ".bss", Kind: models.SecBss, Size: 16, Align: 8}
	err := Apply(o, []uint64{0x2000}, []bool{true}, []uint64{0x1000}, func(int) []byte { return nil })
	if _, ok := err.(*models.MalformedObjectError); !ok {
		t.Fatalf("want MalformedObject, got %v", err)
	}
}

func TestApplyUnaddressedSymbol(t *testing.T) {
	o := relocObj(elf.R_X86_64_64, 0, 0)
	err := Apply(o, []uint64{0}, []bool{false}, []uint64{0x1000}, func(int) []byte { return make([]byte, 16) })
	if _, ok := err.(*models.UnresolvedSymbolError); !ok {
		t.Fatalf("want UnresolvedSymbol, got %v", err)
	}
}
