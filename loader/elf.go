package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"

	"github.com/strandos/loadstone/models"
)

var elfMagic = []byte{0x7f, 0x45, 0x4c, 0x46}

const relaEntrySize = 24

// MatchObject reports whether b starts with the object format's magic.
func MatchObject(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], elfMagic)
}

func malformed(name, reason string) error {
	return &models.MalformedObjectError{Object: name, Reason: reason}
}

// Parse validates and parses one ELF64 relocatable object. It fails
// with MalformedObject before any memory is touched.
func Parse(name string, b []byte) (*ObjectFile, error) {
	if len(b) < 16 {
		return nil, malformed(name, "truncated header")
	}
	if !MatchObject(b) {
		return nil, malformed(name, "bad magic")
	}
	if elf.Class(b[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return nil, malformed(name, "unsupported class (need ELF64)")
	}
	if elf.Data(b[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, malformed(name, "unsupported byte order (need little-endian)")
	}

	f, err := elf.NewFile(bytes.NewReader(b))
	if err != nil {
		return nil, malformed(name, fmt.Sprintf("truncated or inconsistent tables: %v", err))
	}
	defer f.Close()

	if f.Type != elf.ET_REL {
		return nil, malformed(name, fmt.Sprintf("not a relocatable object (type %s)", f.Type))
	}
	if f.Machine != elf.EM_X86_64 {
		return nil, malformed(name, fmt.Sprintf("unsupported machine %s", f.Machine))
	}

	o := &ObjectFile{Name: name}

	// Allocatable sections become segments; everything else (debug
	// info, notes, the symbol/string/relocation tables themselves) is
	// consumed here and never mapped.
	secMap := make(map[elf.SectionIndex]int)
	for i, sec := range f.Sections {
		if sec.Flags&elf.SHF_ALLOC == 0 {
			continue
		}
		kind := classifySection(sec)
		var data []byte
		if sec.Type != elf.SHT_NOBITS {
			data, err = sec.Data()
			if err != nil {
				return nil, malformed(name, fmt.Sprintf("truncated section %q", sec.Name))
			}
			if uint64(len(data)) != sec.Size {
				return nil, malformed(name, fmt.Sprintf("section %q shorter than header claims", sec.Name))
			}
		}
		align := sec.Addralign
		if align == 0 {
			align = 1
		}
		secMap[elf.SectionIndex(i)] = len(o.Sections)
		o.Sections = append(o.Sections, models.Section{
			Name:  sec.Name,
			Kind:  kind,
			Data:  data,
			Size:  sec.Size,
			Align: align,
		})
	}

	if err := parseSymbols(name, f, o, secMap); err != nil {
		return nil, err
	}
	if err := parseRelocs(name, f, o, secMap); err != nil {
		return nil, err
	}
	return o, nil
}

func classifySection(sec *elf.Section) models.SectionKind {
	switch {
	case sec.Flags&elf.SHF_EXECINSTR != 0:
		return models.SecCode
	case sec.Type == elf.SHT_NOBITS:
		return models.SecBss
	case sec.Flags&elf.SHF_WRITE != 0:
		return models.SecData
	default:
		return models.SecROData
	}
}

// parseSymbols carries every symtab entry over at its original index
// (minus the leading null entry, which debug/elf drops) so relocation
// entries can keep referring to symbols by index.
func parseSymbols(name string, f *elf.File, o *ObjectFile, secMap map[elf.SectionIndex]int) error {
	syms, err := f.Symbols()
	if err == elf.ErrNoSymbols {
		return nil
	}
	if err != nil {
		return malformed(name, fmt.Sprintf("bad symbol table: %v", err))
	}

	o.Symbols = make([]models.Symbol, len(syms))
	for i, sym := range syms {
		typ := elf.ST_TYPE(sym.Info)
		out := models.Symbol{
			Name:  sym.Name,
			Value: sym.Value,
			Size:  sym.Size,
			Kind:  models.SymData,
		}
		if typ == elf.STT_FUNC {
			out.Kind = models.SymFunc
		}
		switch elf.ST_BIND(sym.Info) {
		case elf.STB_GLOBAL:
			out.Bind = models.BindGlobal
		case elf.STB_WEAK:
			out.Bind = models.BindWeak
		default:
			out.Bind = models.BindLocal
		}
		switch sym.Section {
		case elf.SHN_UNDEF:
			out.Section = models.SecUndef
		case elf.SHN_ABS:
			out.Section = SecAbs
		case elf.SHN_COMMON:
			return malformed(name, fmt.Sprintf("common symbol %q (compile with -fno-common)", sym.Name))
		default:
			idx, ok := secMap[sym.Section]
			if !ok {
				out.Section = SecIgnored
			} else {
				out.Section = idx
				if typ == elf.STT_SECTION && out.Name == "" {
					out.Name = o.Sections[idx].Name
				}
			}
		}
		o.Symbols[i] = out
	}
	return nil
}

// relocWidth is the patched field width for bound checking the site
// against its section. Unknown kinds get 0 here so they reach the
// engine and fail as UnsupportedRelocationType, not MalformedObject.
func relocWidth(typ uint32) uint64 {
	switch elf.R_X86_64(typ) {
	case elf.R_X86_64_64, elf.R_X86_64_PC64:
		return 8
	case elf.R_X86_64_32, elf.R_X86_64_32S, elf.R_X86_64_PC32, elf.R_X86_64_PLT32:
		return 4
	default:
		return 0
	}
}

func parseRelocs(name string, f *elf.File, o *ObjectFile, secMap map[elf.SectionIndex]int) error {
	for _, sec := range f.Sections {
		if sec.Type != elf.SHT_RELA {
			continue
		}
		target, ok := secMap[elf.SectionIndex(sec.Info)]
		if !ok {
			// relocations for unmapped sections (e.g. debug info)
			continue
		}
		data, err := sec.Data()
		if err != nil {
			return malformed(name, fmt.Sprintf("truncated relocation table %q", sec.Name))
		}
		if len(data)%relaEntrySize != 0 {
			return malformed(name, fmt.Sprintf("relocation table %q not a multiple of entry size", sec.Name))
		}
		for off := 0; off < len(data); off += relaEntrySize {
			ent := data[off : off+relaEntrySize]
			info := binary.LittleEndian.Uint64(ent[8:16])
			symIdx := int(info >> 32)
			rel := models.Reloc{
				Section: target,
				Offset:  binary.LittleEndian.Uint64(ent[0:8]),
				Type:    uint32(info),
				Sym:     symIdx - 1,
				Addend:  int64(binary.LittleEndian.Uint64(ent[16:24])),
			}
			size := o.Sections[target].Size
			if rel.Offset >= size || size-rel.Offset < relocWidth(rel.Type) {
				return malformed(name, fmt.Sprintf("relocation site %#x outside section %q", rel.Offset, o.Sections[target].Name))
			}
			if symIdx == 0 || rel.Sym >= len(o.Symbols) {
				return malformed(name, fmt.Sprintf("relocation references symbol index %d out of range", symIdx))
			}
			o.Relocs = append(o.Relocs, rel)
		}
	}
	return nil
}
