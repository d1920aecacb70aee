// Package elfgen emits ELF64 relocatable objects: the same format the
// environment's compiler produces and the loader consumes. The bundling
// tooling uses it to synthesize support objects, and tests use it in
// place of checked-in binary fixtures.
package elfgen

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/strandos/loadstone/models"
)

const (
	ehdrSize = 64
	shdrSize = 64
	symSize  = 24
	relaSize = 24
)

type section struct {
	name  string
	kind  models.SectionKind
	data  []byte
	size  uint64
	align uint64
}

type symbol struct {
	name    string
	section int // builder section index, models.SecUndef for extern
	value   uint64
	size    uint64
	bind    models.SymBind
	kind    models.SymKind
}

type reloc struct {
	section int
	offset  uint64
	typ     uint32
	sym     string
	addend  int64
}

// Builder accumulates sections, symbols and relocations and serializes
// them as one ET_REL object.
type Builder struct {
	sections []section
	symbols  []symbol
	relocs   []reloc
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) addSection(name string, kind models.SectionKind, data []byte, size, align uint64) int {
	b.sections = append(b.sections, section{
		name: name, kind: kind, data: data, size: size, align: align,
	})
	return len(b.sections) - 1
}

// Text adds a code section and returns its section handle.
func (b *Builder) Text(code []byte) int {
	return b.addSection(".text", models.SecCode, code, uint64(len(code)), 16)
}

func (b *Builder) Rodata(data []byte) int {
	return b.addSection(".rodata", models.SecROData, data, uint64(len(data)), 8)
}

func (b *Builder) Data(data []byte) int {
	return b.addSection(".data", models.SecData, data, uint64(len(data)), 8)
}

func (b *Builder) Bss(size uint64) int {
	return b.addSection(".bss", models.SecBss, nil, size, 8)
}

// Symbol defines a symbol at sec+off. Section handles come from the
// section methods above.
func (b *Builder) Symbol(name string, sec int, off, size uint64, bind models.SymBind, kind models.SymKind) {
	b.symbols = append(b.symbols, symbol{
		name: name, section: sec, value: off, size: size, bind: bind, kind: kind,
	})
}

// Func defines a global function symbol.
func (b *Builder) Func(name string, sec int, off, size uint64) {
	b.Symbol(name, sec, off, size, models.BindGlobal, models.SymFunc)
}

// Extern declares an undefined reference.
func (b *Builder) Extern(name string) {
	b.symbols = append(b.symbols, symbol{
		name: name, section: models.SecUndef, bind: models.BindGlobal, kind: models.SymFunc,
	})
}

// ExternWeak declares an undefined weak reference.
func (b *Builder) ExternWeak(name string) {
	b.symbols = append(b.symbols, symbol{
		name: name, section: models.SecUndef, bind: models.BindWeak, kind: models.SymFunc,
	})
}

// Reloc records a relocation at sec+off against the named symbol.
func (b *Builder) Reloc(sec int, off uint64, typ elf.R_X86_64, sym string, addend int64) {
	b.relocs = append(b.relocs, reloc{
		section: sec, offset: off, typ: uint32(typ), sym: sym, addend: addend,
	})
}

type strtab struct {
	buf bytes.Buffer
	off map[string]uint32
}

func newStrtab() *strtab {
	t := &strtab{off: map[string]uint32{"": 0}}
	t.buf.WriteByte(0)
	return t
}

func (t *strtab) put(s string) uint32 {
	if off, ok := t.off[s]; ok {
		return off
	}
	off := uint32(t.buf.Len())
	t.off[s] = off
	t.buf.WriteString(s)
	t.buf.WriteByte(0)
	return off
}

func sectionFlags(kind models.SectionKind) uint64 {
	flags := uint64(elf.SHF_ALLOC)
	switch kind {
	case models.SecCode:
		flags |= uint64(elf.SHF_EXECINSTR)
	case models.SecData, models.SecBss:
		flags |= uint64(elf.SHF_WRITE)
	}
	return flags
}

func sectionType(kind models.SectionKind) uint32 {
	if kind == models.SecBss {
		return uint32(elf.SHT_NOBITS)
	}
	return uint32(elf.SHT_PROGBITS)
}

type shdr struct {
	Name      uint32
	Type      uint32
	Flags     uint64
	Addr      uint64
	Offset    uint64
	Size      uint64
	Link      uint32
	Info      uint32
	AddrAlign uint64
	EntSize   uint64
}

// Bytes serializes the object. Symbol table layout follows the ELF
// rule: the null entry, then locals, then globals/weaks, with sh_info
// pointing at the first non-local.
func (b *Builder) Bytes() ([]byte, error) {
	symstr := newStrtab()
	shstr := newStrtab()

	// locals first, remember final index per name for relocations
	var ordered []symbol
	for _, s := range b.symbols {
		if s.bind == models.BindLocal {
			ordered = append(ordered, s)
		}
	}
	firstGlobal := len(ordered) + 1
	for _, s := range b.symbols {
		if s.bind != models.BindLocal {
			ordered = append(ordered, s)
		}
	}
	symIdx := make(map[string]uint32, len(ordered))
	for i, s := range ordered {
		if _, dup := symIdx[s.name]; dup && s.name != "" {
			return nil, errors.Errorf("symbol %q defined twice in one object", s.name)
		}
		symIdx[s.name] = uint32(i + 1)
	}

	// section header order: NULL, contents, relas, symtab, strtab, shstrtab
	type pending struct {
		hdr  shdr
		data []byte
	}
	var out []pending
	out = append(out, pending{}) // NULL

	secHdrIdx := make([]uint16, len(b.sections))
	for i, sec := range b.sections {
		secHdrIdx[i] = uint16(len(out))
		out = append(out, pending{
			hdr: shdr{
				Name:      shstr.put(sec.name),
				Type:      sectionType(sec.kind),
				Flags:     sectionFlags(sec.kind),
				Size:      sec.size,
				AddrAlign: sec.align,
			},
			data: sec.data,
		})
	}

	// group relocations per target section
	relasBySec := make(map[int][]reloc)
	for _, r := range b.relocs {
		if r.section < 0 || r.section >= len(b.sections) {
			return nil, errors.Errorf("relocation targets unknown section %d", r.section)
		}
		relasBySec[r.section] = append(relasBySec[r.section], r)
	}

	symtabHdrIdx := uint32(len(out) + len(relasBySec))
	for i, sec := range b.sections {
		rels := relasBySec[i]
		if len(rels) == 0 {
			continue
		}
		var buf bytes.Buffer
		for _, r := range rels {
			idx, ok := symIdx[r.sym]
			if !ok {
				return nil, errors.Errorf("relocation references unknown symbol %q", r.sym)
			}
			binary.Write(&buf, binary.LittleEndian, r.offset)
			binary.Write(&buf, binary.LittleEndian, uint64(idx)<<32|uint64(r.typ))
			binary.Write(&buf, binary.LittleEndian, r.addend)
		}
		out = append(out, pending{
			hdr: shdr{
				Name:      shstr.put(".rela" + sec.name),
				Type:      uint32(elf.SHT_RELA),
				Flags:     uint64(elf.SHF_INFO_LINK),
				Size:      uint64(buf.Len()),
				Link:      symtabHdrIdx,
				Info:      uint32(secHdrIdx[i]),
				AddrAlign: 8,
				EntSize:   relaSize,
			},
			data: buf.Bytes(),
		})
	}

	// symbol table
	var symbuf bytes.Buffer
	symbuf.Write(make([]byte, symSize)) // null entry
	for _, s := range ordered {
		var info uint8
		switch s.bind {
		case models.BindGlobal:
			info = uint8(elf.STB_GLOBAL) << 4
		case models.BindWeak:
			info = uint8(elf.STB_WEAK) << 4
		}
		if s.section != models.SecUndef {
			if s.kind == models.SymFunc {
				info |= uint8(elf.STT_FUNC)
			} else {
				info |= uint8(elf.STT_OBJECT)
			}
		}
		shndx := uint16(elf.SHN_UNDEF)
		if s.section != models.SecUndef {
			shndx = secHdrIdx[s.section]
		}
		binary.Write(&symbuf, binary.LittleEndian, symstr.put(s.name))
		symbuf.WriteByte(info)
		symbuf.WriteByte(0)
		binary.Write(&symbuf, binary.LittleEndian, shndx)
		binary.Write(&symbuf, binary.LittleEndian, s.value)
		binary.Write(&symbuf, binary.LittleEndian, s.size)
	}
	strtabHdrIdx := symtabHdrIdx + 1
	out = append(out, pending{
		hdr: shdr{
			Name:      shstr.put(".symtab"),
			Type:      uint32(elf.SHT_SYMTAB),
			Size:      uint64(symbuf.Len()),
			Link:      strtabHdrIdx,
			Info:      uint32(firstGlobal),
			AddrAlign: 8,
			EntSize:   symSize,
		},
		data: symbuf.Bytes(),
	})
	out = append(out, pending{
		hdr: shdr{
			Name:      shstr.put(".strtab"),
			Type:      uint32(elf.SHT_STRTAB),
			Size:      uint64(symstr.buf.Len()),
			AddrAlign: 1,
		},
		data: symstr.buf.Bytes(),
	})
	shstrName := shstr.put(".shstrtab")
	out = append(out, pending{
		hdr: shdr{
			Name:      shstrName,
			Type:      uint32(elf.SHT_STRTAB),
			Size:      uint64(shstr.buf.Len()),
			AddrAlign: 1,
		},
		data: shstr.buf.Bytes(),
	})

	// lay out file contents
	var file bytes.Buffer
	file.Write(make([]byte, ehdrSize))
	for i := range out {
		p := &out[i]
		if p.hdr.Type == uint32(elf.SHT_NOBITS) || len(p.data) == 0 && i == 0 {
			continue
		}
		align := p.hdr.AddrAlign
		if align > 1 {
			for uint64(file.Len())%align != 0 {
				file.WriteByte(0)
			}
		}
		p.hdr.Offset = uint64(file.Len())
		file.Write(p.data)
	}
	for uint64(file.Len())%8 != 0 {
		file.WriteByte(0)
	}
	shoff := uint64(file.Len())
	for i := range out {
		binary.Write(&file, binary.LittleEndian, out[i].hdr)
	}

	// back-patch the ELF header
	raw := file.Bytes()
	ident := []byte{0x7f, 'E', 'L', 'F',
		byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT),
		0, 0, 0, 0, 0, 0, 0, 0, 0}
	copy(raw, ident)
	le := binary.LittleEndian
	le.PutUint16(raw[16:], uint16(elf.ET_REL))
	le.PutUint16(raw[18:], uint16(elf.EM_X86_64))
	le.PutUint32(raw[20:], uint32(elf.EV_CURRENT))
	le.PutUint64(raw[40:], shoff)
	le.PutUint16(raw[52:], ehdrSize)
	le.PutUint16(raw[58:], shdrSize)
	le.PutUint16(raw[60:], uint16(len(out)))
	le.PutUint16(raw[62:], uint16(len(out)-1))
	return raw, nil
}
