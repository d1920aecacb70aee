//go:build linux && amd64

package loadstone

import (
	"debug/elf"
	"testing"

	"github.com/strandos/loadstone/elfgen"
	"github.com/strandos/loadstone/exec"
	"github.com/strandos/loadstone/mem"
	"github.com/strandos/loadstone/models"
)

func newHostSession(t *testing.T) *Session {
	t.Helper()
	h, err := mem.NewHostMap()
	if err != nil {
		t.Fatal(err)
	}
	return NewSession(h, nil)
}

func TestInvokeExport(t *testing.T) {
	s := newHostSession(t)
	defer s.Close()

	mustLoad(t, s, Input{Name: "def.o", Data: defObj(t)})
	f, ok := s.LookupExport("f")
	if !ok {
		t.Fatal("f not published")
	}
	ret, err := exec.Call(f.Addr, 41)
	if err != nil {
		t.Fatal(err)
	}
	if ret != 42 {
		t.Fatalf("f(41) = %d, want 42", ret)
	}
}

func TestInvokeCrossModuleCall(t *testing.T) {
	s := newHostSession(t)
	defer s.Close()

	mustLoad(t, s, Input{Name: "def.o", Data: defObj(t)})

	// call f; inc eax; ret
	caller := build(t, func(b *elfgen.Builder) {
		text := b.Text([]byte{
			0xe8, 0x00, 0x00, 0x00, 0x00, // call rel32
			0xff, 0xc0, // inc eax
			0xc3, // ret
		})
		b.Func("g", text, 0, 8)
		b.Extern("f")
		b.Reloc(text, 1, elf.R_X86_64_PLT32, "f", -4)
	})
	mustLoad(t, s, Input{Name: "caller.o", Data: caller})

	g, _ := s.LookupExport("g")
	ret, err := exec.Call(g.Addr, 10)
	if err != nil {
		t.Fatal(err)
	}
	if ret != 12 {
		t.Fatalf("g(10) = %d, want 12", ret)
	}
}

func TestInvokeDataAccess(t *testing.T) {
	s := newHostSession(t)
	defer s.Close()

	obj := build(t, func(b *elfgen.Builder) {
		// movabs rax, &answer; mov eax, [rax]; ret
		text := b.Text([]byte{
			0x48, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, // movabs rax, imm64
			0x8b, 0x00, // mov eax, [rax]
			0xc3, // ret
		})
		data := b.Data([]byte{42, 0, 0, 0})
		b.Func("read_answer", text, 0, 13)
		b.Symbol("answer", data, 0, 4, models.BindGlobal, models.SymData)
		b.Reloc(text, 2, elf.R_X86_64_64, "answer", 0)
	})
	mustLoad(t, s, Input{Name: "data.o", Data: obj})

	fn, _ := s.LookupExport("read_answer")
	ret, err := exec.Call(fn.Addr)
	if err != nil {
		t.Fatal(err)
	}
	if ret != 42 {
		t.Fatalf("read_answer() = %d, want 42", ret)
	}
}

func TestInvokeEntry(t *testing.T) {
	s := newHostSession(t)
	defer s.Close()

	obj := build(t, func(b *elfgen.Builder) {
		// mov eax, 7; ret
		text := b.Text([]byte{0xb8, 0x07, 0x00, 0x00, 0x00, 0xc3})
		b.Func("_start", text, 0, 6)
	})
	m := mustLoad(t, s, Input{Name: "start.o", Data: obj})[0]
	if m.Entry == 0 {
		t.Fatal("no entry")
	}
	ret, err := exec.Call(m.Entry)
	if err != nil {
		t.Fatal(err)
	}
	if ret != 7 {
		t.Fatalf("_start() = %d, want 7", ret)
	}
}
