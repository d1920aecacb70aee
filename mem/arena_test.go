package mem

import (
	"testing"

	"github.com/strandos/loadstone/models"
)

const pageSize = 0x1000

func newTestArena(t *testing.T, size uint64) *Arena {
	t.Helper()
	a, err := NewArena(0x10000, size, pageSize)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestArenaValidation(t *testing.T) {
	if _, err := NewArena(0x10000, 0x10000, 0x1001); err == nil {
		t.Fatal("non power of two page size accepted")
	}
	if _, err := NewArena(0, 0x10000, pageSize); err == nil {
		t.Fatal("zero base accepted")
	}
	if _, err := NewArena(0x10000, 0x1234, pageSize); err == nil {
		t.Fatal("non page-granular size accepted")
	}
}

func TestArenaMap(t *testing.T) {
	a := newTestArena(t, 0x10000)
	r, err := a.Map(100, 16)
	if err != nil {
		t.Fatal(err)
	}
	if r.Size != pageSize {
		t.Fatalf("want page-rounded size %#x, got %#x", pageSize, r.Size)
	}
	if r.Base%pageSize != 0 {
		t.Fatalf("region not page aligned: %#x", r.Base)
	}
	if len(r.Data) != int(r.Size) {
		t.Fatalf("backing size %d != region size %d", len(r.Data), r.Size)
	}
	if r.Prot != models.ProtRead|models.ProtWrite {
		t.Fatalf("fresh region should be rw-, got %s", models.ProtString(r.Prot))
	}
}

func TestArenaLargeAlignment(t *testing.T) {
	a := newTestArena(t, 0x100000)
	if _, err := a.Map(8, pageSize); err != nil {
		t.Fatal(err)
	}
	r, err := a.Map(8, 0x10000)
	if err != nil {
		t.Fatal(err)
	}
	if r.Base%0x10000 != 0 {
		t.Fatalf("alignment not honored: %#x", r.Base)
	}
}

func TestArenaAccounting(t *testing.T) {
	a := newTestArena(t, 0x10000)
	baseline := a.Free()
	if baseline != 0x10000 {
		t.Fatalf("fresh arena free: %#x", baseline)
	}
	r1, err := a.Map(pageSize+1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if free := a.Free(); free != baseline-2*pageSize {
		t.Fatalf("free after map: %#x", free)
	}
	r2, err := a.Map(1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Unmap(r1); err != nil {
		t.Fatal(err)
	}
	if err := a.Unmap(r2); err != nil {
		t.Fatal(err)
	}
	if free := a.Free(); free != baseline {
		t.Fatalf("free bytes leaked: %#x != %#x", free, baseline)
	}
	// coalescing must leave the full range mappable again
	if _, err := a.Map(0x10000, 0); err != nil {
		t.Fatalf("arena fragmented after unmap: %v", err)
	}
}

func TestArenaOutOfMemory(t *testing.T) {
	a := newTestArena(t, 0x2000)
	_, err := a.Map(0x3000, 0)
	if !models.IsOutOfMemory(err) {
		t.Fatalf("want OutOfMemory, got %v", err)
	}
	e := err.(*models.OutOfMemoryError)
	if e.Requested != 0x3000 || e.Free != 0x2000 {
		t.Fatalf("error context wrong: %v", e)
	}
	// a failed map must not consume anything
	if a.Free() != 0x2000 {
		t.Fatal("failed map consumed space")
	}
}

func TestArenaProtectOneWay(t *testing.T) {
	a := newTestArena(t, 0x10000)
	r, err := a.Map(16, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Protect(r, models.ProtExec); err != nil {
		t.Fatal(err)
	}
	if !r.Sealed() || r.Prot != models.ProtExec {
		t.Fatal("protection not finalized")
	}
	if err := a.Protect(r, models.ProtRead|models.ProtWrite); err == nil {
		t.Fatal("second transition accepted")
	}
}

func TestArenaNeverWX(t *testing.T) {
	a := newTestArena(t, 0x10000)
	r, err := a.Map(16, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Protect(r, models.ProtRead|models.ProtWrite|models.ProtExec); err == nil {
		t.Fatal("writable+executable accepted")
	}
}

func TestArenaDoubleUnmap(t *testing.T) {
	a := newTestArena(t, 0x10000)
	r, _ := a.Map(16, 0)
	if err := a.Unmap(r); err != nil {
		t.Fatal(err)
	}
	if err := a.Unmap(r); err == nil {
		t.Fatal("double unmap accepted")
	}
}
