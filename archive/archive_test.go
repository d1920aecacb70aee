package archive

import (
	"bytes"
	"io"
	"testing"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
)

type bufCloser struct {
	*bytes.Buffer
}

func (b *bufCloser) Close() error { return nil }

func TestBundleRoundTrip(t *testing.T) {
	objects := []Entry{
		{Name: "a.o", Data: []byte{0x7f, 'E', 'L', 'F', 1, 2, 3}},
		{Name: "b.o", Data: bytes.Repeat([]byte{0xaa}, 4096)},
		{Name: "empty.o", Data: nil},
	}

	var buf bytes.Buffer
	w, err := NewWriter(&bufCloser{&buf}, len(objects))
	if err != nil {
		t.Fatal(err)
	}
	for _, o := range objects {
		if err := w.Add(o.Name, o.Data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(io.NopCloser(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if r.Header.Count != 3 {
		t.Fatalf("want 3 entries, got %d", r.Header.Count)
	}
	got, err := r.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(objects) {
		t.Fatalf("want %d entries, got %d", len(objects), len(got))
	}
	for i, o := range objects {
		if got[i].Name != o.Name {
			t.Errorf("entry %d: want name %q, got %q", i, o.Name, got[i].Name)
		}
		if !bytes.Equal(got[i].Data, o.Data) {
			t.Errorf("entry %d: payload differs", i)
		}
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("want EOF past last entry, got %v", err)
	}
}

func TestBundleBadMagic(t *testing.T) {
	data := []byte("NOPE\x00\x00\x00\x01\x00\x00\x00\x00")
	if _, err := NewReader(io.NopCloser(bytes.NewReader(data))); err == nil {
		t.Fatal("bad magic accepted")
	}
}

func TestBundleOversizedEntry(t *testing.T) {
	var buf bytes.Buffer
	if err := struc.Pack(&buf, &BundleHeader{Magic: BUNDLE_MAGIC, Version: bundleVersion, Count: 1}); err != nil {
		t.Fatal(err)
	}
	zw := snappy.NewBufferedWriter(&buf)
	if err := struc.Pack(zw, &entryHeader{Name: "big.o", Size: 1 << 62}); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(io.NopCloser(&buf))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Next(); err == nil {
		t.Fatal("oversized entry accepted")
	}
}

func TestBundleCountEnforced(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&bufCloser{&buf}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Add("only.o", []byte{1}); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err == nil {
		t.Fatal("short bundle accepted")
	}

	buf.Reset()
	w, _ = NewWriter(&bufCloser{&buf}, 1)
	w.Add("a.o", []byte{1})
	if err := w.Add("b.o", []byte{2}); err == nil {
		t.Fatal("overfull bundle accepted")
	}
}
