// Package archive reads and writes module bundles: several relocatable
// objects packed into one file so a multi-object program can be shipped
// and loaded as a single batch. The payload is snappy-framed; objects
// keep their batch order.
package archive

import (
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/lunixbochs/struc"
	"github.com/pkg/errors"
)

var BUNDLE_MAGIC = "LSAR"

const bundleVersion = 1

// maxEntrySize bounds one object's payload. Entry sizes come off the
// wire; anything past this is a corrupt or hostile bundle, not an
// object the loader could map anyway.
const maxEntrySize = 64 << 20

type BundleHeader struct {
	// MAGIC ("LSAR")
	Magic string `struc:"[4]byte" json:"-"`
	// file format version
	Version uint32 `json:"version"`
	// number of objects in the payload
	Count uint32 `json:"count"`
}

type entryHeader struct {
	NameLen uint16 `struc:"uint16,sizeof=Name"`
	Name    string
	Size    uint64
}

// Entry is one object pulled out of a bundle.
type Entry struct {
	Name string
	Data []byte
}

type BundleWriter struct {
	w     io.WriteCloser
	zw    *snappy.Writer
	count uint32
	want  uint32
}

// NewWriter writes the bundle header for count objects and returns a
// writer for the compressed payload. Add must then be called exactly
// count times.
func NewWriter(w io.WriteCloser, count int) (*BundleWriter, error) {
	header := &BundleHeader{
		Magic:   BUNDLE_MAGIC,
		Version: bundleVersion,
		Count:   uint32(count),
	}
	if err := struc.Pack(w, header); err != nil {
		return nil, errors.Wrap(err, "failed to pack header")
	}
	zw := snappy.NewBufferedWriter(w)
	return &BundleWriter{w: w, zw: zw, want: uint32(count)}, nil
}

// Add appends one object to the payload.
func (b *BundleWriter) Add(name string, data []byte) error {
	if b.count >= b.want {
		return errors.Errorf("bundle already holds %d objects", b.want)
	}
	hdr := &entryHeader{Name: name, Size: uint64(len(data))}
	if err := struc.Pack(b.zw, hdr); err != nil {
		return errors.Wrapf(err, "failed to pack entry %q", name)
	}
	if _, err := b.zw.Write(data); err != nil {
		return errors.Wrapf(err, "failed to write entry %q", name)
	}
	b.count++
	return nil
}

func (b *BundleWriter) Close() error {
	if b.count != b.want {
		b.zw.Close()
		b.w.Close()
		return errors.Errorf("bundle holds %d of %d objects", b.count, b.want)
	}
	if err := b.zw.Close(); err != nil {
		return err
	}
	return b.w.Close()
}

type BundleReader struct {
	r      io.ReadCloser
	zr     *snappy.Reader
	Header BundleHeader

	read uint32
}

func NewReader(r io.ReadCloser) (*BundleReader, error) {
	b := &BundleReader{r: r}
	if err := struc.Unpack(r, &b.Header); err != nil {
		return nil, errors.Wrap(err, "failed to unpack header")
	}
	if b.Header.Magic != BUNDLE_MAGIC {
		return nil, errors.New("invalid bundle magic")
	}
	if b.Header.Version != bundleVersion {
		return nil, errors.Errorf("unsupported bundle version %d", b.Header.Version)
	}
	b.zr = snappy.NewReader(r)
	return b, nil
}

// Next returns the next object, or io.EOF after the last one.
func (b *BundleReader) Next() (*Entry, error) {
	if b.read >= b.Header.Count {
		return nil, io.EOF
	}
	var hdr entryHeader
	if err := struc.Unpack(b.zr, &hdr); err != nil {
		return nil, errors.Wrap(err, "failed to unpack entry header")
	}
	name := strings.TrimRight(hdr.Name, "\x00")
	if hdr.Size > maxEntrySize {
		return nil, errors.Errorf("corrupt bundle: entry %q claims %#x bytes", name, hdr.Size)
	}
	data := make([]byte, hdr.Size)
	if _, err := io.ReadFull(b.zr, data); err != nil {
		return nil, errors.Wrapf(err, "failed to read entry %q", name)
	}
	b.read++
	return &Entry{Name: name, Data: data}, nil
}

// All drains the remaining entries.
func (b *BundleReader) All() ([]*Entry, error) {
	var out []*Entry
	for {
		e, err := b.Next()
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

func (b *BundleReader) Close() {
	b.zr.Reset(nil)
	b.r.Close()
}
