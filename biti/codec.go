package biti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// The on-disk archive is a gzip stream holding the magic byte sequence, the
// fingerprint of the BAM file the forest was built over, and the forest
// encoding.
//
// The forest encoding is language-neutral and deterministic: a u64
// little-endian tree count, then per tree a 1-byte presence tag followed, if
// present, by its root node. Each node is its start (u32 LE), end (u32 LE),
// a 1-byte has-left tag, the left subtree, a 1-byte has-right tag, the right
// subtree, and its bookmark (i64 LE).
var bitMagic = []byte{
	'B', 'I', 'T', 'I', 0x01, 0xe2, 0x4d, 0x9a,
	0x31, 0x70, 0x5f, 0x8c, 0x46, 0xd3, 0x0b, 0x27,
}

// IndexSuffix is appended to a BAM file name to form its index file name.
const IndexSuffix = ".bit"

// Fingerprint ties an index archive to the BAM file it was built over.
// Bookmarks are byte offsets into one specific file, so a loaded forest is
// rejected when its fingerprint does not match the file being queried.
type Fingerprint struct {
	Header uint64 // seahash of the header text
	Length int64  // byte length of the BAM file
}

// Marshal writes the forest encoding to w.
func (f *Forest) Marshal(w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(len(f.Trees)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	for _, t := range f.Trees {
		if err := marshalTagged(w, t); err != nil {
			return err
		}
	}
	return nil
}

func marshalTagged(w io.Writer, n *IntervalNode) error {
	if n == nil {
		_, err := w.Write([]byte{0})
		return err
	}
	if _, err := w.Write([]byte{1}); err != nil {
		return err
	}
	return marshalNode(w, n)
}

func marshalNode(w io.Writer, n *IntervalNode) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], n.Start)
	binary.LittleEndian.PutUint32(buf[4:], n.End)
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if err := marshalTagged(w, n.Left); err != nil {
		return err
	}
	if err := marshalTagged(w, n.Right); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf[:], uint64(n.Bookmark))
	_, err := w.Write(buf[:])
	return err
}

// Unmarshal decodes a forest encoding from r. Decoding failures, including a
// stream that ends mid-node or a presence tag other than 0 or 1, yield
// ErrCorruptIndex.
func Unmarshal(r io.Reader) (*Forest, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, corrupt(err, "tree count")
	}
	count := binary.LittleEndian.Uint64(buf[:])
	const maxTrees = 1 << 24 // far above any real reference count
	if count > maxTrees {
		return nil, errors.Wrapf(ErrCorruptIndex, "implausible tree count %d", count)
	}
	f := &Forest{Trees: make([]*IntervalNode, count)}
	for i := range f.Trees {
		t, err := unmarshalTagged(r)
		if err != nil {
			return nil, err
		}
		f.Trees[i] = t
	}
	return f, nil
}

func unmarshalTagged(r io.Reader) (*IntervalNode, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return nil, corrupt(err, "presence tag")
	}
	switch tag[0] {
	case 0:
		return nil, nil
	case 1:
		return unmarshalNode(r)
	default:
		return nil, errors.Wrapf(ErrCorruptIndex, "presence tag %#x", tag[0])
	}
}

func unmarshalNode(r io.Reader) (*IntervalNode, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, corrupt(err, "node span")
	}
	n := &IntervalNode{
		Start: binary.LittleEndian.Uint32(buf[:4]),
		End:   binary.LittleEndian.Uint32(buf[4:]),
	}
	var err error
	if n.Left, err = unmarshalTagged(r); err != nil {
		return nil, err
	}
	if n.Right, err = unmarshalTagged(r); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, corrupt(err, "bookmark")
	}
	n.Bookmark = int64(binary.LittleEndian.Uint64(buf[:]))
	return n, nil
}

func corrupt(err error, what string) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return errors.Wrapf(ErrCorruptIndex, "stream ended reading %s", what)
	}
	return err
}

// WriteFile persists the forest at path. The write is atomic: the archive is
// staged in a temporary file beside path and renamed into place, so a
// partial index is never observable.
func WriteFile(path string, f *Forest, fp Fingerprint) (err error) {
	tmp, err := ioutil.TempFile(filepath.Dir(path), ".bamit-")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name()) // nolint: errcheck
		}
	}()
	if err = writeArchive(tmp, f, fp); err != nil {
		tmp.Close() // nolint: errcheck
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func writeArchive(w io.Writer, f *Forest, fp Fingerprint) error {
	bw := bufio.NewWriter(w)
	gz := gzip.NewWriter(bw)
	if _, err := gz.Write(bitMagic); err != nil {
		return err
	}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], fp.Header)
	binary.LittleEndian.PutUint64(buf[8:], uint64(fp.Length))
	if _, err := gz.Write(buf[:]); err != nil {
		return err
	}
	if err := f.Marshal(gz); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return bw.Flush()
}

// ReadFile loads the forest archive at path and verifies that it was built
// over the file identified by want. Mismatched archives fail with
// ErrCorruptIndex rather than returning offsets into the wrong file.
func ReadFile(path string, want Fingerprint) (*Forest, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close() // nolint: errcheck
	return readArchive(bufio.NewReader(in), want)
}

func readArchive(r io.Reader, want Fingerprint) (*Forest, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrapf(ErrCorruptIndex, "archive is not gzip: %v", err)
	}
	defer gz.Close() // nolint: errcheck

	buf := make([]byte, len(bitMagic))
	if _, err := io.ReadFull(gz, buf); err != nil {
		return nil, corrupt(err, "magic")
	}
	if !bytes.Equal(buf, bitMagic) {
		return nil, errors.Wrapf(ErrCorruptIndex, "unexpected magic %x", buf)
	}
	var fpBuf [16]byte
	if _, err := io.ReadFull(gz, fpBuf[:]); err != nil {
		return nil, corrupt(err, "fingerprint")
	}
	got := Fingerprint{
		Header: binary.LittleEndian.Uint64(fpBuf[:8]),
		Length: int64(binary.LittleEndian.Uint64(fpBuf[8:])),
	}
	if got != want {
		return nil, errors.Wrapf(ErrCorruptIndex,
			"index fingerprint %+v does not match alignment file %+v", got, want)
	}
	return Unmarshal(gz)
}
