package biti

import (
	"context"
	"io"

	"blainsmith.com/go/seahash"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

// Stream is a positioned handle on a BAM record stream. It yields records
// together with their bookmarks and can re-seek to any bookmark it handed
// out. A Stream carries mutable seek state and must not be shared across
// concurrent queries; open one Stream per query driver.
type Stream struct {
	in     file.File // nil when constructed over a caller-owned reader
	reader *bam.Reader
	header *sam.Header
	size   int64
	first  int64 // bookmark of the first record, right after the header
}

// Open opens the BAM file at path (local or S3) with the given
// decompression parallelism.
func Open(ctx context.Context, path string, threads int) (*Stream, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	info, err := in.Stat(ctx)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, err
	}
	s, err := NewStream(in.Reader(ctx), info.Size(), threads)
	if err != nil {
		in.Close(ctx) // nolint: errcheck
		return nil, err
	}
	s.in = in
	return s, nil
}

// NewStream wraps an in-memory or already-open BAM stream. size is the total
// byte length of the underlying file and becomes part of the index
// fingerprint. The reader must support seeking for bookmarks to be usable.
func NewStream(r io.Reader, size int64, threads int) (*Stream, error) {
	br, err := bam.NewReader(r, threads)
	if err != nil {
		return nil, err
	}
	return &Stream{
		reader: br,
		header: br.Header(),
		size:   size,
		first:  voffset(br.LastChunk().End),
	}, nil
}

// Header returns the BAM header.
func (s *Stream) Header() *sam.Header { return s.header }

// Read returns the next record and its bookmark. At end of stream it returns
// io.EOF.
func (s *Stream) Read() (*sam.Record, int64, error) {
	rec, err := s.reader.Read()
	if err != nil {
		return nil, -1, err
	}
	return rec, voffset(s.reader.LastChunk().Begin), nil
}

// Seek repositions the stream so that the next Read returns the record whose
// bookmark was given.
func (s *Stream) Seek(bookmark int64) error {
	return s.reader.Seek(asOffset(bookmark))
}

// Rewind repositions the stream on the first record.
func (s *Stream) Rewind() error {
	return s.reader.Seek(asOffset(s.first))
}

// Fingerprint identifies the exact file this stream reads. Bookmarks taken
// from one file are meaningless against any other, so persisted indexes
// carry the fingerprint of the file they were built over.
func (s *Stream) Fingerprint() (Fingerprint, error) {
	text, err := s.header.MarshalText()
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Header: seahash.Sum64(text), Length: s.size}, nil
}

// Close releases the reader and, for streams opened by Open, the underlying
// file.
func (s *Stream) Close(ctx context.Context) error {
	err := s.reader.Close()
	if s.in != nil {
		if cerr := s.in.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
		s.in = nil
	}
	return err
}

// A bookmark is a BGZF virtual offset packed into an int64: the compressed
// file offset in the upper 48 bits, the intra-block offset in the lower 16.
func voffset(o bgzf.Offset) int64 {
	return o.File<<16 | int64(o.Block)
}

func asOffset(v int64) bgzf.Offset {
	return bgzf.Offset{File: v >> 16, Block: uint16(v & 0xffff)}
}
