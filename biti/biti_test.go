package biti

// Test fixtures are synthesized in memory: records are written through the
// real BAM writer into a buffer and read back through a Stream, so bookmarks
// and seeks behave exactly as they do against a file on disk.

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/grailbio/bamit/coord"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"github.com/stretchr/testify/require"
)

func coordOf(ref, pos int32) coord.Coord {
	return coord.Coord{RefID: ref, Pos: pos}
}

type testRead struct {
	name     string
	ref      int
	pos      int
	cigar    sam.Cigar
	unmapped bool
}

func cigarM(n int) sam.Cigar {
	return sam.Cigar{sam.NewCigarOp(sam.CigarMatch, n)}
}

func testRefs(t *testing.T, lens ...int) []*sam.Reference {
	refs := make([]*sam.Reference, len(lens))
	for i, n := range lens {
		ref, err := sam.NewReference(fmt.Sprintf("chr%d", i+1), "", "", n, nil, nil)
		require.NoError(t, err)
		refs[i] = ref
	}
	return refs
}

func testHeader(t *testing.T, so sam.SortOrder, refs []*sam.Reference) *sam.Header {
	header, err := sam.NewHeader(nil, refs)
	require.NoError(t, err)
	// Version must be set or the writer omits the @HD line entirely,
	// silently dropping SortOrder on the BAM round trip.
	header.Version = "1.5"
	header.SortOrder = so
	return header
}

func testBAM(t *testing.T, header *sam.Header, reads []testRead) []byte {
	var buf bytes.Buffer
	w, err := bam.NewWriter(&buf, header, 1)
	require.NoError(t, err)
	for _, r := range reads {
		rec := &sam.Record{Name: r.name, MapQ: 30, Pos: -1, MatePos: -1}
		if r.unmapped {
			rec.Flags = sam.Unmapped
		} else {
			rec.Ref = header.Refs()[r.ref]
			rec.Pos = r.pos
			rec.Cigar = r.cigar
			_, read := r.cigar.Lengths()
			rec.Seq = sam.NewSeq(bytes.Repeat([]byte{'A'}, read))
			rec.Qual = bytes.Repeat([]byte{40}, read)
		}
		require.NoError(t, w.Write(rec))
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func testStream(t *testing.T, data []byte) *Stream {
	s, err := NewStream(bytes.NewReader(data), int64(len(data)), 1)
	require.NoError(t, err)
	return s
}

// scanNames runs one overlap query and returns the names of the emitted
// records.
func scanNames(t *testing.T, s *Stream, f *Forest, qs, qe [2]int32) []string {
	iter := NewIterator(s, f,
		coordOf(qs[0], qs[1]), coordOf(qe[0], qe[1]))
	names := []string{}
	for iter.Scan() {
		names = append(names, iter.Record().Name)
	}
	require.NoError(t, iter.Close())
	return names
}
