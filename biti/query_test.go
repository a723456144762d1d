package biti

import (
	"testing"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// One reference, four overlapping reads.
func singleRefFixture(t *testing.T) ([]byte, *Forest) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000))
	data := testBAM(t, header, []testRead{
		{name: "r1", ref: 0, pos: 18, cigar: cigarM(119)},  // [18, 137]
		{name: "r2", ref: 0, pos: 43, cigar: cigarM(188)},  // [43, 231]
		{name: "r3", ref: 0, pos: 146, cigar: cigarM(102)}, // [146, 248]
		{name: "r4", ref: 0, pos: 157, cigar: cigarM(200)}, // [157, 357]
	})
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)
	return data, forest
}

func TestOverlapSingleRef(t *testing.T) {
	data, forest := singleRefFixture(t)
	tests := []struct {
		qs, qe int32
		want   []string
	}{
		{100, 110, []string{"r1", "r2"}},
		{140, 150, []string{"r2", "r3"}},
		{0, 18, []string{"r1"}},     // touches r1's start only
		{137, 137, []string{"r1", "r2"}}, // point at r1's footprint end
		{250, 300, []string{"r4"}},
		{0, 2000, []string{"r1", "r2", "r3", "r4"}},
	}
	for _, test := range tests {
		got := scanNames(t, testStream(t, data), forest, [2]int32{0, test.qs}, [2]int32{0, test.qe})
		assert.Equal(t, test.want, got, "query [%d, %d]", test.qs, test.qe)
	}
}

func TestOverlapBeforeFirstRecord(t *testing.T) {
	data, forest := singleRefFixture(t)
	// Entirely before the first record: no node can contain an overlap and
	// the candidate stays -1.
	assert.Equal(t, int64(-1), forest.Candidate(coordOf(0, 0), coordOf(0, 10)))
	assert.Empty(t, scanNames(t, testStream(t, data), forest, [2]int32{0, 0}, [2]int32{0, 10}))
}

func TestOverlapAfterLastRecord(t *testing.T) {
	data, forest := singleRefFixture(t)
	assert.Equal(t, int64(-1), forest.Candidate(coordOf(0, 400), coordOf(0, 1999)))
	assert.Empty(t, scanNames(t, testStream(t, data), forest, [2]int32{0, 400}, [2]int32{0, 1999}))
}

func TestOverlapGapBetweenRecords(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000))
	data := testBAM(t, header, []testRead{
		{name: "a", ref: 0, pos: 100, cigar: cigarM(50)}, // [100, 150]
		{name: "b", ref: 0, pos: 500, cigar: cigarM(50)}, // [500, 550]
	})
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)
	assert.Empty(t, scanNames(t, testStream(t, data), forest, [2]int32{0, 200}, [2]int32{0, 400}))
}

// A short read that ends before the query start can sit between the
// candidate and the query window in a start-sorted stream; it must not be
// emitted, while the long read spanning it must be.
func TestOverlapSoundnessAndCompleteness(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000))
	data := testBAM(t, header, []testRead{
		{name: "A", ref: 0, pos: 5, cigar: cigarM(15)}, // [5, 20]
		{name: "g", ref: 0, pos: 6, cigar: cigarM(1)},  // [6, 7]
		{name: "B", ref: 0, pos: 8, cigar: cigarM(1)},  // [8, 9]
		{name: "C", ref: 0, pos: 14, cigar: cigarM(2)}, // [14, 16]
		{name: "D", ref: 0, pos: 21, cigar: cigarM(9)}, // [21, 30]
	})
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)

	got := scanNames(t, testStream(t, data), forest, [2]int32{0, 8}, [2]int32{0, 9})
	assert.Equal(t, []string{"A", "B"}, got)
}

func TestOverlapSingleRecordFile(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000))
	data := testBAM(t, header, []testRead{
		{name: "only", ref: 0, pos: 100, cigar: cigarM(50)}, // [100, 150]
	})
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)

	assert.Equal(t, []string{"only"},
		scanNames(t, testStream(t, data), forest, [2]int32{0, 100}, [2]int32{0, 150}))
	assert.Equal(t, []string{"only"},
		scanNames(t, testStream(t, data), forest, [2]int32{0, 150}, [2]int32{0, 150}))
	assert.Empty(t,
		scanNames(t, testStream(t, data), forest, [2]int32{0, 151}, [2]int32{0, 200}))
}

// Query straddling three references, with nothing overlapping on the first
// and nothing at all on the second: the driver advances to the third tree.
func TestOverlapAcrossReferences(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000, 2000, 1000))
	data := testBAM(t, header, []testRead{
		{name: "a1", ref: 0, pos: 100, cigar: cigarM(50)}, // [100, 150]
		{name: "c1", ref: 2, pos: 40, cigar: cigarM(20)},  // [40, 60]
		{name: "c2", ref: 2, pos: 120, cigar: cigarM(20)}, // [120, 140]
		{name: "c3", ref: 2, pos: 300, cigar: cigarM(20)}, // [300, 320]
	})
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)

	got := scanNames(t, testStream(t, data), forest, [2]int32{0, 1500}, [2]int32{2, 150})
	assert.Equal(t, []string{"c1", "c2"}, got)

	// With an overlap on the first reference, iteration runs across the
	// reference gap in stream order.
	got = scanNames(t, testStream(t, data), forest, [2]int32{0, 120}, [2]int32{2, 50})
	assert.Equal(t, []string{"a1", "c1"}, got)
}

func TestOverlapEmptyFile(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000, 1000))
	data := testBAM(t, header, nil)
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)
	assert.Empty(t, scanNames(t, testStream(t, data), forest, [2]int32{0, 0}, [2]int32{1, 999}))
}

func TestOverlapSkipsUnmappedRecords(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 2000))
	data := testBAM(t, header, []testRead{
		{name: "a", ref: 0, pos: 100, cigar: cigarM(50)},
		{name: "u1", unmapped: true},
		{name: "u2", unmapped: true},
	})
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)
	got := scanNames(t, testStream(t, data), forest, [2]int32{0, 100}, [2]int32{0, 1999})
	assert.Equal(t, []string{"a"}, got)
}

func TestOverlapInvalidBounds(t *testing.T) {
	data, forest := singleRefFixture(t)
	s := testStream(t, data)

	iter := NewIterator(s, forest, coordOf(0, 200), coordOf(0, 100))
	assert.False(t, iter.Scan())
	assert.Equal(t, ErrInvalidArgument, errors.Cause(iter.Err()))

	iter = NewIterator(s, forest, coordOf(-1, 0), coordOf(0, 100))
	assert.False(t, iter.Scan())
	assert.Equal(t, ErrInvalidArgument, errors.Cause(iter.Err()))

	iter = NewIterator(s, forest, coordOf(0, 0), coordOf(5, 100))
	assert.False(t, iter.Scan())
	assert.Equal(t, ErrInvalidArgument, errors.Cause(iter.Err()))
}

// The emitted sequence is the overlapping, mapped subsequence of the input
// stream, in input order.
func TestOverlapStreamOrderStability(t *testing.T) {
	header := testHeader(t, sam.Coordinate, testRefs(t, 5000))
	reads := []testRead{}
	type iv struct {
		name       string
		start, end int32
	}
	ivs := []iv{}
	pos := int32(0)
	for i := 0; i < 60; i++ {
		pos += int32(i % 7 * 13)
		length := int32(10 + (i*37)%140)
		name := "x" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		reads = append(reads, testRead{name: name, ref: 0, pos: int(pos), cigar: cigarM(int(length))})
		ivs = append(ivs, iv{name, pos, pos + length})
	}
	data := testBAM(t, header, reads)
	forest, err := Build(testStream(t, data))
	require.NoError(t, err)

	for _, q := range [][2]int32{{0, 100}, {150, 400}, {777, 779}, {0, 5000}} {
		qs, qe := q[0], q[1]
		want := []string{}
		for _, v := range ivs {
			if v.start <= qe && v.end >= qs {
				want = append(want, v.name)
			}
		}
		got := scanNames(t, testStream(t, data), forest, [2]int32{0, qs}, [2]int32{0, qe})
		assert.Equal(t, want, got, "query [%d, %d]", qs, qe)
	}
}
