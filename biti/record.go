package biti

import (
	"github.com/grailbio/hts/sam"
)

// Record is the projection of one mapped alignment: its footprint on the
// reference and the bookmark needed to re-seek the stream onto it.
type Record struct {
	Start, End uint32
	Bookmark   int64
}

// cigarFootprint returns the number of positions a CIGAR covers for overlap
// purposes: the sum of M, I, D, = and X operation lengths. N, S, H, P and B
// contribute nothing.
func cigarFootprint(cigar sam.Cigar) int32 {
	var n int32
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarInsertion, sam.CigarDeletion, sam.CigarEqual, sam.CigarMismatch:
			n += int32(op.Len())
		}
	}
	return n
}

func isUnmapped(rec *sam.Record) bool {
	return rec.Ref == nil || rec.Ref.ID() < 0 || rec.Pos < 0 || rec.Flags&sam.Unmapped != 0
}

// project turns an alignment into a Record. It reports false for unmapped
// alignments, which the index ignores.
func project(rec *sam.Record, bookmark int64) (Record, bool) {
	if isUnmapped(rec) {
		return Record{}, false
	}
	start := uint32(rec.Pos)
	return Record{
		Start:    start,
		End:      start + uint32(cigarFootprint(rec.Cigar)),
		Bookmark: bookmark,
	}, true
}
