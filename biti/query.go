package biti

import (
	"io"
	"math"

	"github.com/grailbio/bamit/coord"
	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// descend walks one tree for the query [qs, qe] and lowers *candidate to the
// smallest bookmark among the visited nodes whose span intersects the query.
// The final candidate lies at or before the first overlapping record in
// stream order; it may itself sit on a record that does not overlap.
//
// A node that intersects the query can still have an earlier overlap in its
// left subtree, so the walk continues left after recording. Nodes with no
// records (Bookmark -1) carry no split-point information in their span, so
// both subtrees are searched; the minimum rule makes the visit order
// irrelevant.
func descend(n *IntervalNode, qs, qe uint32, candidate *int64) {
	if n == nil {
		return
	}
	if n.Bookmark < 0 {
		descend(n.Left, qs, qe, candidate)
		descend(n.Right, qs, qe, candidate)
		return
	}
	switch {
	case qe < n.Start:
		descend(n.Left, qs, qe, candidate)
	case qs > n.End:
		descend(n.Right, qs, qe, candidate)
	default:
		if *candidate < 0 || n.Bookmark < *candidate {
			*candidate = n.Bookmark
		}
		descend(n.Left, qs, qe, candidate)
	}
}

// Candidate returns a bookmark at or before the first record overlapping
// [qs, qe], or -1 when no tree in the query's reference range holds a
// potential overlap.
//
// For a query spanning several references, each tree is consulted with its
// sub-window of the query and the first tree yielding a candidate wins; the
// stream's natural forward iteration covers the rest.
func (f *Forest) Candidate(qs, qe coord.Coord) int64 {
	c := int64(-1)
	if qs.RefID == qe.RefID {
		if int(qs.RefID) < len(f.Trees) {
			descend(f.Trees[qs.RefID], uint32(qs.Pos), uint32(qe.Pos), &c)
		}
		return c
	}
	for i := qs.RefID; i <= qe.RefID && int(i) < len(f.Trees); i++ {
		lo, hi := uint32(0), uint32(math.MaxUint32)
		if i == qs.RefID {
			lo = uint32(qs.Pos)
		}
		if i == qe.RefID {
			hi = uint32(qe.Pos)
		}
		descend(f.Trees[i], lo, hi, &c)
		if c >= 0 {
			return c
		}
	}
	return -1
}

// advance seeks the stream to the candidate bookmark and walks forward to
// the first mapped record whose footprint end reaches qs. That record is the
// definitive starting point of the overlap scan and is returned already
// read. Exhausting the stream means the candidate and the file disagree.
func advance(s *Stream, candidate int64, qs coord.Coord) (*sam.Record, error) {
	if err := s.Seek(candidate); err != nil {
		return nil, err
	}
	for {
		rec, _, err := s.Read()
		if err == io.EOF {
			return nil, errors.Wrapf(ErrInternalInvariant,
				"no record at or after candidate bookmark %d", candidate)
		}
		if err != nil {
			return nil, err
		}
		if isUnmapped(rec) {
			continue
		}
		end := coord.Coord{
			RefID: int32(rec.Ref.ID()),
			Pos:   int32(rec.Pos) + cigarFootprint(rec.Cigar),
		}
		if end.GE(qs) {
			return rec, nil
		}
	}
}

// Iterator yields the mapped records of one stream that overlap a query, in
// stream order. Use it like bufio.Scanner:
//
//	iter := biti.NewIterator(stream, forest, qs, qe)
//	for iter.Scan() {
//		emit(iter.Record())
//	}
//	err := iter.Close()
type Iterator struct {
	stream  *Stream
	qs, qe  coord.Coord
	pending *sam.Record
	cur     *sam.Record
	err     error
	done    bool
}

// NewIterator positions stream on the first record overlapping [qs, qe]
// using the forest and returns an iterator over the overlapping records.
// The bounds are inclusive. The forest must have been built over (or loaded
// against) the same file the stream reads.
func NewIterator(s *Stream, f *Forest, qs, qe coord.Coord) *Iterator {
	it := &Iterator{stream: s, qs: qs, qe: qe}
	if qs.RefID < 0 || int(qe.RefID) >= len(f.Trees) || qe.LT(qs) {
		it.err = errors.Wrapf(ErrInvalidArgument, "query bounds [%v, %v]", qs, qe)
		return it
	}
	candidate := f.Candidate(qs, qe)
	if candidate < 0 {
		it.done = true
		return it
	}
	rec, err := advance(s, candidate, qs)
	if err != nil {
		it.err = err
		return it
	}
	it.pending = rec
	return it
}

// Scan advances to the next overlapping record, returning false at the end
// of the query range or on error.
func (it *Iterator) Scan() bool {
	if it.err != nil || it.done {
		return false
	}
	for {
		rec := it.pending
		if rec == nil {
			r, _, err := it.stream.Read()
			if err == io.EOF {
				it.done = true
				return false
			}
			if err != nil {
				it.err = err
				return false
			}
			rec = r
		}
		it.pending = nil
		if isUnmapped(rec) {
			continue
		}
		start := coord.Coord{RefID: int32(rec.Ref.ID()), Pos: int32(rec.Pos)}
		if start.GT(it.qe) {
			it.done = true
			return false
		}
		// A start-sorted stream can interleave records that end before
		// the query start; they do not overlap and are not emitted.
		end := coord.Coord{RefID: start.RefID, Pos: start.Pos + cigarFootprint(rec.Cigar)}
		if end.LT(it.qs) {
			continue
		}
		it.cur = rec
		return true
	}
}

// Record returns the record from the latest successful Scan.
func (it *Iterator) Record() *sam.Record { return it.cur }

// Err returns the first error encountered, if any.
func (it *Iterator) Err() error { return it.err }

// Close returns Err. The stream stays open; it belongs to the caller.
func (it *Iterator) Close() error { return it.Err() }
