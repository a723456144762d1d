package biti

import (
	"fmt"
	"io"

	"github.com/grailbio/hts/sam"
	"github.com/pkg/errors"
)

// Forest is the index over one BAM file: one interval tree per reference in
// header order. A nil slot means the reference has no mapped reads. A Forest
// is immutable once built and safe for concurrent read-only use.
type Forest struct {
	Trees []*IntervalNode
}

// Build consumes the stream and constructs the forest. The stream's header
// must declare coordinate sorting; Build fails with ErrUnsortedInput before
// reading any record otherwise. A record that regresses in reference or
// position fails with ErrOutOfOrderInput.
func Build(s *Stream) (*Forest, error) {
	header := s.Header()
	if header.SortOrder != sam.Coordinate {
		return nil, errors.Wrapf(ErrUnsortedInput, "sort order is %q", header.SortOrder)
	}
	forest := &Forest{Trees: make([]*IntervalNode, len(header.Refs()))}

	cur := int32(0)
	prevStart := int32(-1)
	var bag []Record
	for {
		rec, bookmark, err := s.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		r, ok := project(rec, bookmark)
		if !ok {
			continue
		}
		refID := int32(rec.Ref.ID())
		if refID < cur || (refID == cur && int32(r.Start) < prevStart) {
			return nil, errors.Wrapf(ErrOutOfOrderInput, "record %q at %s:%d", rec.Name, rec.Ref.Name(), rec.Pos)
		}
		// Flush the bag on each reference transition, leaving empty
		// slots for references with no mapped reads.
		for refID > cur {
			forest.Trees[cur] = buildTree(bag)
			bag = bag[:0]
			cur++
			prevStart = -1
		}
		bag = append(bag, r)
		prevStart = int32(r.Start)
	}
	if int(cur) < len(forest.Trees) {
		forest.Trees[cur] = buildTree(bag)
	}
	return forest, nil
}

// NumNodes returns the total node count across all trees.
func (f *Forest) NumNodes() int {
	n := 0
	for _, t := range f.Trees {
		t.walk(func(*IntervalNode, int) { n++ })
	}
	return n
}

// Dump writes an indented per-reference rendering of the forest, for
// diagnostics.
func (f *Forest) Dump(w io.Writer) {
	for i, t := range f.Trees {
		if t == nil {
			continue
		}
		fmt.Fprintf(w, "tree %d\n", i)
		t.dump(w, 0)
	}
}
