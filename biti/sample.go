package biti

import (
	"io"
	"math"
	"math/rand"
	"sort"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/bamit/coord"
	"github.com/pkg/errors"
)

// DepthStats summarizes read depths observed at randomly sampled positions.
type DepthStats struct {
	Mean, Median, Mode, Variance, SD float64
}

// depthTally counts how often one depth value occurred across the samples.
type depthTally struct {
	depth int
	count int
}

func (d *depthTally) Compare(c llrb.Comparable) int {
	return d.depth - c.(*depthTally).depth
}

// SampleDepth estimates the read depth of the file behind s by querying the
// forest at samples uniform-random positions. The same seed always yields
// the same positions and therefore the same statistics. samples must be at
// least 2 for the Bessel-corrected variance to exist.
func SampleDepth(s *Stream, f *Forest, samples int, seed int64) (DepthStats, error) {
	if samples < 2 {
		return DepthStats{}, errors.Wrapf(ErrInvalidArgument, "sample count %d, need at least 2", samples)
	}
	refs := s.Header().Refs()
	if len(refs) == 0 {
		return DepthStats{}, errors.Wrap(ErrInvalidArgument, "header has no references")
	}
	rng := rand.New(rand.NewSource(seed))
	depths := make([]int, samples)
	for i := range depths {
		ref := refs[rng.Intn(len(refs))]
		pos := 0
		if ref.Len() > 0 {
			pos = rng.Intn(ref.Len())
		}
		p := coord.Coord{RefID: int32(ref.ID()), Pos: int32(pos)}
		depth, err := depthAt(s, f, p)
		if err != nil {
			return DepthStats{}, err
		}
		depths[i] = depth
	}
	return summarize(depths), nil
}

// depthAt counts the mapped records whose footprint contains p.
func depthAt(s *Stream, f *Forest, p coord.Coord) (int, error) {
	candidate := f.Candidate(p, p)
	if candidate < 0 {
		return 0, nil
	}
	rec, err := advance(s, candidate, p)
	if err != nil {
		return 0, err
	}
	depth := 0
	for {
		if !isUnmapped(rec) {
			start := coord.Coord{RefID: int32(rec.Ref.ID()), Pos: int32(rec.Pos)}
			if start.GT(p) {
				break
			}
			if start.RefID == p.RefID && start.Pos+cigarFootprint(rec.Cigar) >= p.Pos {
				depth++
			}
		}
		next, _, err := s.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
		rec = next
	}
	return depth, nil
}

func summarize(depths []int) DepthStats {
	sort.Ints(depths)
	n := len(depths)

	var stats DepthStats
	sum := 0
	for _, d := range depths {
		sum += d
	}
	stats.Mean = float64(sum) / float64(n)
	if n%2 == 0 {
		stats.Median = float64(depths[n/2-1]+depths[n/2]) / 2
	} else {
		stats.Median = float64(depths[n/2])
	}

	// Tally occurrences in a sorted tree; the ascending walk with a strict
	// comparison leaves the smallest depth as the mode on ties.
	tree := llrb.Tree{}
	for _, d := range depths {
		item := &depthTally{depth: d, count: 1}
		if got := tree.Get(item); got != nil {
			item.count = got.(*depthTally).count + 1
		}
		tree.Insert(item)
	}
	best := -1
	tree.Do(func(c llrb.Comparable) bool {
		t := c.(*depthTally)
		if t.count > best {
			best = t.count
			stats.Mode = float64(t.depth)
		}
		return false
	})

	var ss float64
	for _, d := range depths {
		diff := float64(d) - stats.Mean
		ss += diff * diff
	}
	stats.Variance = ss / float64(n-1)
	stats.SD = math.Sqrt(stats.Variance)
	return stats
}
