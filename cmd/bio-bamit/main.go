package main

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"runtime"
	"strconv"

	"github.com/grailbio/bamit/biti"
	"github.com/grailbio/bamit/coord"
	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/cmdline"
)

// A query region is a reference name and a zero-based position joined by a
// comma, e.g. "chr1,1042". The name class follows the SAM specification.
var regionRE = regexp.MustCompile(
	`^([0-9A-Za-z!#$%&+./:;?@^_|~-][0-9A-Za-z!#$%&*+./:;=?@^_|~-]*),(\d+)$`)

func parseRegion(header *sam.Header, s string) (coord.Coord, error) {
	m := regionRE.FindStringSubmatch(s)
	if m == nil {
		return coord.Coord{}, fmt.Errorf("malformed region %q, want NAME,POS", s)
	}
	var ref *sam.Reference
	for _, r := range header.Refs() {
		if r.Name() == m[1] {
			ref = r
			break
		}
	}
	if ref == nil {
		return coord.Coord{}, fmt.Errorf("unknown reference name %q", m[1])
	}
	pos, err := strconv.ParseInt(m[2], 10, 32)
	if err != nil {
		return coord.Coord{}, err
	}
	return coord.Coord{RefID: int32(ref.ID()), Pos: int32(pos)}, nil
}

func threadCount(t int) int {
	if t <= 0 {
		return runtime.NumCPU()
	}
	return t
}

// buildIndex makes one pass over the BAM at input and writes its index
// archive. It returns the forest for immediate use.
func buildIndex(ctx context.Context, input, idxPath string, threads int, verbose bool) (*biti.Forest, error) {
	s, err := biti.Open(ctx, input, threads)
	if err != nil {
		return nil, err
	}
	defer s.Close(ctx) // nolint: errcheck
	forest, err := biti.Build(s)
	if err != nil {
		return nil, err
	}
	fp, err := s.Fingerprint()
	if err != nil {
		return nil, err
	}
	if err := biti.WriteFile(idxPath, forest, fp); err != nil {
		return nil, err
	}
	if verbose {
		log.Printf("indexed %s: %d references, %d nodes", input, len(forest.Trees), forest.NumNodes())
		forest.Dump(os.Stderr)
	}
	return forest, nil
}

// loadIndex returns the forest for input, rebuilding the archive when it is
// absent, corrupt, or built over a different version of the file.
func loadIndex(ctx context.Context, s *biti.Stream, input string, threads int, verbose bool) (*biti.Forest, error) {
	fp, err := s.Fingerprint()
	if err != nil {
		return nil, err
	}
	idxPath := input + biti.IndexSuffix
	forest, err := biti.ReadFile(idxPath, fp)
	if err == nil {
		return forest, nil
	}
	if !os.IsNotExist(err) {
		log.Printf("%s: rebuilding: %v", idxPath, err)
	}
	return buildIndex(ctx, input, idxPath, threads, verbose)
}

func newCmdIndex() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "index",
		Short: "Build the interval index for a BAM file",
	}
	input := cmd.Flags.String("i", "", "Input BAM path (required)")
	threads := cmd.Flags.Int("t", 0, "Decompression threads; 0 = all CPUs")
	verbose := cmd.Flags.Bool("v", false, "Print the constructed forest")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if *input == "" {
			return fmt.Errorf("index: -i is required")
		}
		ctx := vcontext.Background()
		_, err := buildIndex(ctx, *input, *input+biti.IndexSuffix, threadCount(*threads), *verbose)
		return err
	})
	return cmd
}

func newCmdOverlap() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "overlap",
		Short: "Report records overlapping a query interval",
	}
	input := cmd.Flags.String("i", "", "Input BAM path (required)")
	start := cmd.Flags.String("s", "", "Query start as NAME,POS (required)")
	end := cmd.Flags.String("e", "", "Query end as NAME,POS (required)")
	out := cmd.Flags.String("o", "", "Output BAM path; SAM text to stdout when empty")
	threads := cmd.Flags.Int("t", 0, "Decompression threads; 0 = all CPUs")
	verbose := cmd.Flags.Bool("v", false, "Verbose progress")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if *input == "" || *start == "" || *end == "" {
			return fmt.Errorf("overlap: -i, -s and -e are required")
		}
		return runOverlap(*input, *start, *end, *out, threadCount(*threads), *verbose)
	})
	return cmd
}

func runOverlap(input, start, end, out string, threads int, verbose bool) error {
	ctx := vcontext.Background()
	s, err := biti.Open(ctx, input, threads)
	if err != nil {
		return err
	}
	defer s.Close(ctx) // nolint: errcheck

	qs, err := parseRegion(s.Header(), start)
	if err != nil {
		return err
	}
	qe, err := parseRegion(s.Header(), end)
	if err != nil {
		return err
	}
	forest, err := loadIndex(ctx, s, input, threads, verbose)
	if err != nil {
		return err
	}
	if verbose {
		log.Printf("query [%v, %v]", qs, qe)
	}

	var sink func(*sam.Record) error
	flush := func() error { return nil }
	if out != "" {
		w, err := file.Create(ctx, out)
		if err != nil {
			return err
		}
		bw, err := bam.NewWriter(w.Writer(ctx), s.Header().Clone(), threads)
		if err != nil {
			w.Close(ctx) // nolint: errcheck
			return err
		}
		sink = bw.Write
		flush = func() error {
			err := bw.Close()
			if cerr := w.Close(ctx); cerr != nil && err == nil {
				err = cerr
			}
			return err
		}
	} else {
		sink = func(rec *sam.Record) error {
			text, err := rec.MarshalText()
			if err != nil {
				return err
			}
			_, err = fmt.Println(string(text))
			return err
		}
	}

	n := 0
	iter := biti.NewIterator(s, forest, qs, qe)
	for iter.Scan() {
		if err := sink(iter.Record()); err != nil {
			return err
		}
		n++
	}
	if err := iter.Close(); err != nil {
		return err
	}
	if verbose {
		log.Printf("%d overlapping records", n)
	}
	return flush()
}

func newCmdDepth() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:  "depth",
		Short: "Estimate read depth by random sampling through the index",
	}
	input := cmd.Flags.String("i", "", "Input BAM path (required)")
	samples := cmd.Flags.Int("n", 1000, "Number of positions to sample (>= 2)")
	seed := cmd.Flags.Int64("seed", 0, "RNG seed; a fixed seed reproduces results")
	threads := cmd.Flags.Int("t", 0, "Decompression threads; 0 = all CPUs")
	verbose := cmd.Flags.Bool("v", false, "Verbose progress")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if *input == "" {
			return fmt.Errorf("depth: -i is required")
		}
		return runDepth(*input, *samples, *seed, threadCount(*threads), *verbose)
	})
	return cmd
}

func runDepth(input string, samples int, seed int64, threads int, verbose bool) error {
	ctx := vcontext.Background()
	s, err := biti.Open(ctx, input, threads)
	if err != nil {
		return err
	}
	defer s.Close(ctx) // nolint: errcheck
	forest, err := loadIndex(ctx, s, input, threads, verbose)
	if err != nil {
		return err
	}
	stats, err := biti.SampleDepth(s, forest, samples, seed)
	if err != nil {
		return err
	}
	w := tsv.NewWriter(os.Stdout)
	for _, col := range []string{"mean", "median", "mode", "variance", "sd"} {
		w.WriteString(col)
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	for _, v := range []float64{stats.Mean, stats.Median, stats.Mode, stats.Variance, stats.SD} {
		w.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	if err := w.EndLine(); err != nil {
		return err
	}
	return w.Flush()
}

func main() {
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(&cmdline.Command{
		Name:     "bio-bamit",
		Short:    "Interval-index a coordinate-sorted BAM and query overlaps",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdIndex(),
			newCmdOverlap(),
			newCmdDepth(),
		},
	})
}
