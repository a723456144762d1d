// Package biti builds and queries positional interval indexes over
// coordinate-sorted BAM files.
//
// The index is a forest of median-splitting interval trees, one tree per
// reference sequence in the BAM header. Each tree node records the span of
// the alignments that straddle the node's split point together with the BGZF
// virtual offset of the leftmost such alignment. An overlap query descends
// one tree to a candidate offset guaranteed to lie at or before the first
// overlapping record, seeks the BAM stream there, and walks forward to the
// true first overlap; iteration then proceeds in stream order until the
// query end is passed.
//
// The forest is built in one pass over the sorted input, is immutable once
// built, and persists to a ".bit" archive beside the BAM file. A loaded
// forest may be shared by concurrent queries as long as each query uses its
// own Stream.
package biti
