/*Command bio-bamit builds and queries positional interval indexes over
  coordinate-sorted BAM files.

  "bio-bamit index -i foo.bam" writes the index archive foo.bam.bit.

  "bio-bamit overlap -i foo.bam -s chr1,100 -e chr1,200" prints every
  record overlapping the closed interval [chr1:100, chr1:200] as SAM text,
  or writes a BAM file when -o is given. The index is built on the fly when
  missing or stale.

  "bio-bamit depth -i foo.bam -n 1000" samples read depth at random
  positions through the index and prints summary statistics as TSV.
*/
package main
