// Package packer turns variable-length token sequences into fixed-length
// training windows.
package packer

// Concat joins seqs into one stream, appending boundary after every
// sequence, including the last.
func Concat(seqs [][]int, boundary int) []int {
	n := len(seqs)
	for _, s := range seqs {
		n += len(s)
	}
	out := make([]int, 0, n)
	for _, s := range seqs {
		out = append(out, s...)
		out = append(out, boundary)
	}
	return out
}

// Windows cuts stream into consecutive, non-overlapping windows of exactly
// size tokens. A trailing remainder shorter than size is dropped; its
// length is returned as dropped. The windows share stream's backing array
// and are capped so appends cannot clobber their neighbours.
func Windows(stream []int, size int) (windows [][]int, dropped int) {
	if size <= 0 {
		return nil, len(stream)
	}
	full := len(stream) / size
	windows = make([][]int, 0, full)
	for i := 0; i+size <= len(stream); i += size {
		windows = append(windows, stream[i:i+size:i+size])
	}
	return windows, len(stream) - full*size
}

// Pack is Concat followed by Windows.
func Pack(seqs [][]int, boundary, size int) (windows [][]int, dropped int) {
	return Windows(Concat(seqs, boundary), size)
}
