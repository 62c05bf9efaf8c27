// Package chunk implements the byte-level codec the redundancy engine
// is built on: fixed-size chunking, XOR parity and GF(2^8) weighted
// parity with reconstruction of one or two missing chunks per stripe.
//
// Everything in this package is a pure function over byte slices.
// Backend placement, stripe layout and metadata live in the raid
// package.
package chunk

// Split cuts data into chunks of size bytes. The final chunk may be
// shorter. The returned chunks alias data, they are not copies. Empty
// data yields no chunks. size must be positive.
func Split(data []byte, size int) [][]byte {
	if size <= 0 || len(data) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for len(data) > size {
		chunks = append(chunks, data[:size])
		data = data[size:]
	}
	return append(chunks, data)
}

// Join concatenates chunks back into one byte slice.
func Join(chunks [][]byte) []byte {
	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

// Count returns the number of chunks an object of the given size
// splits into.
func Count(size int64, chunkSize int) int {
	if size <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((size + int64(chunkSize) - 1) / int64(chunkSize))
}

// Length returns the expected length of chunk i of an object of the
// given size, which is chunkSize for all chunks but possibly the last.
func Length(size int64, chunkSize, i int) int {
	remaining := size - int64(i)*int64(chunkSize)
	if remaining <= 0 {
		return 0
	}
	if remaining > int64(chunkSize) {
		return chunkSize
	}
	return int(remaining)
}
