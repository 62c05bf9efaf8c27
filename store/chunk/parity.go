package chunk

// XOR parity over one stripe of data chunks.
//
// Chunks in a stripe are normally all the same length; the final
// stripe of an object may end with a shorter chunk, which is treated
// as zero-padded to the parity length. The parity block is therefore
// always as long as the longest chunk in the stripe.

import "github.com/pkg/errors"

// XORParity computes the parity block of a stripe: the byte-wise XOR
// of all data chunks, shorter chunks zero-padded. Returns nil for an
// empty stripe.
func XORParity(chunks [][]byte) []byte {
	maxLen := 0
	for _, c := range chunks {
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	if maxLen == 0 {
		return nil
	}
	parity := make([]byte, maxLen)
	for _, c := range chunks {
		for i, b := range c {
			parity[i] ^= b
		}
	}
	return parity
}

// ReconstructXOR recovers one missing data chunk from the surviving
// chunks of its stripe and the parity block, trimming the result to
// length. It fails if any survivor is longer than the parity block.
func ReconstructXOR(survivors [][]byte, parity []byte, length int) ([]byte, error) {
	if length < 0 || length > len(parity) {
		return nil, errors.Errorf("invalid chunk length %d for parity of %d bytes", length, len(parity))
	}
	missing := make([]byte, len(parity))
	copy(missing, parity)
	for n, c := range survivors {
		if len(c) > len(parity) {
			return nil, errors.Errorf("survivor %d is %d bytes, longer than parity (%d bytes)", n, len(c), len(parity))
		}
		for i, b := range c {
			missing[i] ^= b
		}
	}
	return missing[:length], nil
}
