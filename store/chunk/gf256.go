package chunk

// Dual parity needs a second, independent parity equation per stripe.
// The Q block is a weighted XOR over GF(2^8) with the AES reduction
// polynomial (0x1b) and weight w = 1-based chunk position:
//
//	P = D_1 ⊕ D_2 ⊕ ... ⊕ D_k
//	Q = 1·D_1 ⊕ 2·D_2 ⊕ ... ⊕ k·D_k
//
// Losing any two blocks of a stripe leaves two linear equations over
// the field, solved below. Weights are distinct and non-zero for
// k ≤ 255, so the system always has exactly one solution.

import "github.com/pkg/errors"

var (
	gfExp [510]byte // doubled so table lookups skip the mod 255
	gfLog [256]byte
)

func init() {
	x := byte(1)
	for i := 0; i < 255; i++ {
		gfExp[i] = x
		gfExp[i+255] = x
		gfLog[x] = byte(i)
		x = gfMulSlow(x, 3)
	}
}

// gfMulSlow multiplies by shift-and-reduce. Only used to build the
// tables.
func gfMulSlow(a, b byte) byte {
	var p byte
	for b != 0 {
		if b&1 != 0 {
			p ^= a
		}
		carry := a & 0x80
		a <<= 1
		if carry != 0 {
			a ^= 0x1b
		}
		b >>= 1
	}
	return p
}

func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+int(gfLog[b])]
}

// gfDiv panics on division by zero, which cannot be reached from the
// exported functions: weights are 1-based and distinct.
func gfDiv(a, b byte) byte {
	if b == 0 {
		panic("chunk: division by zero in GF(2^8)")
	}
	if a == 0 {
		return 0
	}
	return gfExp[int(gfLog[a])+255-int(gfLog[b])]
}

// weight returns the Q coefficient of the chunk at 0-based stripe
// position n.
func weight(n int) byte {
	return byte(n + 1)
}

// QParity computes the weighted parity block of a stripe. Shorter
// chunks are treated as zero-padded, like XORParity. Returns nil for
// an empty stripe.
func QParity(chunks [][]byte) []byte {
	maxLen := 0
	for _, c := range chunks {
		if len(c) > maxLen {
			maxLen = len(c)
		}
	}
	if maxLen == 0 {
		return nil
	}
	q := make([]byte, maxLen)
	for n, c := range chunks {
		w := weight(n)
		for i, b := range c {
			q[i] ^= gfMul(w, b)
		}
	}
	return q
}

// ReconstructFromQ recovers the data chunk at stripe position missing
// from the surviving data chunks and the Q parity block. data must be
// the full stripe slice with a nil entry at the missing position. The
// result is trimmed to length.
func ReconstructFromQ(data [][]byte, q []byte, missing, length int) ([]byte, error) {
	if missing < 0 || missing >= len(data) {
		return nil, errors.Errorf("missing position %d outside stripe of %d chunks", missing, len(data))
	}
	if length < 0 || length > len(q) {
		return nil, errors.Errorf("invalid chunk length %d for parity of %d bytes", length, len(q))
	}
	acc := make([]byte, len(q))
	copy(acc, q)
	for n, c := range data {
		if n == missing {
			continue
		}
		if len(c) > len(q) {
			return nil, errors.Errorf("survivor %d is %d bytes, longer than parity (%d bytes)", n, len(c), len(q))
		}
		w := weight(n)
		for i, b := range c {
			acc[i] ^= gfMul(w, b)
		}
	}
	// acc is now w_missing·D_missing
	out := make([]byte, length)
	w := weight(missing)
	for i := range out {
		out[i] = gfDiv(acc[i], w)
	}
	return out, nil
}

// ReconstructPair recovers the two data chunks at stripe positions a
// and b from the surviving data chunks and both parity blocks. data
// must be the full stripe slice with nil entries at a and b. The
// results are trimmed to lenA and lenB.
//
// With Sp = P ⊕ (surviving data) and Sq = Q ⊕ (weighted surviving
// data) the two unknowns satisfy
//
//	D_a ⊕ D_b = Sp
//	w_a·D_a ⊕ w_b·D_b = Sq
//
// so D_a = (Sq ⊕ w_b·Sp) / (w_a ⊕ w_b) and D_b = Sp ⊕ D_a.
func ReconstructPair(data [][]byte, p, q []byte, a, b, lenA, lenB int) ([]byte, []byte, error) {
	if a == b {
		return nil, nil, errors.Errorf("missing positions must differ, got %d twice", a)
	}
	if a < 0 || a >= len(data) || b < 0 || b >= len(data) {
		return nil, nil, errors.Errorf("missing positions %d,%d outside stripe of %d chunks", a, b, len(data))
	}
	if len(p) != len(q) {
		return nil, nil, errors.Errorf("parity blocks differ in length: P=%d Q=%d", len(p), len(q))
	}
	if lenA < 0 || lenA > len(p) || lenB < 0 || lenB > len(p) {
		return nil, nil, errors.Errorf("invalid chunk lengths %d,%d for parity of %d bytes", lenA, lenB, len(p))
	}
	sp := make([]byte, len(p))
	copy(sp, p)
	sq := make([]byte, len(q))
	copy(sq, q)
	for n, c := range data {
		if n == a || n == b {
			continue
		}
		if len(c) > len(p) {
			return nil, nil, errors.Errorf("survivor %d is %d bytes, longer than parity (%d bytes)", n, len(c), len(p))
		}
		w := weight(n)
		for i, v := range c {
			sp[i] ^= v
			sq[i] ^= gfMul(w, v)
		}
	}
	wa, wb := weight(a), weight(b)
	det := wa ^ wb
	da := make([]byte, lenA)
	for i := range da {
		da[i] = gfDiv(sq[i]^gfMul(wb, sp[i]), det)
	}
	db := make([]byte, lenB)
	for i := range db {
		db[i] = sp[i] ^ daAt(da, i)
	}
	return da, db, nil
}

// daAt reads da treating indices past its end as zero padding. Needed
// when chunk a is the shorter of the two.
func daAt(da []byte, i int) byte {
	if i < len(da) {
		return da[i]
	}
	return 0
}
