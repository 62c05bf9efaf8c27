// Package random generates random test data.
package random

import (
	"math/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// String makes a random string of lower case letters and digits, for
// object keys in tests.
//
// Do not use these for passwords.
func String(n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(out)
}

// Bytes creates n bytes of random test data.
//
// Do not use these for crypto purposes.
func Bytes(n int) []byte {
	out := make([]byte, n)
	_, _ = rand.Read(out)
	return out
}

// SeededBytes creates n bytes of deterministic test data from seed.
// The same seed always yields the same bytes.
func SeededBytes(seed int64, n int) []byte {
	r := rand.New(rand.NewSource(seed))
	out := make([]byte, n)
	_, _ = r.Read(out)
	return out
}
