package store

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// ChunkKind distinguishes the derived keys an object expands to on
// the backends.
type ChunkKind byte

// Kinds of derived keys.
const (
	KindData    ChunkKind = iota // numbered data chunk
	KindParity                   // single parity block for a stripe
	KindParityP                  // XOR half of a dual parity pair
	KindParityQ                  // weighted half of a dual parity pair
)

var kindToSuffix = []string{
	KindData:    "chunk",
	KindParity:  "parity",
	KindParityP: "parityP",
	KindParityQ: "parityQ",
}

// String turns a ChunkKind into the suffix used on the wire
func (k ChunkKind) String() string {
	if int(k) >= len(kindToSuffix) {
		return fmt.Sprintf("ChunkKind(%d)", k)
	}
	return kindToSuffix[k]
}

// An object saved under "video.mp4" expands on the backends to keys
// like
//
//	video.mp4.chunk.0
//	video.mp4.chunk.1
//	video.mp4.parity.0
//	video.mp4.parityP.0
//	video.mp4.parityQ.0
//
// The numeric field is the chunk index for data keys and the stripe
// index for parity keys.

// ChunkKey returns the backend key of data chunk n of key.
func ChunkKey(key string, n int) string {
	return fmt.Sprintf("%s.chunk.%d", key, n)
}

// ParityKey returns the backend key of the single parity block of
// stripe of key.
func ParityKey(key string, stripe int) string {
	return fmt.Sprintf("%s.parity.%d", key, stripe)
}

// ParityPKey returns the backend key of the XOR parity block of
// stripe of key.
func ParityPKey(key string, stripe int) string {
	return fmt.Sprintf("%s.parityP.%d", key, stripe)
}

// ParityQKey returns the backend key of the weighted parity block of
// stripe of key.
func ParityQKey(key string, stripe int) string {
	return fmt.Sprintf("%s.parityQ.%d", key, stripe)
}

// MakeKey returns the backend key for the given kind and index.
func MakeKey(key string, kind ChunkKind, n int) string {
	return fmt.Sprintf("%s.%s.%d", key, kind, n)
}

// longest suffix first so "parity" cannot shadow "parityP"
var keyRegexp = regexp.MustCompile(`^(.+)\.(parityP|parityQ|parity|chunk)\.([0-9]+)$`)

// ParseKey splits a backend key back into the object key, the kind
// and the chunk or stripe index. It fails on keys that were not
// produced by MakeKey and friends.
func ParseKey(s string) (key string, kind ChunkKind, n int, err error) {
	match := keyRegexp.FindStringSubmatch(s)
	if match == nil {
		return "", 0, 0, errors.Errorf("%q is not a chunk key", s)
	}
	for k, suffix := range kindToSuffix {
		if suffix == match[2] {
			kind = ChunkKind(k)
		}
	}
	n, err = strconv.Atoi(match[3])
	if err != nil {
		return "", 0, 0, errors.Wrapf(err, "bad chunk number in %q", s)
	}
	return match[1], kind, n, nil
}
