package raid

import (
	"sort"

	"github.com/poolfs/poolfs/store"
	"github.com/poolfs/poolfs/store/chunk"
	"github.com/poolfs/poolfs/store/meta"
)

// geometry describes the placement rules for one stored object. It is
// built from the engine configuration on save and from the object's
// manifest on load, so reads always follow the layout that was in
// force when the object was written, even if the engine has been
// reconfigured since.
//
// Placement rules per level:
//
//   - raid0: data chunk i lives on backend i mod n.
//   - raid1: the whole object is stored as chunk 0 on backends
//     0..mirrors-1.
//   - raid5: stripes of n-1 data chunks. The parity of stripe s lives
//     on backend s mod n and the data chunks fill the remaining
//     backends in ascending order.
//   - raid6: stripes of n-2 data chunks, P parity on backend s mod n,
//     Q parity on backend (s+1) mod n, data on the rest ascending.
//   - raid10: backends form n/2 primary/mirror pairs. Data chunk i
//     goes to pair i mod n/2, written to both members.
//   - raid50/raid60: the backends split into two halves, each half an
//     inner raid5/raid6 group. Data chunk i goes to group i mod 2 as
//     the group's local chunk i/2. Stripe s of the object is local
//     stripe s/2 of group s mod 2.
type geometry struct {
	level      Level
	n          int // backend count
	mirrors    int // copies, raid1 only
	stripeSize int
}

func geometryFromConfig(c Config) geometry {
	return geometry{level: c.Level, n: c.BackendCount, mirrors: c.MirrorCount, stripeSize: int(c.StripeSize)}
}

func geometryFromManifest(m *meta.Manifest) geometry {
	return geometry{level: Level(m.Level), n: m.BackendCount, mirrors: m.MirrorCount, stripeSize: m.StripeSize}
}

// dualParity reports whether the level writes P and Q parity blocks.
func (g geometry) dualParity() bool {
	return g.level == DualParity || g.level == StripedDual
}

// nested reports whether the level stripes across two inner groups.
func (g geometry) nested() bool {
	return g.level == StripedParity || g.level == StripedDual
}

// dataPerStripe returns the number of data chunks in one stripe, or 0
// for levels without parity stripes.
func (g geometry) dataPerStripe() int {
	switch g.level {
	case SingleParity:
		return g.n - 1
	case DualParity:
		return g.n - 2
	case StripedParity:
		return g.n/2 - 1
	case StripedDual:
		return g.n/2 - 2
	}
	return 0
}

// chunkCount returns the number of data chunks an object of the given
// size splits into.
func (g geometry) chunkCount(size int64) int {
	if g.level == Mirroring {
		return 1
	}
	return chunk.Count(size, g.stripeSize)
}

// chunkLen returns the length of data chunk i of an object of the
// given size.
func (g geometry) chunkLen(size int64, i int) int {
	if g.level == Mirroring {
		return int(size)
	}
	return chunk.Length(size, g.stripeSize, i)
}

// nthExcluding returns the j-th backend index counting up from zero
// and skipping the excluded indices.
func nthExcluding(j int, excluded ...int) int {
	for b := 0; ; b++ {
		skip := false
		for _, x := range excluded {
			if b == x {
				skip = true
				break
			}
		}
		if skip {
			continue
		}
		if j == 0 {
			return b
		}
		j--
	}
}

// dataBackend returns the backend holding the primary copy of data
// chunk i.
func (g geometry) dataBackend(i int) int {
	switch g.level {
	case Striping:
		return i % g.n
	case Mirroring:
		return 0
	case SingleParity:
		dps := g.dataPerStripe()
		s, j := i/dps, i%dps
		return nthExcluding(j, s%g.n)
	case DualParity:
		dps := g.dataPerStripe()
		s, j := i/dps, i%dps
		return nthExcluding(j, s%g.n, (s+1)%g.n)
	case MirroredStripe:
		return 2 * (i % (g.n / 2))
	case StripedParity:
		inner := g.n / 2
		dps := g.dataPerStripe()
		group, li := i%2, i/2
		ls, j := li/dps, li%dps
		return group*inner + nthExcluding(j, ls%inner)
	case StripedDual:
		inner := g.n / 2
		dps := g.dataPerStripe()
		group, li := i%2, i/2
		ls, j := li/dps, li%dps
		return group*inner + nthExcluding(j, ls%inner, (ls+1)%inner)
	}
	panic("raid: unhandled level")
}

// chunkBackends returns every backend holding a copy of data chunk i,
// primary first.
func (g geometry) chunkBackends(i int) []int {
	switch g.level {
	case Mirroring:
		out := make([]int, g.mirrors)
		for m := range out {
			out[m] = m
		}
		return out
	case MirroredStripe:
		primary := g.dataBackend(i)
		return []int{primary, primary + 1}
	}
	return []int{g.dataBackend(i)}
}

// parityBackends returns the backends holding the P and Q parity of
// stripe s. q is -1 for single parity levels, both are -1 for levels
// without parity.
func (g geometry) parityBackends(s int) (p, q int) {
	switch g.level {
	case SingleParity:
		return s % g.n, -1
	case DualParity:
		return s % g.n, (s + 1) % g.n
	case StripedParity:
		inner := g.n / 2
		group, ls := s%2, s/2
		return group*inner + ls%inner, -1
	case StripedDual:
		inner := g.n / 2
		group, ls := s%2, s/2
		return group*inner + ls%inner, group*inner + (ls+1)%inner
	}
	return -1, -1
}

// parityKeyP returns the storage key of the stripe's single or P
// parity block.
func (g geometry) parityKeyP(key string, s int) string {
	if g.dualParity() {
		return store.ParityPKey(key, s)
	}
	return store.ParityKey(key, s)
}

// stripeOfChunk returns the stripe that data chunk i belongs to. Only
// meaningful for parity levels.
func (g geometry) stripeOfChunk(i int) int {
	dps := g.dataPerStripe()
	if !g.nested() {
		return i / dps
	}
	group, li := i%2, i/2
	return (li/dps)*2 + group
}

// stripeIDs lists the stripes of an object with chunkCount data
// chunks, in increasing order. Nil for levels without parity.
func (g geometry) stripeIDs(chunkCount int) []int {
	dps := g.dataPerStripe()
	if dps == 0 || chunkCount == 0 {
		return nil
	}
	if !g.nested() {
		stripes := (chunkCount + dps - 1) / dps
		ids := make([]int, stripes)
		for i := range ids {
			ids[i] = i
		}
		return ids
	}
	var ids []int
	for group := 0; group < 2; group++ {
		count := (chunkCount - group + 1) / 2 // chunks in this group
		stripes := (count + dps - 1) / dps
		for ls := 0; ls < stripes; ls++ {
			ids = append(ids, ls*2+group)
		}
	}
	sort.Ints(ids)
	return ids
}

// stripeChunks lists the data chunk indices of stripe s in stripe
// order, which is also the Q parity weight order.
func (g geometry) stripeChunks(s, chunkCount int) []int {
	dps := g.dataPerStripe()
	if dps == 0 {
		return nil
	}
	if !g.nested() {
		lo, hi := s*dps, (s+1)*dps
		if hi > chunkCount {
			hi = chunkCount
		}
		if lo >= hi {
			return nil
		}
		out := make([]int, 0, hi-lo)
		for i := lo; i < hi; i++ {
			out = append(out, i)
		}
		return out
	}
	group, ls := s%2, s/2
	out := make([]int, 0, dps)
	for j := 0; j < dps; j++ {
		i := 2*(ls*dps+j) + group
		if i >= chunkCount {
			break
		}
		out = append(out, i)
	}
	return out
}

// mapping builds the manifest's backend index to data chunk indices
// map.
func (g geometry) mapping(chunkCount int) map[int][]int {
	m := make(map[int][]int)
	for i := 0; i < chunkCount; i++ {
		for _, b := range g.chunkBackends(i) {
			m[b] = append(m[b], i)
		}
	}
	return m
}

// chunkWrite is one pending backend write of a save.
type chunkWrite struct {
	backend int
	key     string
	data    []byte
}

// planWrites lists every backend write needed to store data under
// key, data chunks first, then parity.
func planWrites(key string, data []byte, g geometry) []chunkWrite {
	if g.level == Mirroring {
		ck := store.ChunkKey(key, 0)
		writes := make([]chunkWrite, 0, g.mirrors)
		for m := 0; m < g.mirrors; m++ {
			writes = append(writes, chunkWrite{backend: m, key: ck, data: data})
		}
		return writes
	}
	chunks := chunk.Split(data, g.stripeSize)
	var writes []chunkWrite
	for i, c := range chunks {
		ck := store.ChunkKey(key, i)
		for _, b := range g.chunkBackends(i) {
			writes = append(writes, chunkWrite{backend: b, key: ck, data: c})
		}
	}
	for _, s := range g.stripeIDs(len(chunks)) {
		stripe := gatherStripe(chunks, g.stripeChunks(s, len(chunks)))
		pb, qb := g.parityBackends(s)
		writes = append(writes, chunkWrite{backend: pb, key: g.parityKeyP(key, s), data: chunk.XORParity(stripe)})
		if qb >= 0 {
			writes = append(writes, chunkWrite{backend: qb, key: store.ParityQKey(key, s), data: chunk.QParity(stripe)})
		}
	}
	return writes
}

// gatherStripe collects the listed chunks into a stripe slice.
func gatherStripe(chunks [][]byte, indices []int) [][]byte {
	out := make([][]byte, len(indices))
	for j, i := range indices {
		out[j] = chunks[i]
	}
	return out
}

// chunkRef names one stored chunk on one backend. index is the data
// chunk index, or -1 for parity blocks.
type chunkRef struct {
	backend int
	key     string
	index   int
}

// primaryRefs lists one read per data chunk, from its primary
// backend.
func primaryRefs(key string, g geometry, chunkCount int) []chunkRef {
	refs := make([]chunkRef, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		refs = append(refs, chunkRef{backend: g.dataBackend(i), key: store.ChunkKey(key, i), index: i})
	}
	return refs
}

// allRefs lists every key the object occupies on every backend,
// including mirror copies and parity blocks.
func allRefs(key string, g geometry, chunkCount int) []chunkRef {
	var refs []chunkRef
	for i := 0; i < chunkCount; i++ {
		ck := store.ChunkKey(key, i)
		for _, b := range g.chunkBackends(i) {
			refs = append(refs, chunkRef{backend: b, key: ck, index: i})
		}
	}
	for _, s := range g.stripeIDs(chunkCount) {
		pb, qb := g.parityBackends(s)
		refs = append(refs, chunkRef{backend: pb, key: g.parityKeyP(key, s), index: -1})
		if qb >= 0 {
			refs = append(refs, chunkRef{backend: qb, key: store.ParityQKey(key, s), index: -1})
		}
	}
	return refs
}
