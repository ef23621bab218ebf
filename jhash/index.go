package jhash

const (
	collisionThreshold = 4 // override when the collision counter runs out
	collisionHigh      = 4 // countdown rate for good samples
	collisionLow       = 1 // countdown rate for samples with eqlCnt above 2*SampleSize
)

// nopos marks an empty slot, so position 0 remains indexable.
const nopos = -1

// Index maps a sample key to at most one source position. It is a lossy
// sample of the stream, not a dictionary: misses are expected and the
// match table compensates for them.
//
// The collision strategy aims for a uniformly distributed set of retained
// positions over the indexed region: an add only wins its slot once
// enough colliding adds have accumulated, and that threshold grows with
// the table's load factor. Samples whose equal-tail length exceeds
// 2*SampleSize count less towards the threshold (see Add).
type Index struct {
	pos []int64
	key []Key

	prime int
	size  int64

	colMax  int
	colCnt  int
	rlb     int
	loadCnt int

	hits int
}

// NewIndex creates an index of at most sizeMB megabytes. The element
// count is rounded down to the nearest prime.
func NewIndex(sizeMB int) *Index {
	if sizeMB < 1 {
		sizeMB = 1
	}
	const elemSize = 16 // key + position
	prime := LowerPrime(sizeMB * 1024 * 1024 / elemSize)

	x := &Index{
		pos:   make([]int64, prime),
		key:   make([]Key, prime),
		prime: prime,
		size:  int64(prime) * elemSize,
	}
	x.Reset()
	return x
}

// Reset considers the table empty again and restores the initial
// collision state. Stored keys are not touched; every position slot is
// marked free, so stale entries are unreachable until overwritten.
func (x *Index) Reset() {
	for i := range x.pos {
		x.pos[i] = nopos
	}
	x.loadCnt = x.prime
	x.colMax = collisionThreshold
	x.colCnt = collisionThreshold
	x.rlb = SampleSize + SampleSize/2
}

// Add offers (key, pos) to the index. eqlCnt is the equal-tail length of
// the sample; samples with eqlCnt above 2*SampleSize get a reduced
// override rate. Rolling caps its counter at SampleSize, so samples
// hashed by Rolling always count at the full rate.
func (x *Index) Add(key Key, pos int64, eqlCnt int) {
	// Each time the load factor crosses a multiple of the table size,
	// raise the override threshold and the reliability distance.
	if x.loadCnt > 0 {
		x.loadCnt--
	} else {
		x.loadCnt = x.prime
		x.colMax += collisionThreshold
		x.rlb += 4
	}

	if eqlCnt <= SampleSize*2 {
		x.colCnt -= collisionHigh
	} else {
		x.colCnt -= collisionLow
	}

	if x.colCnt <= 0 {
		i := int(uint64(key) % uint64(x.prime))
		x.key[i] = key
		x.pos[i] = pos
		x.colCnt = x.colMax
	}
}

// Get returns the position stored for key. Only an exact match on the
// full key counts; there is no probing.
func (x *Index) Get(key Key) (int64, bool) {
	i := int(uint64(key) % uint64(x.prime))
	if x.key[i] == key && x.pos[i] != nopos {
		x.hits++
		return x.pos[i], true
	}
	return 0, false
}

// Reliability returns the current reliability distance: an estimate of
// how many bytes a search must examine before it can be confident any
// equal region would have been indexed. It grows with the overload.
func (x *Index) Reliability() int { return x.rlb }

// Prime returns the slot count.
func (x *Index) Prime() int { return x.prime }

// Size returns the memory footprint in bytes.
func (x *Index) Size() int64 { return x.size }

// OverrideMax returns the current collision override threshold.
func (x *Index) OverrideMax() int { return x.colMax }

// Hits returns the number of successful lookups so far.
func (x *Index) Hits() int { return x.hits }
