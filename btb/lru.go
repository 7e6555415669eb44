package btb

import (
	"math/bits"

	"github.com/sarchlab/btbsim/addr"
)

// lruSlot is one way of one set, with the recency stamp that orders
// replacement within the set.
type lruSlot[T any] struct {
	set      int
	way      int
	lastUsed uint64
	data     T
}

// lruTable is a fixed-geometry set-associative table with LRU replacement.
// The set index is taken from the key bits just above the block alignment;
// tag matching is delegated to the caller so the element type decides what
// counts as a hit. Empty slots keep lastUsed at zero and the clock starts at
// one, so empty ways are always preferred as victims.
type lruTable[T any] struct {
	sets      int
	ways      int
	log2Block uint
	log2Sets  uint
	slots     []lruSlot[T]
	clock     uint64
}

func newLRUTable[T any](sets, ways, log2Block int) *lruTable[T] {
	t := &lruTable[T]{
		sets:      sets,
		ways:      ways,
		log2Block: uint(log2Block),
		log2Sets:  uint(bits.Len(uint(sets)) - 1),
		slots:     make([]lruSlot[T], sets*ways),
		clock:     1,
	}
	for i := range t.slots {
		t.slots[i].set = i / ways
		t.slots[i].way = i % ways
	}
	return t
}

func (t *lruTable[T]) setIndex(key addr.Address) int {
	return int(key.Bits(t.log2Block, t.log2Block+t.log2Sets))
}

// touch returns the current clock value and advances it.
func (t *lruTable[T]) touch() uint64 {
	v := t.clock
	t.clock++
	return v
}

// checkHit scans the key's set for an element accepted by match. On a hit
// the slot becomes the most recently used and a pointer to its data is
// returned so the caller can update it in place.
func (t *lruTable[T]) checkHit(key addr.Address, match func(T) bool) *T {
	base := t.setIndex(key) * t.ways
	for way := 0; way < t.ways; way++ {
		slot := &t.slots[base+way]
		if match(slot.data) {
			slot.lastUsed = t.touch()
			return &slot.data
		}
	}
	return nil
}

// fill overwrites the least recently used way of the key's set with data.
func (t *lruTable[T]) fill(key addr.Address, data T) {
	base := t.setIndex(key) * t.ways
	victim := base
	for way := 1; way < t.ways; way++ {
		if t.slots[base+way].lastUsed < t.slots[victim].lastUsed {
			victim = base + way
		}
	}
	t.slots[victim].lastUsed = t.touch()
	t.slots[victim].data = data
}

// contents returns a copy of every slot, empty ways included.
func (t *lruTable[T]) contents() []lruSlot[T] {
	out := make([]lruSlot[T], len(t.slots))
	copy(out, t.slots)
	return out
}

// restore writes each slot back by (set, way) and reseeds the clock to
// max(lastUsed)+1 so relative recency survives and later accesses stay
// strictly newer. Slots not named keep their zero value. Coordinates must
// have been validated against the geometry by the caller.
func (t *lruTable[T]) restore(entries []lruSlot[T]) {
	for i := range t.slots {
		t.slots[i].lastUsed = 0
		var zero T
		t.slots[i].data = zero
	}

	var maxUsed uint64
	for _, e := range entries {
		slot := &t.slots[e.set*t.ways+e.way]
		slot.lastUsed = e.lastUsed
		slot.data = e.data
		if e.lastUsed > maxUsed {
			maxUsed = e.lastUsed
		}
	}
	t.clock = maxUsed + 1
}
