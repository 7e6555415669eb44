package cache

// MapBacking is a sparse byte-addressed backing store. It stands in for the
// next level of the hierarchy in tests and in the trace driver.
type MapBacking struct {
	bytes map[uint64]byte
}

// NewMapBacking creates an empty MapBacking.
func NewMapBacking() *MapBacking {
	return &MapBacking{bytes: make(map[uint64]byte)}
}

// Read fetches data from the backing memory. Untouched bytes read as zero.
func (m *MapBacking) Read(addr uint64, size int) []byte {
	data := make([]byte, size)
	for i := 0; i < size; i++ {
		data[i] = m.bytes[addr+uint64(i)]
	}
	return data
}

// Write stores data to the backing memory.
func (m *MapBacking) Write(addr uint64, data []byte) {
	for i, b := range data {
		m.bytes[addr+uint64(i)] = b
	}
}

// Write64 stores a 64-bit little-endian value, a convenience for tests.
func (m *MapBacking) Write64(addr uint64, value uint64) {
	for i := 0; i < 8; i++ {
		m.bytes[addr+uint64(i)] = byte(value >> (i * 8))
	}
}
