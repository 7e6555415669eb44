// Package cache provides a checkpointable set-associative cache model built
// on Akita cache components. It is the substrate the checkpoint codec's
// Cache sections save and restore.
package cache

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"

	"github.com/sarchlab/btbsim/addr"
)

// Config holds cache configuration parameters.
type Config struct {
	// Name identifies this cache in checkpoint files.
	Name string
	// Size in bytes
	Size int
	// Associativity (number of ways)
	Associativity int
	// BlockSize in bytes (cache line size)
	BlockSize int
	// HitLatency in cycles
	HitLatency uint64
	// MissLatency in cycles (includes memory access time)
	MissLatency uint64
}

// DefaultL1Config returns a default L1 configuration: 32KB, 8-way, 64B
// lines.
func DefaultL1Config(name string) Config {
	return Config{
		Name:          name,
		Size:          32 * 1024,
		Associativity: 8,
		BlockSize:     64,
		HitLatency:    1,
		MissLatency:   12,
	}
}

// AccessResult contains the result of a cache access.
type AccessResult struct {
	// Hit indicates whether the access was a cache hit.
	Hit bool
	// Latency is the number of cycles this access takes.
	Latency uint64
	// Data is the data read (for load operations).
	Data uint64
	// Evicted is true if a valid block was evicted.
	Evicted bool
	// EvictedAddr is the address of the evicted block (if Evicted is true).
	EvictedAddr uint64
}

// Statistics holds cache performance statistics.
type Statistics struct {
	Reads      uint64
	Writes     uint64
	Hits       uint64
	Misses     uint64
	Evictions  uint64
	Writebacks uint64
}

// HitRate returns the hit rate as a percentage.
func (s Statistics) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// BackingStore interface for the next level in the memory hierarchy.
type BackingStore interface {
	// Read fetches data from the backing store.
	Read(addr uint64, size int) []byte
	// Write stores data to the backing store.
	Write(addr uint64, data []byte)
}

// CheckpointEntry is one valid cache block as captured in a checkpoint.
type CheckpointEntry struct {
	Set     int
	Way     int
	Address addr.Address
}

// Cache models one cache using an Akita cache directory for tag and LRU
// bookkeeping.
type Cache struct {
	config Config

	// Akita cache directory for tag/state management
	directory *akitacache.DirectoryImpl

	// Data storage - indexed by (setID * associativity + wayID)
	dataStore [][]byte

	stats Statistics

	// Backing store interface (for fetching on miss and writeback)
	backing BackingStore
}

// New creates a new cache with the given configuration.
func New(config Config, backing BackingStore) *Cache {
	numSets := config.Size / (config.Associativity * config.BlockSize)
	totalBlocks := numSets * config.Associativity

	dataStore := make([][]byte, totalBlocks)
	for i := range dataStore {
		dataStore[i] = make([]byte, config.BlockSize)
	}

	return &Cache{
		config: config,
		directory: akitacache.NewDirectory(
			numSets,
			config.Associativity,
			config.BlockSize,
			akitacache.NewLRUVictimFinder(),
		),
		dataStore: dataStore,
		backing:   backing,
	}
}

// Name returns the checkpoint name of the cache.
func (c *Cache) Name() string {
	return c.config.Name
}

// Config returns the cache configuration.
func (c *Cache) Config() Config {
	return c.config
}

// Stats returns cache statistics.
func (c *Cache) Stats() Statistics {
	return c.stats
}

// ResetStats clears cache statistics.
func (c *Cache) ResetStats() {
	c.stats = Statistics{}
}

// numSets returns the number of sets in the cache.
func (c *Cache) numSets() int {
	return c.config.Size / (c.config.Associativity * c.config.BlockSize)
}

// blockIndex computes the index into dataStore for a block.
func (c *Cache) blockIndex(block *akitacache.Block) int {
	return block.SetID*c.config.Associativity + block.WayID
}

// blockAlign rounds an address down to its cache line.
func (c *Cache) blockAlign(a uint64) uint64 {
	return (a / uint64(c.config.BlockSize)) * uint64(c.config.BlockSize)
}

// Read performs a cache read operation.
// Returns the access result including hit/miss and latency.
func (c *Cache) Read(a uint64, size int) AccessResult {
	c.stats.Reads++

	blockAddr := c.blockAlign(a)
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		offset := a % uint64(c.config.BlockSize)
		data := extractData(c.dataStore[c.blockIndex(block)], offset, size)

		return AccessResult{
			Hit:     true,
			Latency: c.config.HitLatency,
			Data:    data,
		}
	}

	c.stats.Misses++
	return c.handleMiss(a, size, false, 0)
}

// Write performs a cache write operation.
// Uses write-allocate policy: on miss, fetch the block first, then write.
func (c *Cache) Write(a uint64, size int, data uint64) AccessResult {
	c.stats.Writes++

	blockAddr := c.blockAlign(a)
	block := c.directory.Lookup(0, blockAddr)

	if block != nil && block.IsValid {
		c.stats.Hits++
		c.directory.Visit(block)

		offset := a % uint64(c.config.BlockSize)
		storeData(c.dataStore[c.blockIndex(block)], offset, size, data)
		block.IsDirty = true

		return AccessResult{
			Hit:     true,
			Latency: c.config.HitLatency,
		}
	}

	c.stats.Misses++
	return c.handleMiss(a, size, true, data)
}

// handleMiss handles a cache miss by fetching from the backing store.
func (c *Cache) handleMiss(a uint64, size int, isWrite bool, writeData uint64) AccessResult {
	result := AccessResult{
		Hit:     false,
		Latency: c.config.MissLatency,
	}

	blockAddr := c.blockAlign(a)

	victim := c.directory.FindVictim(blockAddr)
	if victim == nil {
		return result
	}

	victimData := c.dataStore[c.blockIndex(victim)]

	if victim.IsValid {
		c.stats.Evictions++
		result.Evicted = true
		result.EvictedAddr = victim.Tag

		if victim.IsDirty && c.backing != nil {
			c.stats.Writebacks++
			c.backing.Write(victim.Tag, victimData)
		}
	}

	if c.backing != nil {
		newData := c.backing.Read(blockAddr, c.config.BlockSize)
		copy(victimData, newData)
	} else {
		for i := range victimData {
			victimData[i] = 0
		}
	}

	// Tag stores the block-aligned address
	victim.Tag = blockAddr
	victim.IsValid = true
	victim.IsDirty = false

	offset := a % uint64(c.config.BlockSize)
	if isWrite {
		storeData(victimData, offset, size, writeData)
		victim.IsDirty = true
	} else {
		result.Data = extractData(victimData, offset, size)
	}

	c.directory.Visit(victim)

	return result
}

// Invalidate marks a cache line as invalid.
func (c *Cache) Invalidate(a uint64) {
	block := c.directory.Lookup(0, c.blockAlign(a))
	if block != nil && block.IsValid {
		block.IsValid = false
		block.IsDirty = false
	}
}

// Flush writes back all dirty blocks and invalidates them.
func (c *Cache) Flush() {
	sets := c.directory.GetSets()
	for _, set := range sets {
		for _, block := range set.Blocks {
			if block.IsValid && block.IsDirty && c.backing != nil {
				c.backing.Write(block.Tag, c.dataStore[c.blockIndex(block)])
				c.stats.Writebacks++
			}
			block.IsValid = false
			block.IsDirty = false
		}
	}
}

// Reset invalidates all cache lines without writeback.
func (c *Cache) Reset() {
	c.directory.Reset()
	c.stats = Statistics{}
}

// CheckpointContents returns every valid block with its coordinates and
// block-aligned address.
func (c *Cache) CheckpointContents() []CheckpointEntry {
	var entries []CheckpointEntry
	sets := c.directory.GetSets()
	for _, set := range sets {
		for _, block := range set.Blocks {
			if !block.IsValid {
				continue
			}
			entries = append(entries, CheckpointEntry{
				Set:     block.SetID,
				Way:     block.WayID,
				Address: addr.Address(block.Tag),
			})
		}
	}
	return entries
}

// RestoreCheckpoint replaces the cache contents with the given entries. The
// cache is emptied first, so restoring an empty set of entries clears it.
// Block data is refetched from the backing store; checkpoints carry only
// addresses.
func (c *Cache) RestoreCheckpoint(entries []CheckpointEntry) error {
	c.directory.Reset()

	sets := c.directory.GetSets()
	for _, e := range entries {
		if e.Set < 0 || e.Set >= c.numSets() {
			return fmt.Errorf("cache %s checkpoint set %d out of range", c.config.Name, e.Set)
		}
		if e.Way < 0 || e.Way >= c.config.Associativity {
			return fmt.Errorf("cache %s checkpoint way %d out of range", c.config.Name, e.Way)
		}

		block := sets[e.Set].Blocks[e.Way]
		block.Tag = c.blockAlign(uint64(e.Address))
		block.IsValid = true
		block.IsDirty = false

		blockData := c.dataStore[c.blockIndex(block)]
		if c.backing != nil {
			copy(blockData, c.backing.Read(block.Tag, c.config.BlockSize))
		} else {
			for i := range blockData {
				blockData[i] = 0
			}
		}

		// Visit in file order so restored recency is deterministic.
		c.directory.Visit(block)
	}

	return nil
}

// extractData extracts a value of the given size from a byte slice.
func extractData(data []byte, offset uint64, size int) uint64 {
	if data == nil || int(offset)+size > len(data) {
		return 0
	}

	var result uint64
	for i := 0; i < size; i++ {
		result |= uint64(data[int(offset)+i]) << (i * 8)
	}
	return result
}

// storeData stores a value of the given size into a byte slice.
func storeData(data []byte, offset uint64, size int, value uint64) {
	if data == nil || int(offset)+size > len(data) {
		return
	}

	for i := 0; i < size; i++ {
		data[int(offset)+i] = byte(value >> (i * 8))
	}
}
