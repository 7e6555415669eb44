// Package addr provides the word-address value type shared by the predictor
// and checkpoint packages.
package addr

import "fmt"

// Address is an opaque 64-bit word address. The zero value means "no
// address" and is what empty predictor slots hold.
type Address uint64

// Diff is a signed byte offset between two addresses. Call-instruction sizes
// are carried as Diff values.
type Diff int64

// Bits extracts the bit range [lo, hi) of the address, shifted down to bit 0.
// The range is half-open: Bits(2, 12) yields ten bits. Ranges reaching past
// bit 64 are truncated at 64.
func (a Address) Bits(lo, hi uint) uint64 {
	if hi <= lo || lo >= 64 {
		return 0
	}
	v := uint64(a) >> lo
	width := hi - lo
	if width >= 64 {
		return v
	}
	return v & ((uint64(1) << width) - 1)
}

// Add returns the address offset by d.
func (a Address) Add(d Diff) Address {
	return Address(uint64(a) + uint64(d))
}

// Sub returns the signed offset a - b.
func (a Address) Sub(b Address) Diff {
	return Diff(uint64(a) - uint64(b))
}

// String formats the address as 0x-prefixed hex, the form the checkpoint
// codec writes.
func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}
