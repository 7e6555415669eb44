package addr_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/btbsim/addr"
)

var _ = Describe("Address", func() {
	It("should default to zero", func() {
		var a addr.Address
		Expect(a).To(Equal(addr.Address(0)))
	})

	Describe("Bits", func() {
		It("should extract a half-open bit range", func() {
			a := addr.Address(0x1234)
			// bits [4, 12) of 0x1234 are 0x23
			Expect(a.Bits(4, 12)).To(Equal(uint64(0x23)))
		})

		It("should return zero for an empty range", func() {
			a := addr.Address(0xFFFF)
			Expect(a.Bits(8, 8)).To(Equal(uint64(0)))
			Expect(a.Bits(12, 4)).To(Equal(uint64(0)))
		})

		It("should extract the full word with [0, 64)", func() {
			a := addr.Address(0xDEADBEEFDEADBEEF)
			Expect(a.Bits(0, 64)).To(Equal(uint64(0xDEADBEEFDEADBEEF)))
		})

		It("should truncate ranges past bit 64", func() {
			a := addr.Address(0xF000000000000000)
			Expect(a.Bits(60, 128)).To(Equal(uint64(0xF)))
		})

		It("should drop low-order alignment bits", func() {
			a := addr.Address(0x1043)
			Expect(a.Bits(2, 12)).To(Equal(uint64(0x10)))
		})
	})

	Describe("arithmetic", func() {
		It("should round-trip Add and Sub", func() {
			a := addr.Address(0x4000)
			b := a.Add(12)
			Expect(b).To(Equal(addr.Address(0x400C)))
			Expect(b.Sub(a)).To(Equal(addr.Diff(12)))
		})

		It("should produce negative differences", func() {
			a := addr.Address(0x1000)
			b := addr.Address(0x0F00)
			Expect(b.Sub(a)).To(Equal(addr.Diff(-0x100)))
			Expect(a.Add(-0x100)).To(Equal(b))
		})
	})

	Describe("String", func() {
		It("should format as 0x-prefixed hex", func() {
			Expect(addr.Address(0x2000).String()).To(Equal("0x2000"))
			Expect(addr.Address(0).String()).To(Equal("0x0"))
		})
	})
})
