package btb_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/btbsim/addr"
	"github.com/sarchlab/btbsim/btb"
)

var _ = Describe("BTB", func() {
	var b *btb.BTB

	BeforeEach(func() {
		b = btb.New(btb.DefaultConfig())
	})

	Describe("Predict", func() {
		It("should predict nothing for an unseen IP", func() {
			target, taken := b.Predict(0x1000)
			Expect(target).To(Equal(addr.Address(0)))
			Expect(taken).To(BeFalse())
		})

		It("should predict a learned direct jump taken", func() {
			b.Update(0x1000, 0x2000, true, btb.BranchDirectJump)

			target, taken := b.Predict(0x1000)
			Expect(target).To(Equal(addr.Address(0x2000)))
			Expect(taken).To(BeTrue())
		})

		It("should record a never-taken conditional but predict not taken", func() {
			b.Update(0x1100, 0x1200, false, btb.BranchConditional)

			target, taken := b.Predict(0x1100)
			Expect(target).To(Equal(addr.Address(0x1200)))
			Expect(taken).To(BeFalse())
		})

		It("should predict a learned indirect branch through the indirect table", func() {
			b.Update(0x5000, 0xA000, true, btb.BranchIndirect)

			target, taken := b.Predict(0x5000)
			Expect(target).To(Equal(addr.Address(0xA000)))
			Expect(taken).To(BeTrue())
		})

		It("should keep an entry alive while its set has spare ways", func() {
			b.Update(0x1000, 0x2000, true, btb.BranchDirectJump)

			// seven more tags land in the same set, filling it exactly
			for k := 1; k < 8; k++ {
				ip := addr.Address(0x1000 + k*0x1000)
				b.Update(ip, 0x2000, true, btb.BranchDirectJump)
			}

			target, taken := b.Predict(0x1000)
			Expect(target).To(Equal(addr.Address(0x2000)))
			Expect(taken).To(BeTrue())
		})

		It("should evict the oldest tag when a set overflows", func() {
			// nine distinct tags mapping to the same set of an 8-way table
			for k := 0; k < 9; k++ {
				ip := addr.Address(0x1000 + k*0x1000)
				b.Update(ip, 0x2000, true, btb.BranchDirectJump)
			}

			_, taken := b.Predict(0x1000)
			Expect(taken).To(BeFalse())

			for k := 1; k < 9; k++ {
				ip := addr.Address(0x1000 + k*0x1000)
				target, taken := b.Predict(ip)
				Expect(taken).To(BeTrue())
				Expect(target).To(Equal(addr.Address(0x2000)))
			}
		})
	})

	Describe("return stack", func() {
		It("should predict return targets in LIFO order", func() {
			b.Update(0x3000, 0x8000, true, btb.BranchDirectCall)
			b.Update(0x3100, 0x8000, true, btb.BranchDirectCall)
			// the return target matches the default call width, so the
			// tracker stays at 4
			b.Update(0x5000, 0x3104, true, btb.BranchReturn)

			target, taken := b.Predict(0x5000)
			Expect(taken).To(BeTrue())
			Expect(target).To(Equal(addr.Address(0x3104)))

			target, taken = b.Predict(0x5000)
			Expect(taken).To(BeTrue())
			Expect(target).To(Equal(addr.Address(0x3004)))

			_, taken = b.Predict(0x5000)
			Expect(taken).To(BeFalse())
		})

		It("should drop the oldest entries on overflow", func() {
			config := btb.DefaultConfig()
			config.ReturnStackCap = 4
			b = btb.New(config)

			for k := 0; k < 6; k++ {
				b.Update(addr.Address(0x3000+k*0x100), 0x8000, true, btb.BranchDirectCall)
			}
			b.Update(0x5000, 0x3504, true, btb.BranchReturn)

			// the most recent four survive: calls 5, 4, 3, 2
			for k := 5; k >= 2; k-- {
				target, taken := b.Predict(0x5000)
				Expect(taken).To(BeTrue())
				Expect(target).To(Equal(addr.Address(0x3004 + k*0x100)))
			}
			_, taken := b.Predict(0x5000)
			Expect(taken).To(BeFalse())
		})

		It("should calibrate the call size from observed return targets", func() {
			// the ISA at this site uses 8-byte calls; the first return
			// teaches the tracker
			b.Update(0x4000, 0x9000, true, btb.BranchDirectCall)
			b.Update(0x5000, 0x4008, true, btb.BranchReturn)
			b.Predict(0x5000) // drain the mispredicted entry

			b.Update(0x4000, 0x9000, true, btb.BranchDirectCall)
			target, taken := b.Predict(0x5000)
			Expect(taken).To(BeTrue())
			Expect(target).To(Equal(addr.Address(0x4008)))
		})
	})

	Describe("indirect history", func() {
		It("should shift only on conditional updates", func() {
			b.Update(0x5000, 0xA000, true, btb.BranchIndirect)
			Expect(b.CheckpointContents().IndirectHistory).To(Equal(uint64(0)))

			b.Update(0x1100, 0x1200, true, btb.BranchConditional)
			Expect(b.CheckpointContents().IndirectHistory).To(Equal(uint64(1)))

			b.Update(0x1100, 0x1200, false, btb.BranchConditional)
			Expect(b.CheckpointContents().IndirectHistory).To(Equal(uint64(2)))
		})

		It("should index the indirect table with the history register", func() {
			b.Update(0x5000, 0xA000, true, btb.BranchIndirect)

			// shifting the history moves the index, so the learned target
			// is no longer visible
			b.Update(0x1100, 0x1200, true, btb.BranchConditional)

			target, taken := b.Predict(0x5000)
			Expect(taken).To(BeTrue())
			Expect(target).To(Equal(addr.Address(0)))
		})

		It("should keep only the low history bits", func() {
			config := btb.DefaultConfig()
			config.HistoryBits = 2
			b = btb.New(config)

			for i := 0; i < 5; i++ {
				b.Update(0x1100, 0x1200, true, btb.BranchConditional)
			}
			Expect(b.CheckpointContents().IndirectHistory).To(Equal(uint64(3)))
		})
	})

	Describe("checkpointing", func() {
		It("should restore its own checkpoint to an equal state", func() {
			b.Update(0x1000, 0x2000, true, btb.BranchDirectJump)
			b.Update(0x1100, 0x1200, false, btb.BranchConditional)
			b.Update(0x3000, 0x8000, true, btb.BranchDirectCall)
			b.Update(0x5000, 0xA000, true, btb.BranchIndirect)

			state := b.CheckpointContents()
			Expect(b.RestoreCheckpoint(state)).To(Succeed())
			Expect(b.CheckpointContents()).To(Equal(state))
		})

		It("should preserve predictions across restore into a fresh BTB", func() {
			b.Update(0x1000, 0x2000, true, btb.BranchDirectJump)
			b.Update(0x5000, 0xA000, true, btb.BranchIndirect)

			fresh := btb.New(btb.DefaultConfig())
			Expect(fresh.RestoreCheckpoint(b.CheckpointContents())).To(Succeed())

			target, taken := fresh.Predict(0x1000)
			Expect(target).To(Equal(addr.Address(0x2000)))
			Expect(taken).To(BeTrue())

			target, taken = fresh.Predict(0x5000)
			Expect(target).To(Equal(addr.Address(0xA000)))
			Expect(taken).To(BeTrue())
		})

		It("should reject a direct geometry mismatch", func() {
			state := b.CheckpointContents()

			config := btb.DefaultConfig()
			config.Sets = 512
			smaller := btb.New(config)

			err := smaller.RestoreCheckpoint(state)
			var geomErr *btb.GeometryError
			Expect(errors.As(err, &geomErr)).To(BeTrue())
			Expect(geomErr.Expected).To(Equal(512))
			Expect(geomErr.Found).To(Equal(1024))
		})

		It("should reject an indirect table size mismatch", func() {
			state := b.CheckpointContents()

			config := btb.DefaultConfig()
			config.IndirectSize = 1024
			smaller := btb.New(config)

			err := smaller.RestoreCheckpoint(state)
			var geomErr *btb.GeometryError
			Expect(errors.As(err, &geomErr)).To(BeTrue())
		})

		It("should tolerate zero geometry and empty tables", func() {
			b.Update(0x1000, 0x2000, true, btb.BranchDirectJump)

			Expect(b.RestoreCheckpoint(btb.State{})).To(Succeed())

			_, taken := b.Predict(0x1000)
			Expect(taken).To(BeFalse())
		})

		It("should reset call size trackers to the default on an empty checkpoint", func() {
			// train a tracker away from the default
			b.Update(0x4000, 0x9000, true, btb.BranchDirectCall)
			b.Update(0x5000, 0x4008, true, btb.BranchReturn)

			Expect(b.RestoreCheckpoint(btb.State{})).To(Succeed())

			state := b.CheckpointContents()
			for _, size := range state.CallSizeTrackers {
				Expect(size).To(Equal(addr.Diff(4)))
			}
		})

		It("should cap a restored return stack at its capacity", func() {
			config := btb.DefaultConfig()
			config.ReturnStackCap = 2
			b = btb.New(config)

			state := btb.State{
				ReturnStack: []addr.Address{0x1000, 0x2000, 0x3000},
			}
			Expect(b.RestoreCheckpoint(state)).To(Succeed())

			restored := b.CheckpointContents()
			Expect(restored.ReturnStack).To(Equal([]addr.Address{0x2000, 0x3000}))
		})
	})

	Describe("Stats", func() {
		It("should count predictions, hits, and misses", func() {
			b.Update(0x1000, 0x2000, true, btb.BranchDirectJump)

			b.Predict(0x1000)
			b.Predict(0x9999)

			stats := b.Stats()
			Expect(stats.Predictions).To(Equal(uint64(2)))
			Expect(stats.Hits).To(Equal(uint64(1)))
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Updates).To(Equal(uint64(1)))
			Expect(stats.HitRate()).To(BeNumerically("~", 50.0, 0.001))
		})

		It("should clear on ResetStats", func() {
			b.Predict(0x1000)
			b.ResetStats()
			Expect(b.Stats()).To(Equal(btb.Stats{}))
		})
	})
})

var _ = Describe("Config", func() {
	It("should reject a set count that is not a power of two", func() {
		config := btb.DefaultConfig()
		config.Sets = 1000
		Expect(config.Validate()).To(HaveOccurred())
	})

	It("should reject an indirect size that is not a power of two", func() {
		config := btb.DefaultConfig()
		config.IndirectSize = 4000
		Expect(config.Validate()).To(HaveOccurred())
	})

	It("should accept the defaults", func() {
		Expect(btb.DefaultConfig().Validate()).To(Succeed())
	})

	It("should fill zero fields with defaults in New", func() {
		b := btb.New(btb.Config{})
		state := b.CheckpointContents()
		Expect(state.DirectSets).To(Equal(1024))
		Expect(state.DirectWays).To(Equal(8))
		Expect(state.IndirectSize).To(Equal(4096))
		Expect(state.CallSizeTrackerSize).To(Equal(1024))
	})
})
