package btb

import "github.com/sarchlab/btbsim/addr"

// indirectPredictor holds a direct-mapped table of indirect-branch targets
// indexed by the branch IP hashed with a sliding conditional-direction
// history register. The table size must be a power of two; the index is the
// low bits of ip XOR history.
type indirectPredictor struct {
	predictor   []addr.Address
	mask        uint64
	history     uint64
	historyMask uint64
}

func newIndirectPredictor(size, historyBits int) *indirectPredictor {
	return &indirectPredictor{
		predictor:   make([]addr.Address, size),
		mask:        uint64(size) - 1,
		historyMask: (uint64(1) << uint(historyBits)) - 1,
	}
}

func (p *indirectPredictor) index(ip addr.Address) int {
	return int((uint64(ip) ^ p.history) & p.mask)
}

// prediction always reports taken; an untrained slot predicts target zero.
func (p *indirectPredictor) prediction(ip addr.Address) (addr.Address, bool) {
	return p.predictor[p.index(ip)], true
}

func (p *indirectPredictor) updateTarget(ip, target addr.Address) {
	p.predictor[p.index(ip)] = target
}

// updateDirection shifts the observed conditional outcome into the history
// register. Only conditional branches feed this; indirect updates leave the
// history untouched.
func (p *indirectPredictor) updateDirection(taken bool) {
	p.history <<= 1
	if taken {
		p.history |= 1
	}
	p.history &= p.historyMask
}
