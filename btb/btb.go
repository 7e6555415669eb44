// Package btb implements a per-CPU branch target buffer: a set-associative
// direct-target table with LRU replacement, a history-hashed indirect-target
// predictor, and a return address stack with adaptive call-size tracking.
package btb

import (
	"fmt"

	"github.com/sarchlab/btbsim/addr"
)

// Branch type codes, shared with the host simulator.
const (
	NotBranch uint8 = iota
	BranchDirectJump
	BranchIndirect
	BranchConditional
	BranchDirectCall
	BranchIndirectCall
	BranchReturn
	BranchOther
)

// BranchKind is the branch classification stored per direct-table entry. The
// encoding is fixed because it appears verbatim in checkpoints.
type BranchKind uint8

const (
	// KindIndirect routes predictions through the indirect predictor.
	KindIndirect BranchKind = 0
	// KindReturn routes predictions through the return stack.
	KindReturn BranchKind = 1
	// KindConditional predicts the stored target but not taken.
	KindConditional BranchKind = 2
	// KindAlwaysTaken predicts the stored target, taken.
	KindAlwaysTaken BranchKind = 3
)

// kindFromCode maps a host branch type code to the stored kind.
func kindFromCode(branchType uint8) BranchKind {
	switch branchType {
	case BranchIndirect, BranchIndirectCall:
		return KindIndirect
	case BranchReturn:
		return KindReturn
	case BranchConditional:
		return KindConditional
	default:
		return KindAlwaysTaken
	}
}

// kindFromStored decodes a checkpointed kind value. Unknown values fall back
// to always-taken, same as the host.
func kindFromStored(value uint8) BranchKind {
	switch BranchKind(value) {
	case KindIndirect, KindReturn, KindConditional:
		return BranchKind(value)
	default:
		return KindAlwaysTaken
	}
}

// Stats holds prediction counters for one BTB.
type Stats struct {
	// Predictions is the total number of Predict calls.
	Predictions uint64
	// Hits is the number of Predict calls that found a direct-table entry.
	Hits uint64
	// Misses is the number of Predict calls that found no entry.
	Misses uint64
	// Updates is the total number of Update calls.
	Updates uint64
}

// HitRate returns the direct-table hit rate as a percentage.
func (s Stats) HitRate() float64 {
	if s.Predictions == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.Predictions) * 100
}

// GeometryError reports a non-zero checkpoint dimension that disagrees with
// the live configuration.
type GeometryError struct {
	Component string
	Expected  int
	Found     int
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("BTB checkpoint %s mismatch: expected %d, found %d",
		e.Component, e.Expected, e.Found)
}

// BTB coordinates the three predictors for one simulated CPU. It is owned
// and driven by a single caller; there is no internal synchronisation.
type BTB struct {
	config   Config
	direct   *directPredictor
	indirect *indirectPredictor
	ras      *returnStack
	stats    Stats
}

// New creates a BTB with the given configuration. Zero geometry fields take
// their defaults.
func New(config Config) *BTB {
	def := DefaultConfig()
	if config.Sets == 0 {
		config.Sets = def.Sets
	}
	if config.Ways == 0 {
		config.Ways = def.Ways
	}
	if config.Log2Block == 0 {
		config.Log2Block = def.Log2Block
	}
	if config.IndirectSize == 0 {
		config.IndirectSize = def.IndirectSize
	}
	if config.HistoryBits == 0 {
		config.HistoryBits = def.HistoryBits
	}
	if config.ReturnStackCap == 0 {
		config.ReturnStackCap = def.ReturnStackCap
	}
	if config.CallTrackerSize == 0 {
		config.CallTrackerSize = def.CallTrackerSize
	}
	if config.DefaultCallSize == 0 {
		config.DefaultCallSize = def.DefaultCallSize
	}

	return &BTB{
		config:   config,
		direct:   newDirectPredictor(config.Sets, config.Ways, config.Log2Block),
		indirect: newIndirectPredictor(config.IndirectSize, config.HistoryBits),
		ras:      newReturnStack(config.ReturnStackCap, config.CallTrackerSize, config.DefaultCallSize),
	}
}

// CPU returns the id of the CPU this BTB belongs to.
func (b *BTB) CPU() int {
	return b.config.CPU
}

// Config returns the BTB configuration.
func (b *BTB) Config() Config {
	return b.config
}

// Predict returns the predicted target and taken direction for the branch at
// ip. An IP the BTB has never seen predicts (0, not taken). Returns consult
// the return stack and indirect branches the indirect predictor; their
// answers are always reported taken.
func (b *BTB) Predict(ip addr.Address) (addr.Address, bool) {
	b.stats.Predictions++

	entry, ok := b.direct.checkHit(ip)
	if !ok {
		b.stats.Misses++
		return 0, false
	}
	b.stats.Hits++

	switch entry.kind {
	case KindReturn:
		return b.ras.prediction()
	case KindIndirect:
		return b.indirect.prediction(ip)
	default:
		return entry.target, entry.kind != KindConditional
	}
}

// Update trains the BTB with the architectural outcome of the branch at ip.
// branchType is a host branch type code.
func (b *BTB) Update(ip, target addr.Address, taken bool, branchType uint8) {
	b.stats.Updates++

	if branchType == BranchDirectCall || branchType == BranchIndirectCall {
		b.ras.push(ip)
	}

	if branchType == BranchIndirect || branchType == BranchIndirectCall {
		b.indirect.updateTarget(ip, target)
	}

	if branchType == BranchConditional {
		b.indirect.updateDirection(taken)
	}

	if branchType == BranchReturn {
		b.ras.calibrateCallSize(target)
	}

	b.direct.update(ip, target, kindFromCode(branchType))
}

// Stats returns the prediction counters.
func (b *BTB) Stats() Stats {
	return b.stats
}

// ResetStats clears the prediction counters.
func (b *BTB) ResetStats() {
	b.stats = Stats{}
}

// CheckpointContents captures the full predictor state, empty direct-table
// ways included.
func (b *BTB) CheckpointContents() State {
	state := State{
		DirectSets:          b.config.Sets,
		DirectWays:          b.config.Ways,
		IndirectSize:        len(b.indirect.predictor),
		IndirectTargets:     make([]addr.Address, len(b.indirect.predictor)),
		IndirectHistory:     b.indirect.history,
		ReturnStack:         append([]addr.Address(nil), b.ras.stack...),
		CallSizeTrackerSize: len(b.ras.trackers),
		CallSizeTrackers:    make([]addr.Diff, len(b.ras.trackers)),
	}

	slots := b.direct.table.contents()
	state.DirectEntries = make([]DirectEntry, 0, len(slots))
	for _, slot := range slots {
		state.DirectEntries = append(state.DirectEntries, DirectEntry{
			Set:      slot.set,
			Way:      slot.way,
			LastUsed: slot.lastUsed,
			IP:       slot.data.ipTag,
			Target:   slot.data.target,
			Type:     uint8(slot.data.kind),
		})
	}

	copy(state.IndirectTargets, b.indirect.predictor)
	copy(state.CallSizeTrackers, b.ras.trackers)

	return state
}

// RestoreCheckpoint replaces the predictor state with a previously captured
// one. Non-zero checkpoint dimensions must match the live geometry exactly;
// a mismatch yields a GeometryError and leaves the BTB unchanged.
func (b *BTB) RestoreCheckpoint(state State) error {
	if state.DirectSets != 0 && state.DirectSets != b.config.Sets {
		return &GeometryError{Component: "direct set count", Expected: b.config.Sets, Found: state.DirectSets}
	}
	if state.DirectWays != 0 && state.DirectWays != b.config.Ways {
		return &GeometryError{Component: "direct way count", Expected: b.config.Ways, Found: state.DirectWays}
	}
	if len(state.IndirectTargets) != 0 && len(state.IndirectTargets) != len(b.indirect.predictor) {
		return &GeometryError{
			Component: "indirect table size",
			Expected:  len(b.indirect.predictor),
			Found:     len(state.IndirectTargets),
		}
	}
	if len(state.CallSizeTrackers) != 0 && len(state.CallSizeTrackers) != len(b.ras.trackers) {
		return &GeometryError{
			Component: "call size tracker size",
			Expected:  len(b.ras.trackers),
			Found:     len(state.CallSizeTrackers),
		}
	}
	for _, e := range state.DirectEntries {
		if e.Set < 0 || e.Set >= b.config.Sets {
			return &GeometryError{Component: "direct entry set", Expected: b.config.Sets, Found: e.Set}
		}
		if e.Way < 0 || e.Way >= b.config.Ways {
			return &GeometryError{Component: "direct entry way", Expected: b.config.Ways, Found: e.Way}
		}
	}

	slots := make([]lruSlot[directEntry], 0, len(state.DirectEntries))
	for _, e := range state.DirectEntries {
		slots = append(slots, lruSlot[directEntry]{
			set:      e.Set,
			way:      e.Way,
			lastUsed: e.LastUsed,
			data: directEntry{
				ipTag:  e.IP,
				target: e.Target,
				kind:   kindFromStored(e.Type),
			},
		})
	}
	b.direct.table.restore(slots)

	for i := range b.indirect.predictor {
		b.indirect.predictor[i] = 0
	}
	copy(b.indirect.predictor, state.IndirectTargets)
	b.indirect.history = state.IndirectHistory & b.indirect.historyMask

	b.ras.stack = b.ras.stack[:0]
	for _, a := range state.ReturnStack {
		b.ras.stack = append(b.ras.stack, a)
		if len(b.ras.stack) > b.ras.maxSize {
			b.ras.stack = b.ras.stack[1:]
		}
	}
	b.ras.haveLastCall = false

	if len(state.CallSizeTrackers) == 0 {
		for i := range b.ras.trackers {
			b.ras.trackers[i] = b.config.DefaultCallSize
		}
	} else {
		copy(b.ras.trackers, state.CallSizeTrackers)
	}

	return nil
}
