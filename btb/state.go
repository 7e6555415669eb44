package btb

import "github.com/sarchlab/btbsim/addr"

// DirectEntry is one way of the direct-target table as captured in a
// checkpoint. Empty ways are captured too, with a zero IP.
type DirectEntry struct {
	Set      int
	Way      int
	LastUsed uint64
	IP       addr.Address
	Target   addr.Address
	Type     uint8
}

// State is the full checkpointable state of one BTB. It is what the
// checkpoint codec emits and what RestoreCheckpoint consumes.
type State struct {
	DirectSets    int
	DirectWays    int
	DirectEntries []DirectEntry

	IndirectSize    int
	IndirectTargets []addr.Address
	IndirectHistory uint64

	ReturnStack []addr.Address

	CallSizeTrackerSize int
	CallSizeTrackers    []addr.Diff
}
