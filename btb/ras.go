package btb

import "github.com/sarchlab/btbsim/addr"

// returnStack predicts return targets. On a call it pushes the call IP plus
// the tracked size of that call instruction; on a return it pops. The
// call-size trackers adapt to the byte widths actually observed at
// retirement, which recovers the stack on ISAs with variable-width calls.
type returnStack struct {
	stack    []addr.Address
	maxSize  int
	trackers []addr.Diff

	// most recent call IP, for calibrating its tracker slot on the
	// matching return; not part of the architectural state.
	lastCall     addr.Address
	haveLastCall bool
}

func newReturnStack(maxSize, trackerSize int, defaultCallSize addr.Diff) *returnStack {
	r := &returnStack{
		stack:    make([]addr.Address, 0, maxSize),
		maxSize:  maxSize,
		trackers: make([]addr.Diff, trackerSize),
	}
	for i := range r.trackers {
		r.trackers[i] = defaultCallSize
	}
	return r
}

func (r *returnStack) trackerSlot(callIP addr.Address) int {
	return int(uint64(callIP) % uint64(len(r.trackers)))
}

// push records the predicted return address for a call at callIP. When the
// stack is full the oldest entry is dropped from the bottom.
func (r *returnStack) push(callIP addr.Address) {
	estimated := callIP.Add(r.trackers[r.trackerSlot(callIP)])
	r.stack = append(r.stack, estimated)
	if len(r.stack) > r.maxSize {
		r.stack = r.stack[1:]
	}
	r.lastCall = callIP
	r.haveLastCall = true
}

// prediction pops the predicted return target off the top of the stack. An
// empty stack predicts nothing.
func (r *returnStack) prediction() (addr.Address, bool) {
	if len(r.stack) == 0 {
		return 0, false
	}
	top := r.stack[len(r.stack)-1]
	r.stack = r.stack[:len(r.stack)-1]
	return top, true
}

// calibrateCallSize adjusts the tracker for the most recent call toward the
// call width the architectural return target implies. The tracker adopts the
// last observed width, so a sustained streak of width s converges to s.
func (r *returnStack) calibrateCallSize(actualTarget addr.Address) {
	if !r.haveLastCall {
		return
	}
	observed := actualTarget.Sub(r.lastCall)
	if observed <= 0 {
		return
	}
	r.trackers[r.trackerSlot(r.lastCall)] = observed
}
