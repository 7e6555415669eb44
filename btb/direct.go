package btb

import "github.com/sarchlab/btbsim/addr"

// directEntry is what the direct-target table stores per branch IP. A zero
// ipTag marks an empty way.
type directEntry struct {
	ipTag  addr.Address
	target addr.Address
	kind   BranchKind
}

// directPredictor answers target predictions for any branch kind by IP and
// remembers the most recently observed kind per IP. Any observed branch
// occupies the table, including conditionals that have never been taken, so
// the direction machinery elsewhere always has an entry to work against.
type directPredictor struct {
	table *lruTable[directEntry]
}

func newDirectPredictor(sets, ways, log2Block int) *directPredictor {
	return &directPredictor{
		table: newLRUTable[directEntry](sets, ways, log2Block),
	}
}

func (d *directPredictor) checkHit(ip addr.Address) (directEntry, bool) {
	e := d.table.checkHit(ip, func(candidate directEntry) bool {
		return candidate.ipTag != 0 && candidate.ipTag == ip
	})
	if e == nil {
		return directEntry{}, false
	}
	return *e, true
}

func (d *directPredictor) update(ip, target addr.Address, kind BranchKind) {
	e := d.table.checkHit(ip, func(candidate directEntry) bool {
		return candidate.ipTag != 0 && candidate.ipTag == ip
	})
	if e != nil {
		e.target = target
		e.kind = kind
		return
	}
	d.table.fill(ip, directEntry{ipTag: ip, target: target, kind: kind})
}
