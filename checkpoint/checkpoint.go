// Package checkpoint implements the line-oriented text format that captures
// and restores cache contents and per-CPU branch target buffer state.
//
// A checkpoint file holds two kinds of sections:
//
//	Cache: <name>
//	  Set: <n> Way: <n> Address: <addr>
//	EndCache
//
//	BTB: CPU <cpu_id>
//	  DirectGeometry: Sets <n> Ways <n>
//	  IndirectSize: <n>
//	  IndirectHistory: <u64>
//	  CallSizeTrackerSize: <n>
//	  DirectEntry: Set <n> Way <n> LastUsed <u64> IP: <addr> Target: <addr> Type: <u8>
//	  IndirectEntry: Index <n> Target: <addr>
//	  ReturnStackEntry: <addr>
//	  CallSizeTracker: Index <n> Size <i64>
//	EndBTB
//
// Blank lines and #-prefixed lines are skipped. Lines the parser does not
// recognise are skipped only outside a BTB section; inside one they are
// fatal. Address tokens accept 0x hex, 0-prefixed octal, and decimal.
package checkpoint

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/sarchlab/btbsim/addr"
	"github.com/sarchlab/btbsim/btb"
	"github.com/sarchlab/btbsim/cache"
)

// Environment exposes the components a checkpoint covers: the caches and the
// per-CPU BTBs of the simulated machine.
type Environment interface {
	CacheView() []*cache.Cache
	CPUView() []*btb.BTB
}

// Contents is the parsed form of a checkpoint file.
type Contents struct {
	Caches map[string][]cache.CheckpointEntry
	BTBs   map[int]btb.State
}

// Write emits a checkpoint for the environment to w.
func Write(w io.Writer, env Environment) error {
	bw := bufio.NewWriter(w)

	for _, c := range env.CacheView() {
		fmt.Fprintf(bw, "Cache: %s\n", c.Name())
		for _, entry := range c.CheckpointContents() {
			fmt.Fprintf(bw, "  Set: %d Way: %d Address: %v\n", entry.Set, entry.Way, entry.Address)
		}
		fmt.Fprintf(bw, "EndCache\n")
	}

	for _, b := range env.CPUView() {
		state := b.CheckpointContents()

		fmt.Fprintf(bw, "BTB: CPU %d\n", b.CPU())
		fmt.Fprintf(bw, "  DirectGeometry: Sets %d Ways %d\n", state.DirectSets, state.DirectWays)
		fmt.Fprintf(bw, "  IndirectSize: %d\n", state.IndirectSize)
		fmt.Fprintf(bw, "  IndirectHistory: %d\n", state.IndirectHistory)
		fmt.Fprintf(bw, "  CallSizeTrackerSize: %d\n", state.CallSizeTrackerSize)

		for _, entry := range state.DirectEntries {
			fmt.Fprintf(bw, "  DirectEntry: Set %d Way %d LastUsed %d IP: %v Target: %v Type: %d\n",
				entry.Set, entry.Way, entry.LastUsed, entry.IP, entry.Target, entry.Type)
		}

		for index, target := range state.IndirectTargets {
			fmt.Fprintf(bw, "  IndirectEntry: Index %d Target: %v\n", index, target)
		}

		for _, a := range state.ReturnStack {
			fmt.Fprintf(bw, "  ReturnStackEntry: %v\n", a)
		}

		for index, size := range state.CallSizeTrackers {
			fmt.Fprintf(bw, "  CallSizeTracker: Index %d Size %d\n", index, size)
		}

		fmt.Fprintf(bw, "EndBTB\n")
	}

	return bw.Flush()
}

// Save writes a checkpoint for the environment to the file at path.
func Save(path string, env Environment) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file for writing: %w", err)
	}
	defer f.Close()

	if err := Write(f, env); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return f.Close()
}

// Load parses the checkpoint file at path and applies it to the environment.
// A live cache with no section in the file is restored to empty; a CPU with
// no BTB section keeps its current state.
func Load(path string, env Environment) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint file for reading: %w", err)
	}
	defer f.Close()

	contents, err := Parse(f)
	if err != nil {
		return err
	}
	return Apply(contents, env)
}

// Apply restores parsed checkpoint contents into the environment.
func Apply(contents *Contents, env Environment) error {
	for _, c := range env.CacheView() {
		if err := c.RestoreCheckpoint(contents.Caches[c.Name()]); err != nil {
			return err
		}
	}

	for _, b := range env.CPUView() {
		state, ok := contents.BTBs[b.CPU()]
		if !ok {
			continue
		}
		if err := b.RestoreCheckpoint(state); err != nil {
			return err
		}
	}

	return nil
}

// fieldReader walks the whitespace-separated tokens of one line, producing
// ParseErrors that carry the line number.
type fieldReader struct {
	fields []string
	pos    int
	line   int
}

func (f *fieldReader) errorf(format string, args ...any) error {
	return &ParseError{Line: f.line, Message: fmt.Sprintf(format, args...)}
}

func (f *fieldReader) next(what string) (string, error) {
	if f.pos >= len(f.fields) {
		return "", f.errorf("missing %s", what)
	}
	token := f.fields[f.pos]
	f.pos++
	return token, nil
}

func (f *fieldReader) literal(want, context string) error {
	if f.pos >= len(f.fields) || f.fields[f.pos] != want {
		return f.errorf("expected '%s' token %s", want, context)
	}
	f.pos++
	return nil
}

func (f *fieldReader) integer(what string) (int, error) {
	token, err := f.next(what)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, f.errorf("missing %s", what)
	}
	return int(value), nil
}

func (f *fieldReader) unsigned(what string) (uint64, error) {
	token, err := f.next(what)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(token, 10, 64)
	if err != nil {
		return 0, f.errorf("missing %s", what)
	}
	return value, nil
}

func (f *fieldReader) signed(what string) (int64, error) {
	token, err := f.next(what)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseInt(token, 10, 64)
	if err != nil {
		return 0, f.errorf("missing %s", what)
	}
	return value, nil
}

// address parses an address token with auto-base detection: 0x prefix for
// hex, 0 prefix for octal, decimal otherwise.
func (f *fieldReader) address(what string) (addr.Address, error) {
	token, err := f.next(what)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(token, 0, 64)
	if err != nil {
		return 0, f.errorf("failed to parse address token '%s'", token)
	}
	return addr.Address(value), nil
}

// Parse reads a checkpoint from r. It fails with a ParseError on the first
// malformed line.
func Parse(r io.Reader) (*Contents, error) {
	caches := make(map[string][]cache.CheckpointEntry)
	btbStates := make(map[int]*btb.State)

	currentCache := ""
	currentCPU := -1
	inBTB := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		trimmed := strings.TrimSpace(scanner.Text())
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		fields := strings.Fields(trimmed)
		f := &fieldReader{fields: fields[1:], line: line}

		switch fields[0] {
		case "Cache:":
			currentCache = strings.Join(fields[1:], " ")
			if _, ok := caches[currentCache]; !ok {
				caches[currentCache] = nil
			}
			continue

		case "EndCache":
			currentCache = ""
			continue

		case "BTB:":
			if err := f.literal("CPU", "after 'BTB:'"); err != nil {
				return nil, err
			}
			cpu, err := f.integer("CPU id for BTB section")
			if err != nil {
				return nil, err
			}
			currentCPU = cpu
			inBTB = true
			if _, ok := btbStates[currentCPU]; !ok {
				btbStates[currentCPU] = &btb.State{}
			}
			continue

		case "EndBTB":
			if !inBTB {
				return nil, &ParseError{Line: line, Message: "'EndBTB' without active BTB section"}
			}
			inBTB = false
			currentCPU = -1
			continue
		}

		if inBTB {
			if err := parseBTBLine(fields[0], f, btbStates[currentCPU]); err != nil {
				return nil, err
			}
			continue
		}

		if fields[0] == "Set:" {
			if currentCache == "" {
				return nil, &ParseError{Line: line, Message: "'Set' entry without active cache"}
			}

			set, err := f.integer("set value")
			if err != nil {
				return nil, err
			}
			if err := f.literal("Way:", "for cache entry"); err != nil {
				return nil, err
			}
			way, err := f.integer("way value")
			if err != nil {
				return nil, err
			}
			if err := f.literal("Address:", "for cache entry"); err != nil {
				return nil, err
			}
			address, err := f.address("address token")
			if err != nil {
				return nil, err
			}

			caches[currentCache] = append(caches[currentCache], cache.CheckpointEntry{
				Set:     set,
				Way:     way,
				Address: address,
			})
			continue
		}

		// Lines from other subsystems are tolerated outside sections.
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	contents := &Contents{
		Caches: caches,
		BTBs:   make(map[int]btb.State, len(btbStates)),
	}
	for cpu, state := range btbStates {
		contents.BTBs[cpu] = *state
	}
	return contents, nil
}

// parseBTBLine handles one statement inside an active BTB section.
func parseBTBLine(token string, f *fieldReader, state *btb.State) error {
	switch token {
	case "DirectGeometry:":
		if err := f.literal("Sets", "in DirectGeometry"); err != nil {
			return err
		}
		sets, err := f.integer("direct set count")
		if err != nil {
			return err
		}
		if err := f.literal("Ways", "in DirectGeometry"); err != nil {
			return err
		}
		ways, err := f.integer("direct way count")
		if err != nil {
			return err
		}
		state.DirectSets = sets
		state.DirectWays = ways
		return nil

	case "DirectEntry:":
		var entry btb.DirectEntry
		var err error

		if err = f.literal("Set", "for DirectEntry"); err != nil {
			return err
		}
		if entry.Set, err = f.integer("direct set value"); err != nil {
			return err
		}
		if err = f.literal("Way", "for DirectEntry"); err != nil {
			return err
		}
		if entry.Way, err = f.integer("direct way value"); err != nil {
			return err
		}
		if err = f.literal("LastUsed", "for DirectEntry"); err != nil {
			return err
		}
		if entry.LastUsed, err = f.unsigned("last used value for DirectEntry"); err != nil {
			return err
		}
		if err = f.literal("IP:", "for DirectEntry"); err != nil {
			return err
		}
		if entry.IP, err = f.address("IP value for DirectEntry"); err != nil {
			return err
		}
		if err = f.literal("Target:", "for DirectEntry"); err != nil {
			return err
		}
		if entry.Target, err = f.address("target value for DirectEntry"); err != nil {
			return err
		}
		if err = f.literal("Type:", "for DirectEntry"); err != nil {
			return err
		}
		branchType, err := f.integer("type value for DirectEntry")
		if err != nil {
			return err
		}
		entry.Type = uint8(branchType)

		state.DirectEntries = append(state.DirectEntries, entry)
		return nil

	case "IndirectSize:":
		size, err := f.integer("IndirectSize value")
		if err != nil {
			return err
		}
		state.IndirectSize = size
		state.IndirectTargets = resize(state.IndirectTargets, size)
		return nil

	case "IndirectHistory:":
		history, err := f.unsigned("IndirectHistory value")
		if err != nil {
			return err
		}
		state.IndirectHistory = history
		return nil

	case "IndirectEntry:":
		if err := f.literal("Index", "for IndirectEntry"); err != nil {
			return err
		}
		index, err := f.integer("index value for IndirectEntry")
		if err != nil {
			return err
		}
		if err := f.literal("Target:", "for IndirectEntry"); err != nil {
			return err
		}
		target, err := f.address("target value for IndirectEntry")
		if err != nil {
			return err
		}
		if index < 0 {
			return f.errorf("negative index for IndirectEntry")
		}
		if len(state.IndirectTargets) <= index {
			state.IndirectTargets = resize(state.IndirectTargets, index+1)
		}
		state.IndirectTargets[index] = target
		return nil

	case "ReturnStackEntry:":
		a, err := f.address("address for ReturnStackEntry")
		if err != nil {
			return err
		}
		state.ReturnStack = append(state.ReturnStack, a)
		return nil

	case "CallSizeTrackerSize:":
		size, err := f.integer("CallSizeTrackerSize value")
		if err != nil {
			return err
		}
		state.CallSizeTrackerSize = size
		state.CallSizeTrackers = resizeDiff(state.CallSizeTrackers, size)
		return nil

	case "CallSizeTracker:":
		if err := f.literal("Index", "for CallSizeTracker"); err != nil {
			return err
		}
		index, err := f.integer("index for CallSizeTracker")
		if err != nil {
			return err
		}
		if err := f.literal("Size", "for CallSizeTracker"); err != nil {
			return err
		}
		size, err := f.signed("size value for CallSizeTracker")
		if err != nil {
			return err
		}
		if index < 0 {
			return f.errorf("negative index for CallSizeTracker")
		}
		if len(state.CallSizeTrackers) <= index {
			state.CallSizeTrackers = resizeDiff(state.CallSizeTrackers, index+1)
		}
		state.CallSizeTrackers[index] = addr.Diff(size)
		return nil
	}

	return f.errorf("unexpected BTB token '%s'", token)
}

func resize(s []addr.Address, n int) []addr.Address {
	if n < 0 {
		n = 0
	}
	if n <= len(s) {
		return s[:n]
	}
	out := make([]addr.Address, n)
	copy(out, s)
	return out
}

func resizeDiff(s []addr.Diff, n int) []addr.Diff {
	if n < 0 {
		n = 0
	}
	if n <= len(s) {
		return s[:n]
	}
	out := make([]addr.Diff, n)
	copy(out, s)
	return out
}
