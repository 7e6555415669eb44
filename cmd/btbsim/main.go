// Package main provides the entry point for btbsim, a trace-driven branch
// target buffer simulator with checkpoint save and restore.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/btbsim/btb"
	"github.com/sarchlab/btbsim/cache"
	"github.com/sarchlab/btbsim/checkpoint"
)

var (
	numCPUs        = flag.Int("cpus", 1, "Number of simulated CPUs")
	configPath     = flag.String("config", "", "Path to BTB configuration JSON file")
	loadCheckpoint = flag.String("load", "", "Checkpoint file to restore before the trace")
	saveCheckpoint = flag.String("save", "", "Checkpoint file to write after the trace")
	verbose        = flag.Bool("v", false, "Verbose output")
)

// machine bundles the per-CPU BTBs and instruction caches and exposes them
// as a checkpoint environment.
type machine struct {
	btbs    []*btb.BTB
	icaches []*cache.Cache

	correct        []uint64
	mispredictions []uint64
}

func newMachine(cpus int, config btb.Config) *machine {
	m := &machine{
		correct:        make([]uint64, cpus),
		mispredictions: make([]uint64, cpus),
	}
	for cpu := 0; cpu < cpus; cpu++ {
		cpuConfig := config
		cpuConfig.CPU = cpu
		m.btbs = append(m.btbs, btb.New(cpuConfig))

		name := fmt.Sprintf("cpu%d_L1I", cpu)
		m.icaches = append(m.icaches, cache.New(cache.DefaultL1Config(name), nil))
	}
	return m
}

// CacheView returns the caches covered by checkpoints.
func (m *machine) CacheView() []*cache.Cache {
	return m.icaches
}

// CPUView returns the per-CPU BTBs covered by checkpoints.
func (m *machine) CPUView() []*btb.BTB {
	return m.btbs
}

// step replays one trace record: predict, score, then train.
func (m *machine) step(r Record) error {
	if r.CPU >= len(m.btbs) {
		return fmt.Errorf("trace names cpu %d but only %d simulated", r.CPU, len(m.btbs))
	}

	b := m.btbs[r.CPU]
	m.icaches[r.CPU].Read(uint64(r.IP), 4)

	predTarget, predTaken := b.Predict(r.IP)
	if predTaken == r.Taken && (!r.Taken || predTarget == r.Target) {
		m.correct[r.CPU]++
	} else {
		m.mispredictions[r.CPU]++
	}

	b.Update(r.IP, r.Target, r.Taken, r.Type)
	return nil
}

func (m *machine) printSummary() {
	for cpu, b := range m.btbs {
		stats := b.Stats()
		total := m.correct[cpu] + m.mispredictions[cpu]
		accuracy := 0.0
		if total > 0 {
			accuracy = float64(m.correct[cpu]) / float64(total) * 100
		}

		fmt.Printf("CPU %d: %d branches, %.2f%% correct, BTB hit rate %.2f%%\n",
			cpu, total, accuracy, stats.HitRate())

		if *verbose {
			iStats := m.icaches[cpu].Stats()
			fmt.Printf("  BTB: %d hits, %d misses, %d updates\n",
				stats.Hits, stats.Misses, stats.Updates)
			fmt.Printf("  L1I: %d reads, %.2f%% hit rate\n",
				iStats.Reads, iStats.HitRate())
		}
	}
}

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: btbsim [options] <branch.trace>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	config := btb.DefaultConfig()
	if *configPath != "" {
		var err error
		config, err = btb.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}

	m := newMachine(*numCPUs, config)

	if *loadCheckpoint != "" {
		if err := checkpoint.Load(*loadCheckpoint, m); err != nil {
			fmt.Fprintf(os.Stderr, "Error restoring checkpoint: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Restored checkpoint: %s\n", *loadCheckpoint)
		}
	}

	tracePath := flag.Arg(0)
	traceFile, err := os.Open(tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening trace: %v\n", err)
		os.Exit(1)
	}
	defer traceFile.Close()

	if err := readTrace(traceFile, m.step); err != nil {
		fmt.Fprintf(os.Stderr, "Error replaying trace: %v\n", err)
		os.Exit(1)
	}

	m.printSummary()

	if *saveCheckpoint != "" {
		if err := checkpoint.Save(*saveCheckpoint, m); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving checkpoint: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Printf("Saved checkpoint: %s\n", *saveCheckpoint)
		}
	}
}
