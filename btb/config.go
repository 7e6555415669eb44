package btb

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sarchlab/btbsim/addr"
)

// Config holds the geometry of one BTB instance.
type Config struct {
	// CPU is the id of the simulated CPU that owns this BTB. It keys the
	// BTB's section in checkpoint files.
	CPU int `json:"cpu"`

	// Sets is the number of sets in the direct-target table.
	// Must be a power of 2. Default is 1024.
	Sets int `json:"sets"`

	// Ways is the associativity of the direct-target table. Default is 8.
	Ways int `json:"ways"`

	// Log2Block is the number of low IP bits skipped when indexing the
	// direct-target table. Default is 2.
	Log2Block int `json:"log2_block"`

	// IndirectSize is the number of entries in the indirect-target table.
	// Must be a power of 2. Default is 4096.
	IndirectSize int `json:"indirect_size"`

	// HistoryBits is the width of the conditional-direction history
	// register. Default is 8.
	HistoryBits int `json:"history_bits"`

	// ReturnStackCap is the capacity of the return address stack.
	// Default is 64.
	ReturnStackCap int `json:"return_stack_cap"`

	// CallTrackerSize is the number of call-size tracker slots.
	// Default is 1024.
	CallTrackerSize int `json:"call_tracker_size"`

	// DefaultCallSize is the call instruction width assumed before any
	// calibration. Default is 4 bytes.
	DefaultCallSize addr.Diff `json:"default_call_size"`
}

// DefaultConfig returns the default BTB geometry for CPU 0.
func DefaultConfig() Config {
	return Config{
		Sets:            1024,
		Ways:            8,
		Log2Block:       2,
		IndirectSize:    4096,
		HistoryBits:     8,
		ReturnStackCap:  64,
		CallTrackerSize: 1024,
		DefaultCallSize: 4,
	}
}

// LoadConfig reads a Config from a JSON file. Fields absent from the file
// keep their defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read BTB config file: %w", err)
	}

	if err := json.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse BTB config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// SaveConfig writes the Config to a JSON file.
func (c Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize BTB config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write BTB config file: %w", err)
	}
	return nil
}

// Validate checks the geometry for values the table indexing cannot support.
func (c Config) Validate() error {
	if c.Sets <= 0 || c.Sets&(c.Sets-1) != 0 {
		return fmt.Errorf("sets must be a positive power of 2, got %d", c.Sets)
	}
	if c.Ways <= 0 {
		return fmt.Errorf("ways must be > 0, got %d", c.Ways)
	}
	if c.IndirectSize <= 0 || c.IndirectSize&(c.IndirectSize-1) != 0 {
		return fmt.Errorf("indirect size must be a positive power of 2, got %d", c.IndirectSize)
	}
	if c.HistoryBits <= 0 || c.HistoryBits > 64 {
		return fmt.Errorf("history bits must be in [1, 64], got %d", c.HistoryBits)
	}
	if c.ReturnStackCap <= 0 {
		return fmt.Errorf("return stack capacity must be > 0, got %d", c.ReturnStackCap)
	}
	if c.CallTrackerSize <= 0 {
		return fmt.Errorf("call tracker size must be > 0, got %d", c.CallTrackerSize)
	}
	return nil
}
