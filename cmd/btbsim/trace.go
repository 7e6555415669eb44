package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sarchlab/btbsim/addr"
)

// Record is one retired branch from a trace. The text form is one branch per
// line, five whitespace-separated fields:
//
//	<cpu> <ip> <target> <taken> <type>
//
// Addresses accept 0x hex or decimal. taken is 0 or 1, type is a host branch
// type code. Blank lines and #-prefixed lines are skipped.
type Record struct {
	CPU    int
	IP     addr.Address
	Target addr.Address
	Taken  bool
	Type   uint8
}

func parseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) != 5 {
		return Record{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	cpu, err := strconv.Atoi(fields[0])
	if err != nil || cpu < 0 {
		return Record{}, fmt.Errorf("bad cpu field '%s'", fields[0])
	}

	ip, err := strconv.ParseUint(fields[1], 0, 64)
	if err != nil {
		return Record{}, fmt.Errorf("bad ip field '%s'", fields[1])
	}

	target, err := strconv.ParseUint(fields[2], 0, 64)
	if err != nil {
		return Record{}, fmt.Errorf("bad target field '%s'", fields[2])
	}

	var taken bool
	switch fields[3] {
	case "0":
		taken = false
	case "1":
		taken = true
	default:
		return Record{}, fmt.Errorf("bad taken field '%s'", fields[3])
	}

	branchType, err := strconv.ParseUint(fields[4], 10, 8)
	if err != nil {
		return Record{}, fmt.Errorf("bad type field '%s'", fields[4])
	}

	return Record{
		CPU:    cpu,
		IP:     addr.Address(ip),
		Target: addr.Address(target),
		Taken:  taken,
		Type:   uint8(branchType),
	}, nil
}

// readTrace streams records from r, calling handle for each one. Parse
// failures report the offending line number.
func readTrace(r io.Reader, handle func(Record) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		record, err := parseRecord(text)
		if err != nil {
			return fmt.Errorf("trace line %d: %w", line, err)
		}
		if err := handle(record); err != nil {
			return err
		}
	}

	return scanner.Err()
}
