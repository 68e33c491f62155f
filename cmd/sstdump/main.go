// Package main provides the sstdump CLI tool for inspecting sorted table
// files.
//
// Usage:
//
//	sstdump --file=<path> [options]
//
// Commands:
//
//	scan            Print every record in key order
//	properties      Show table geometry and key range
//	check           Verify checksum, record order, and filter membership
package main

import (
	"bytes"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aalhour/tidekv/internal/record"
	"github.com/aalhour/tidekv/internal/table"
)

var (
	filePath   = flag.String("file", "", "Path to the table file (required)")
	command    = flag.String("command", "scan", "Command: scan, properties, check")
	hexOutput  = flag.Bool("hex", false, "Output keys and values in hex format")
	limit      = flag.Int("limit", 0, "Limit number of records (0 = unlimited)")
	showValues = flag.Bool("values", true, "Show values in scan output")
	help       = flag.Bool("help", false, "Print help")
)

func main() {
	flag.Parse()

	if *help {
		printUsage()
		return
	}
	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "Error: --file flag is required")
		printUsage()
		os.Exit(1)
	}

	var err error
	switch *command {
	case "scan":
		err = cmdScan()
	case "properties":
		err = cmdProperties()
	case "check":
		err = cmdCheck()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", *command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("sstdump - tidekv sorted table inspection tool")
	fmt.Println()
	fmt.Println("Usage: sstdump --file=<path> [--command=<cmd>] [options]")
	fmt.Println()
	fmt.Println("Commands (--command):")
	fmt.Println("  scan        Print every record in key order (default)")
	fmt.Println("  properties  Show table geometry and key range")
	fmt.Println("  check       Verify checksum, record order, and filter membership")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	// Print as string if printable, else hex
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func cmdScan() error {
	r, err := table.Open(*filePath)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("Table file: %s\n", *filePath)
	fmt.Println("---")

	count := 0
	tombstones := 0
	var keyBytes, valueBytes int64

	it := r.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if *limit > 0 && count >= *limit {
			break
		}
		key, value := it.Key(), it.Value()
		switch {
		case it.Kind() == record.KindTombstone:
			tombstones++
			fmt.Printf("%s => <deleted>\n", formatOutput(key))
		case *showValues:
			fmt.Printf("%s => %s\n", formatOutput(key), formatOutput(value))
		default:
			fmt.Printf("%s\n", formatOutput(key))
		}
		keyBytes += int64(len(key))
		valueBytes += int64(len(value))
		count++
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	fmt.Println("---")
	fmt.Printf("Records: %d (%d tombstones)\n", count, tombstones)
	fmt.Printf("Key bytes: %d\n", keyBytes)
	fmt.Printf("Value bytes: %d\n", valueBytes)
	return nil
}

func cmdProperties() error {
	info, err := os.Stat(*filePath)
	if err != nil {
		return err
	}
	r, err := table.Open(*filePath)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("Table file: %s\n", filepath.Base(*filePath))
	fmt.Println("---")
	fmt.Printf("File size: %d bytes\n", info.Size())
	fmt.Printf("Data section: %d bytes\n", r.DataSize())
	fmt.Printf("Index entries: %d (interval %d)\n", r.NumIndexEntries(), r.Interval())
	fmt.Printf("First key: %s\n", formatOutput(r.FirstKey()))
	fmt.Printf("Last key: %s\n", formatOutput(r.LastKey()))
	return nil
}

func cmdCheck() error {
	// Open verifies the footer checksum over the whole file.
	r, err := table.Open(*filePath)
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	defer r.Close()

	count := 0
	var prev []byte
	it := r.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		if count > 0 && bytes.Compare(it.Key(), prev) <= 0 {
			return fmt.Errorf("record %d out of order: %q after %q", count, it.Key(), prev)
		}
		// The filter must never answer false for a stored key.
		if !r.MayContain(it.Key()) {
			return fmt.Errorf("record %d missing from filter: %q", count, it.Key())
		}
		prev = append(prev[:0], it.Key()...)
		count++
	}
	if err := it.Error(); err != nil {
		return fmt.Errorf("scan failed after %d records: %w", count, err)
	}

	fmt.Printf("OK: %d records, checksum, ordering, and filter verified\n", count)
	return nil
}
