// Package main provides the waldump CLI tool for inspecting write-ahead
// log segments.
//
// Usage:
//
//	waldump --file=<path> [options]
//
// Prints every intact record in append order. A damaged or torn entry
// ends the dump with a note, mirroring what recovery would replay.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/aalhour/tidekv/internal/record"
	"github.com/aalhour/tidekv/internal/wal"
)

var (
	filePath   = flag.String("file", "", "Path to the WAL segment (required)")
	hexOutput  = flag.Bool("hex", false, "Output keys and values in hex format")
	limit      = flag.Int("limit", 0, "Limit number of records (0 = unlimited)")
	showValues = flag.Bool("values", true, "Show values")
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

	if err := dump(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("waldump - tidekv write-ahead log inspection tool")
	fmt.Println()
	fmt.Println("Usage: waldump --file=<path> [options]")
	fmt.Println()
	fmt.Println("Options:")
	flag.PrintDefaults()
}

func formatOutput(data []byte) string {
	if *hexOutput {
		return hex.EncodeToString(data)
	}
	for _, b := range data {
		if b < 32 || b > 126 {
			return hex.EncodeToString(data)
		}
	}
	return string(data)
}

func dump() error {
	r, err := wal.Open(*filePath)
	if err != nil {
		return err
	}
	defer r.Close()

	fmt.Printf("WAL segment: %s\n", *filePath)
	fmt.Println("---")

	count := 0
	puts, dels := 0, 0
	for {
		if *limit > 0 && count >= *limit {
			break
		}
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read record %d: %w", count+1, err)
		}
		switch {
		case rec.Kind == record.KindTombstone:
			dels++
			fmt.Printf("DEL %s\n", formatOutput(rec.Key))
		case *showValues:
			puts++
			fmt.Printf("PUT %s => %s\n", formatOutput(rec.Key), formatOutput(rec.Value))
		default:
			puts++
			fmt.Printf("PUT %s\n", formatOutput(rec.Key))
		}
		count++
	}

	fmt.Println("---")
	fmt.Printf("Records: %d (%d puts, %d deletes)\n", count, puts, dels)
	if r.Truncated() {
		fmt.Printf("Segment damaged or torn at offset %d; recovery would stop here\n", r.Offset())
	}
	return nil
}
