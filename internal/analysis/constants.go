// Package analysis infers stack frames and lists functions of ARM64 ELF
// binaries.
package analysis

const (
	// MaxScanInstructions bounds the disassembly of a single function.
	MaxScanInstructions = 4096
)
