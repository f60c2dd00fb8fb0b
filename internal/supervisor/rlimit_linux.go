//go:build linux
// +build linux

package supervisor

import (
	"fmt"
	"syscall"
)

// ApplyMemoryCap sets RLIMIT_AS on the calling process to mb megabytes,
// called by the worker binary at startup against the cap the supervisor
// passed via AIRDROPKIT_MEMORY_CAP_MB. A child that exceeds this address
// space limit gets killed by the kernel with SIGSEGV/ENOMEM on the next
// allocation, which surfaces to the supervisor as a non-zero exit code
// routed through the terminal-event arbiter like any other worker exit.
func ApplyMemoryCap(mb int) error {
	if mb <= 0 {
		return nil
	}
	limit := uint64(mb) * 1024 * 1024
	rlimit := syscall.Rlimit{Cur: limit, Max: limit}
	if err := syscall.Setrlimit(syscall.RLIMIT_AS, &rlimit); err != nil {
		return fmt.Errorf("supervisor: setrlimit RLIMIT_AS: %w", err)
	}
	return nil
}
