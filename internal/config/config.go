// Package config is the runtime's typed configuration surface, filled
// from environment variables and CLI flags the way pkg/jsonconfig gives
// typed accessors over a generic JSON map, and the way pkg/cmdmain
// registers flags directly against the standard flag package. Unlike
// jsonconfig's dynamic Obj, our option set is fixed and small enough to be
// a plain struct; errors accumulate the same way (appendError) so a
// caller sees every problem at once instead of failing on the first.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	defaultTimeout          = 10 * time.Minute
	maxTimeout              = 10 * time.Minute
	defaultBatchSize        = 10
	hardTimeoutMultiplier   = 1.3
	memorySampleInterval    = 30 * time.Second
)

// Options is the set of optional knobs named in spec §6.
type Options struct {
	// Timeout is the soft timeout, capped at 10 minutes.
	Timeout time.Duration
	// BatchSize is the attachment-streaming pool's concurrency.
	BatchSize int
	// EnableMemoryLimits toggles the supervisor's memory cap/sampler.
	EnableMemoryLimits bool
	// TestMemoryLimitMb overrides the memory cap for tests; 0 means unset.
	TestMemoryLimitMb int
	// IsLocalDevelopment records the -local flag / AIRDROPKIT_LOCAL_DEV.
	// Nothing in the runtime reads it: local extracted_files/ mirroring is
	// selected by the worker's mirror backend (AIRDROPKIT_MIRROR_BACKEND,
	// "local" by default), not by this field.
	IsLocalDevelopment bool
}

// DefaultOptions returns the spec's documented defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:            defaultTimeout,
		BatchSize:          defaultBatchSize,
		EnableMemoryLimits: true,
	}
}

// SoftTimeout returns min(Timeout, 10 min).
func (o Options) SoftTimeout() time.Duration {
	if o.Timeout <= 0 || o.Timeout > maxTimeout {
		return maxTimeout
	}
	return o.Timeout
}

// HardTimeout returns 1.3 * SoftTimeout, per the soft/hard timer ratio the
// design notes forbid collapsing.
func (o Options) HardTimeout() time.Duration {
	return time.Duration(float64(o.SoftTimeout()) * hardTimeoutMultiplier)
}

// MemorySampleInterval is the fixed 30s RSS/heap sampler cadence.
func MemorySampleInterval() time.Duration { return memorySampleInterval }

// FromEnv builds Options from environment variables, following the same
// accumulate-then-validate shape as pkg/jsonconfig: bad values are
// recorded, not fatal, so all problems surface together.
func FromEnv() (Options, error) {
	var errs []error
	appendError := func(err error) { errs = append(errs, err) }
	o := DefaultOptions()

	if v := os.Getenv("AIRDROPKIT_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			appendError(fmt.Errorf("AIRDROPKIT_TIMEOUT_MS: %w", err))
		} else {
			o.Timeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("AIRDROPKIT_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			appendError(fmt.Errorf("AIRDROPKIT_BATCH_SIZE: %w", err))
		} else {
			o.BatchSize = n
		}
	}
	if v := os.Getenv("AIRDROPKIT_DISABLE_MEMORY_LIMITS"); v != "" {
		o.EnableMemoryLimits = false
	}
	if v := os.Getenv("AIRDROPKIT_TEST_MEMORY_LIMIT_MB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			appendError(fmt.Errorf("AIRDROPKIT_TEST_MEMORY_LIMIT_MB: %w", err))
		} else {
			o.TestMemoryLimitMb = n
		}
	}
	if v := os.Getenv("AIRDROPKIT_LOCAL_DEV"); v != "" {
		o.IsLocalDevelopment = true
	}

	if len(errs) > 0 {
		return o, fmt.Errorf("config: %d error(s): %w", len(errs), errors.Join(errs...))
	}
	return o, nil
}

// RegisterFlags wires the `-local` CLI flag (spec §6: equivalent to
// IsLocalDevelopment=true) against fs the way pkg/cmdmain.go registers
// FlagVerbose/FlagVersion directly on the standard flag package.
func RegisterFlags(fs *flag.FlagSet, o *Options) {
	fs.BoolVar(&o.IsLocalDevelopment, "local", o.IsLocalDevelopment, "mark this as a local-development run (sets IsLocalDevelopment)")
}
