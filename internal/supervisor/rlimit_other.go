//go:build !linux

package supervisor

// ApplyMemoryCap is a no-op outside Linux: there is no portable
// address-space rlimit equivalent, so no memory cap applies on those
// platforms (and RSS sampling is unsupported there too).
func ApplyMemoryCap(mb int) error { return nil }
