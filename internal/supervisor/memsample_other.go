//go:build !linux

package supervisor

import "fmt"

// sampleRSSMB has no portable implementation outside Linux's /proc; the
// sampler logs this once and stops itself (spec §4.6 step 4: "on sampler
// exception stop the sampler, do not crash supervisor").
func sampleRSSMB(pid int) (int, error) {
	return 0, fmt.Errorf("supervisor: memory sampling unsupported on this platform")
}
