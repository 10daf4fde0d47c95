//go:build !linux

package engine

import "errors"

// requestRealtime is a no-op on platforms without a sched_setattr
// equivalent wired up; workers run at normal priority there.
func requestRealtime() error {
	return errors.New("real-time scheduling not available on this platform")
}
