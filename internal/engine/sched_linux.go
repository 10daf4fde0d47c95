//go:build linux

package engine

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// workerRTPriority is the advisory real-time priority requested for worker
// threads. Modest on purpose: the worker only has to stay ahead of one
// period per stream, it must never starve the host's own audio threads.
const workerRTPriority = 10

// requestRealtime pins the calling worker goroutine to its OS thread and
// asks the kernel for SCHED_FIFO scheduling on it. Failure is the normal
// case for unprivileged processes (RLIMIT_RTPRIO defaults to 0) and is
// non-fatal; the worker simply runs at normal priority.
func requestRealtime() error {
	runtime.LockOSThread()
	attr := &unix.SchedAttr{
		Policy:   unix.SCHED_FIFO,
		Priority: workerRTPriority,
	}
	return unix.SchedSetAttr(0, attr, 0)
}
