// Package engine implements the per-device capture engine: the stream
// registry, the capture stream record, the producer path invoked from the
// host's intercepts, the per-stream worker that does the blocking
// downstream I/O, the format-negotiation handler, and the control surface.
package engine

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/ColonelBlimp/pcmtap/internal/clock"
	"github.com/ColonelBlimp/pcmtap/internal/wire"
)

const (
	flagCapturing uint32 = 1 << iota
	flagAllowSkip
)

// CaptureEngine is the process-wide, per-session singleton: a bound
// downstream target, capturing/allow-skip flags, and the insertion-ordered
// collection of capture streams.
type CaptureEngine struct {
	flags   atomic.Uint32
	started atomic.Bool

	mu      sync.Mutex // guards target and streams mutation (append-only)
	target  wire.PacketStream
	streams []*CaptureStream

	// streamsView is an atomically-swapped immutable snapshot of streams,
	// published under mu by getOrCreate and Destroy. The producer path (lookup) reads
	// it without ever taking mu — a stream lookup that may run on the
	// audio backend's callback thread cannot contend a blocking mutex.
	streamsView atomic.Pointer[[]*CaptureStream]

	clock  clock.Clock
	ids    clock.IDAllocator
	logger *log.Logger

	// maxScratchBytes bounds synchronous (non-async) scratch growth; 0
	// means unlimited. It exists so ErrOutOfMemory is reachable in tests
	// without exhausting real memory — real hosts never request anywhere
	// near this much for one period.
	maxScratchBytes int
}

// SetMaxScratchBytes bounds how large a single stream's scratch buffer may
// grow on the synchronous (non-async) grow path. Zero, the default, means
// unlimited.
func (e *CaptureEngine) SetMaxScratchBytes(n int) {
	e.maxScratchBytes = n
}

// New creates a CaptureEngine with the given clock, stream-id allocator and
// logger. Production callers typically pass clock.System{},
// clock.NewAtomicAllocator(), and log.Default(); tests substitute fakes.
func New(clk clock.Clock, ids clock.IDAllocator, logger *log.Logger) *CaptureEngine {
	e := &CaptureEngine{
		clock:  clk,
		ids:    ids,
		logger: logger,
	}
	empty := make([]*CaptureStream, 0)
	e.streamsView.Store(&empty)
	return e
}

// getOrCreate: a linear search over streams keyed by device-handle
// equality; on miss, a new record is appended with defaults. Entries are
// never relocated once created — pointer stability for concurrent readers
// — which is why streams grows by appending a new pointer rather than ever
// reallocating an existing CaptureStream in place.
//
// This must be callable from the producer path for already-known streams;
// in practice new device handles are first seen via the non-hot-path
// open/hw_params intercepts, so allocation from the hot path is not
// required, but the append-only discipline here means it would still be
// safe if it happened.
func (e *CaptureEngine) getOrCreate(deviceID any) *CaptureStream {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, s := range e.streams {
		if s.deviceID == deviceID {
			return s
		}
	}

	s := newCaptureStream(e, deviceID)
	e.streams = append(e.streams, s)
	e.publishStreams()
	return s
}

// publishStreams copies the canonical, mu-guarded streams slice into a
// fresh snapshot and swaps it into streamsView. Called from getOrCreate and
// Destroy, both of which already hold mu.
func (e *CaptureEngine) publishStreams() {
	snapshot := make([]*CaptureStream, len(e.streams))
	copy(snapshot, e.streams)
	e.streamsView.Store(&snapshot)
}

// lookup returns the stream for deviceID without creating one, or nil. It
// is the producer path's hot-path resolution step and must not block: it
// reads the atomically-published snapshot instead of taking mu, which is
// also contended by the non-hot-path getOrCreate/Start/Destroy.
func (e *CaptureEngine) lookup(deviceID any) *CaptureStream {
	streams := *e.streamsView.Load()
	for _, s := range streams {
		if s.deviceID == deviceID {
			return s
		}
	}
	return nil
}

func (e *CaptureEngine) isCapturing() bool {
	return e.flags.Load()&flagCapturing != 0
}

func (e *CaptureEngine) allowSkipEnabled() bool {
	return e.flags.Load()&flagAllowSkip != 0
}

func (e *CaptureEngine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
