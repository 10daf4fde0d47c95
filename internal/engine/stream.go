package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

// Mode mirrors the host's PCM open-mode bits. Only ASYNC and NONBLOCK are
// material to this engine: ASYNC selects the spinlock/no-wait producer
// discipline, NONBLOCK is cosmetic and only logged.
type Mode uint32

const (
	// ModeAsync marks a stream whose producer path may be invoked from the
	// audio backend's callback context (see lock.go) instead of an
	// ordinary goroutine.
	ModeAsync Mode = 1 << iota
	// ModeNonblock is logged only; it does not change engine behavior.
	ModeNonblock
)

// StreamDir mirrors the host's playback/capture direction argument to
// open. This engine only ever mirrors playback streams in practice, but
// the argument is kept for signature fidelity with the intercept it
// models; it is informational only.
type StreamDir int

const (
	// StreamDirPlayback is a playback-direction device handle.
	StreamDirPlayback StreamDir = iota
	// StreamDirCapture is a capture-direction device handle.
	StreamDirCapture
)

// Access identifies the host's hw_params access mode, mapped to a Layout by
// HwParams.
type Access int

const (
	// AccessRWInterleaved is read/write interleaved access.
	AccessRWInterleaved Access = iota
	// AccessMMapInterleaved is mmap interleaved access.
	AccessMMapInterleaved
	// AccessMMapComplex is mmap access with independent per-channel
	// strides, requiring de-interleave on copy.
	AccessMMapComplex
	// AccessNoninterleaved is read/write or mmap planar access (anything
	// else planar that isn't AccessMMapComplex).
	AccessNoninterleaved
)

// flagInterleaved, set on a FormatPayload's Flags field, tells the
// downstream consumer the emitted bytes are interleaved even when the
// source layout was ComplexPlanar.
const flagInterleaved uint32 = 1 << 0

// CaptureStream is the per-device record: current negotiated format,
// capture scratch buffer, producer/consumer synchronization primitives,
// and the worker thread handle.
type CaptureStream struct {
	engine   *CaptureEngine // weak, non-owning back-reference
	deviceID any
	mode     Mode

	// negotiation state, serialized by negMu (distinct from the hot-path
	// streamLock: format negotiation only ever runs from hw_params/close,
	// never from the producer path, so it does not need to be
	// signal-safe). hasFormat/initialized are atomics so the producer path
	// can test them without ever taking negMu; format/channels/rate/layout
	// are written only while negMu is held and only ever read by the
	// producer path after observing initialized==true, which — per the Go
	// memory model's treatment of sync/atomic — happens-after the
	// negotiation goroutine's plain writes to those fields. This is the
	// safe-publication idiom std libraries like sync.Once rely on.
	negMu        sync.Mutex
	streamID     uint32
	format       pcm.Format
	channels     int
	rate         int
	periodFrames int
	layout       pcm.Layout
	hasFormat    atomic.Bool
	initialized  atomic.Bool

	// hot-path synchronization
	lock  streamLock
	full  chan struct{} // capacity 1, posted by the producer, drained by the worker
	empty chan struct{} // capacity 1, non-async only: posted by the worker, drained by the producer
	ready atomic.Bool   // async only: true while the worker is parked on full

	// deposit state, touched only while lock is held
	scratch         []byte
	scratchCapacity int
	pendingSize     int64 // positive: bytes to emit; negative: -magnitude is a grow request
	captureTime     time.Time

	// worker lifecycle
	workerRunning atomic.Bool
	workerDone    chan struct{}

	// mmap_begin/mmap_commit handoff, touched only while lock is held
	mmapAreas  []pcm.MmapArea
	mmapOffset int
	mmapFrames int
}

func newCaptureStream(engine *CaptureEngine, deviceID any) *CaptureStream {
	s := &CaptureStream{
		engine:     engine,
		deviceID:   deviceID,
		streamID:   0,
		full:       make(chan struct{}, 1),
		empty:      make(chan struct{}, 1),
		workerDone: make(chan struct{}),
	}
	s.empty <- struct{}{} // empty starts at 1
	return s
}
