package engine

import (
	"github.com/ColonelBlimp/pcmtap/internal/recovery"
	"github.com/ColonelBlimp/pcmtap/internal/wire"
)

// spawnWorker starts the per-stream worker goroutine. It is called only
// from initializeStream, which has already quiesced any previous worker
// for this stream.
func (e *CaptureEngine) spawnWorker(s *CaptureStream) {
	s.workerRunning.Store(true)
	s.workerDone = make(chan struct{})
	s.ready.Store(true)

	go func() {
		defer close(s.workerDone)
		defer recovery.HandlePanicFunc(func() {
			s.workerRunning.Store(false)
		})
		if err := requestRealtime(); err != nil {
			e.logf("engine: worker: real-time scheduling unavailable: %v", err)
		}
		e.workerLoop(s)
	}()
}

// quiesceWorker stops s's worker and waits for it to exit: clear running,
// post full, join.
func (e *CaptureEngine) quiesceWorker(s *CaptureStream) {
	if !s.workerRunning.CompareAndSwap(true, false) {
		return
	}
	postNonBlocking(s.full)
	<-s.workerDone
}

// workerLoop waits for a deposited period, either grows the scratch buffer
// on the producer's behalf or frames and emits it downstream, then
// (non-async only) hands the empty credit back to the producer.
func (e *CaptureEngine) workerLoop(s *CaptureStream) {
	for {
		<-s.full
		s.ready.Store(false)

		if !s.workerRunning.Load() {
			return
		}

		pending := s.pendingSize
		if pending < 0 {
			growTo := int(-pending)
			s.scratch = make([]byte, growTo)
			s.scratchCapacity = growTo
			s.pendingSize = 0
		} else if pending > 0 {
			if err := e.emit(s, int(pending)); err != nil {
				e.logf("engine: worker: emit: %v", err)
				s.ready.Store(true)
				return
			}
		}

		if s.mode&ModeAsync == 0 {
			postNonBlocking(s.empty)
		}
		s.ready.Store(true)
	}
}

// emit frames the most recent deposit as an AUDIO_DATA message and writes
// it to the engine's bound target.
func (e *CaptureEngine) emit(s *CaptureStream, size int) error {
	e.mu.Lock()
	target := e.target
	e.mu.Unlock()
	if target == nil {
		return nil
	}

	hdr := wire.DataHeader{
		StreamID:    s.streamID,
		TimestampNs: uint64(s.captureTime.UnixNano()),
		Size:        uint64(size),
	}
	return wire.WriteDataMessage(target, hdr, s.scratch[:size])
}

// postNonBlocking posts a token to a capacity-1 channel without ever
// blocking the caller — safe to call from the async producer path, where
// blocking is forbidden.
func postNonBlocking(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
