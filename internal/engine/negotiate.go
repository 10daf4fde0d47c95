package engine

import (
	"github.com/ColonelBlimp/pcmtap/internal/pcm"
	"github.com/ColonelBlimp/pcmtap/internal/wire"
)

// Open intercepts the host's device-open call. It creates the stream's
// registry entry on first sighting of deviceID (or returns the existing
// one, for a reopened handle) and records the open-mode bits that select
// the producer-path discipline — the point where the host's ASYNC/NONBLOCK
// mode is first observed, before any format is negotiated. name and
// streamDir are informational only.
func (e *CaptureEngine) Open(deviceID any, name string, streamDir StreamDir, mode Mode) error {
	s := e.getOrCreate(deviceID)

	s.negMu.Lock()
	s.mode = mode
	s.negMu.Unlock()

	if mode&ModeNonblock != 0 {
		e.logf("engine: open: device %v (%q, dir=%v) opened NONBLOCK", deviceID, name, streamDir)
	}
	return nil
}

// HwParams intercepts the host's format negotiation. format, channels and
// rate become the stream's negotiated format; access selects the copy
// strategy the producer path will use; periodSize is the host's frames per
// period, used to pre-size the scratch buffer where the producer path is
// allowed to rely on it. An unmappable format or access mode returns
// ErrNotSupported and leaves any prior negotiated state untouched. The
// stream's open-mode (ASYNC/NONBLOCK) is recorded separately by Open, not
// here.
func (e *CaptureEngine) HwParams(deviceID any, format pcm.Format, channels, rate, periodSize int, access Access) error {
	if _, err := format.SampleSize(); err != nil {
		return ErrNotSupported
	}

	var layout pcm.Layout
	switch access {
	case AccessRWInterleaved, AccessMMapInterleaved:
		layout = pcm.Interleaved
	case AccessMMapComplex:
		layout = pcm.ComplexPlanar
	case AccessNoninterleaved:
		layout = pcm.Planar
	default:
		return ErrNotSupported
	}

	s := e.getOrCreate(deviceID)

	s.negMu.Lock()
	s.format = format
	s.channels = channels
	s.rate = rate
	s.periodFrames = periodSize
	s.layout = layout
	s.hasFormat.Store(true)
	s.negMu.Unlock()

	if e.started.Load() {
		return e.initializeStream(s)
	}
	return nil
}

// initializeStream binds the negotiated format to a stream id, worker, and
// AUDIO_FORMAT announcement. If the stream was previously initialized — a
// format renegotiation — its old worker is quiesced first so exactly one
// worker ever runs per stream.
func (e *CaptureEngine) initializeStream(s *CaptureStream) error {
	if s.initialized.Load() {
		e.quiesceWorker(s)
	}

	s.negMu.Lock()
	if s.streamID == 0 {
		s.streamID = e.ids.Next()
	}
	streamID := s.streamID
	format, channels, rate, layout, mode := s.format, s.channels, s.rate, s.layout, s.mode
	periodFrames := s.periodFrames
	s.negMu.Unlock()

	// A concurrent Writei/Writen/MmapBegin/MmapCommit may still be holding
	// (or about to take) the stream's current write lock — quiescing the
	// worker stops consumption but does not, by itself, stop an in-flight
	// producer call from observing a half-swapped stream. Hold the current
	// lock across the swap of scratch/lock/mmap/semaphore state.
	oldLock := s.lock
	if oldLock != nil {
		oldLock.Lock()
	}

	// Non-async streams get scratch pre-sized to one period; the producer
	// grows it synchronously anyway if the host ever deposits more. Async
	// streams start at zero capacity: growth on that path is always
	// deferred to the worker, and the first deposit establishes the real
	// period size through the grow protocol.
	s.scratch = nil
	s.scratchCapacity = 0
	if mode&ModeAsync == 0 && periodFrames > 0 {
		scratchBytes, err := pcm.FramesToBytes(format, channels, periodFrames)
		if err != nil {
			if oldLock != nil {
				oldLock.Unlock()
			}
			return err
		}
		s.scratch = make([]byte, scratchBytes)
		s.scratchCapacity = scratchBytes
	}
	s.pendingSize = 0
	s.mmapAreas = nil
	s.mmapOffset = 0
	s.mmapFrames = 0
	s.lock = newStreamLock(mode)

	// Restore the handoff semaphores to their initial state (full=0,
	// empty=1): the old worker may have exited between consuming a
	// producer's full post and handing the empty credit back.
	select {
	case <-s.full:
	default:
	}
	select {
	case <-s.empty:
	default:
	}
	s.empty <- struct{}{}

	if oldLock != nil {
		oldLock.Unlock()
	}

	var flags uint32
	if layout == pcm.Interleaved || layout == pcm.ComplexPlanar {
		// ComplexPlanar is announced as interleaved too: the emitted bytes
		// are, after depositMmap de-interleaves them. Only true planar
		// streams leave the flag clear.
		flags |= flagInterleaved
	}

	e.mu.Lock()
	target := e.target
	e.mu.Unlock()

	if target != nil {
		payload := wire.FormatPayload{
			StreamID: streamID,
			Flags:    flags,
			Rate:     uint32(rate),
			Channels: uint32(channels),
			Format:   format,
		}
		if err := wire.WriteFormatMessage(target, payload); err != nil {
			return err
		}
	}

	s.initialized.Store(true)
	e.spawnWorker(s)
	return nil
}

// Close intercepts the host's stream teardown. The worker keeps running
// across a close/reopen cycle; only the negotiated-format flag is cleared,
// so a subsequent hw_params on the same device handle re-initializes
// cleanly instead of leaking a second worker.
func (e *CaptureEngine) Close(deviceID any) error {
	s := e.lookup(deviceID)
	if s == nil {
		return nil
	}
	s.hasFormat.Store(false)
	return nil
}
