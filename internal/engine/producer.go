package engine

import (
	"runtime"
	"unsafe"

	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

// Writei intercepts an interleaved read/write deposit ("writei"). buf
// holds exactly frames_to_bytes(frames) bytes of interleaved PCM for the
// stream's negotiated format and channel count.
func (e *CaptureEngine) Writei(deviceID any, buf []byte, frames int) error {
	s := e.lookup(deviceID)
	if s == nil || !e.isCapturing() {
		return nil
	}
	if !s.initialized.Load() {
		return ErrInvalidState
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if !e.acquireSlot(s) {
		return ErrBusy
	}

	size, err := pcm.FramesToBytes(s.format, s.channels, frames)
	if err != nil {
		return err
	}
	if err := e.setPendingSize(s, size); err != nil {
		return err
	}

	s.captureTime = e.clock.Now()
	copy(s.scratch[:size], buf[:size])

	postNonBlocking(s.full)
	return nil
}

// Writen intercepts a planar read/write deposit ("writen"). bufs holds
// one []byte per channel, each frames_to_bytes(frames)/channels bytes
// long (samples_to_bytes(frames)). Requires a non-interleaved layout.
func (e *CaptureEngine) Writen(deviceID any, bufs [][]byte, frames int) error {
	s := e.lookup(deviceID)
	if s == nil || !e.isCapturing() {
		return nil
	}
	if !s.initialized.Load() {
		return ErrInvalidState
	}
	if s.layout == pcm.Interleaved {
		return ErrInvalidArg
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if !e.acquireSlot(s) {
		return ErrBusy
	}

	size, err := pcm.FramesToBytes(s.format, s.channels, frames)
	if err != nil {
		return err
	}
	if err := e.setPendingSize(s, size); err != nil {
		return err
	}

	channelBytes, err := pcm.SamplesToBytes(s.format, frames)
	if err != nil {
		return err
	}
	s.captureTime = e.clock.Now()
	for c := 0; c < s.channels && c < len(bufs); c++ {
		dst := s.scratch[c*channelBytes : (c+1)*channelBytes]
		copy(dst, bufs[c][:channelBytes])
	}

	postNonBlocking(s.full)
	return nil
}

// MmapBegin remembers the mmap areas, offset and frame count a matching
// MmapCommit will use. No deposit happens here.
func (e *CaptureEngine) MmapBegin(deviceID any, areas []pcm.MmapArea, offset, frames int) error {
	if !e.isCapturing() {
		return nil
	}

	s := e.lookup(deviceID)
	if s == nil {
		return ErrInvalidState
	}
	if !s.initialized.Load() {
		return ErrInvalidState
	}

	for _, a := range areas {
		if !pcm.IsByteAligned(a) {
			return ErrNotSupported
		}
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.mmapAreas = areas
	s.mmapOffset = offset
	s.mmapFrames = frames
	return nil
}

// MmapCommit is the real deposit for mmap access. A commit without a
// matching begin (no channels negotiated, or no areas recorded) is
// silently skipped, logged only in non-async mode.
func (e *CaptureEngine) MmapCommit(deviceID any, offset, frames int) error {
	s := e.lookup(deviceID)
	if s == nil || !e.isCapturing() {
		return nil
	}
	if !s.initialized.Load() {
		return ErrInvalidState
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.channels == 0 || s.mmapAreas == nil {
		if s.mode&ModeAsync == 0 {
			e.logf("engine: mmap_commit: no matching mmap_begin for device %v, skipping", deviceID)
		}
		return nil
	}
	if offset != s.mmapOffset && s.mode&ModeAsync == 0 {
		e.logf("engine: mmap_commit: offset %d does not match mmap_begin offset %d, continuing", offset, s.mmapOffset)
	}

	if !e.acquireSlot(s) {
		return ErrBusy
	}

	size, err := pcm.FramesToBytes(s.format, s.channels, frames)
	if err != nil {
		return err
	}
	if err := e.setPendingSize(s, size); err != nil {
		return err
	}

	s.captureTime = e.clock.Now()
	if err := e.depositMmap(s, offset, frames); err != nil {
		return err
	}

	postNonBlocking(s.full)
	return nil
}

// depositMmap copies one period out of the mmap areas recorded by
// MmapBegin, per one of three layout-specific copy strategies.
func (e *CaptureEngine) depositMmap(s *CaptureStream, offset, frames int) error {
	switch s.layout {
	case pcm.Interleaved:
		size, err := pcm.FramesToBytes(s.format, s.channels, frames)
		if err != nil {
			return err
		}
		src, err := pcm.AreaPos(s.mmapAreas[0], offset)
		if err != nil {
			return err
		}
		copyFromPointer(s.scratch[:size], src, size)
		return nil

	case pcm.ComplexPlanar:
		frameStride, err := pcm.FrameBytes(s.format, s.channels)
		if err != nil {
			return err
		}
		sampleSize, err := s.format.SampleSize()
		if err != nil {
			return err
		}
		for c := 0; c < s.channels; c++ {
			for i := 0; i < frames; i++ {
				src, err := pcm.AreaPos(s.mmapAreas[c], offset+i)
				if err != nil {
					return err
				}
				dstOff := i*frameStride + c*sampleSize
				copyFromPointer(s.scratch[dstOff:dstOff+sampleSize], src, sampleSize)
			}
		}
		return nil

	case pcm.Planar:
		channelBytes, err := pcm.SamplesToBytes(s.format, frames)
		if err != nil {
			return err
		}
		for c := 0; c < s.channels; c++ {
			src, err := pcm.AreaPos(s.mmapAreas[c], offset)
			if err != nil {
				return err
			}
			dst := s.scratch[c*channelBytes : (c+1)*channelBytes]
			copyFromPointer(dst, src, channelBytes)
		}
		return nil
	}
	return ErrNotSupported
}

// copyFromPointer copies n bytes from a raw mmap area address into dst.
// The host library's memory-mapped buffers are outside Go's GC-managed
// heap; unsafe.Slice is the standard idiom for viewing such memory as a
// byte slice.
func copyFromPointer(dst []byte, src unsafe.Pointer, n int) {
	srcSlice := unsafe.Slice((*byte)(src), n)
	copy(dst, srcSlice)
}

// acquireSlot implements the producer's wait-for-worker-readiness step:
// non-async streams block on the empty semaphore (or, with ALLOW_SKIP, try
// it without blocking); async streams spin on the ready flag (or, with
// ALLOW_SKIP, sample it once). Returns false if the caller should return
// ErrBusy.
func (e *CaptureEngine) acquireSlot(s *CaptureStream) bool {
	allowSkip := e.allowSkipEnabled()

	if s.mode&ModeAsync != 0 {
		if allowSkip {
			return s.ready.Load()
		}
		for !s.ready.Load() {
			runtime.Gosched()
		}
		return true
	}

	if allowSkip {
		select {
		case <-s.empty:
			return true
		default:
			return false
		}
	}
	<-s.empty
	return true
}

// setPendingSize implements the grow protocol. On the async path, growth
// beyond current capacity is deferred to the worker via a negative
// pending_size and this call returns ErrBusy for the current period;
// allocation never happens on the producer path in that mode.
func (e *CaptureEngine) setPendingSize(s *CaptureStream, requested int) error {
	if requested <= s.scratchCapacity {
		s.pendingSize = int64(requested)
		return nil
	}

	if s.mode&ModeAsync == 0 {
		if e.maxScratchBytes > 0 && requested > e.maxScratchBytes {
			s.scratchCapacity = 0
			s.scratch = nil
			return ErrOutOfMemory
		}
		s.scratch = make([]byte, requested)
		s.scratchCapacity = requested
		s.pendingSize = int64(requested)
		return nil
	}

	s.pendingSize = -int64(requested)
	postNonBlocking(s.full)
	return ErrBusy
}
