package engine

import "github.com/ColonelBlimp/pcmtap/internal/wire"

// BindTarget sets the downstream packet-stream buffer. It may be called
// exactly once per engine; a second call fails with ErrAlreadyBound.
func (e *CaptureEngine) BindTarget(target wire.PacketStream) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.target != nil {
		return ErrAlreadyBound
	}
	e.target = target
	return nil
}

// AllowSkip toggles the ALLOW_SKIP flag.
func (e *CaptureEngine) AllowSkip(enabled bool) {
	for {
		old := e.flags.Load()
		var next uint32
		if enabled {
			next = old | flagAllowSkip
		} else {
			next = old &^ flagAllowSkip
		}
		if e.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

// Start activates capturing. It requires a bound target (ErrNotReady
// otherwise). On the first call, every stream that already has a
// negotiated format but has not yet been initialized is initialized now.
func (e *CaptureEngine) Start() error {
	e.mu.Lock()
	hasTarget := e.target != nil
	e.mu.Unlock()
	if !hasTarget {
		return ErrNotReady
	}

	if e.started.CompareAndSwap(false, true) {
		e.mu.Lock()
		streams := make([]*CaptureStream, len(e.streams))
		copy(streams, e.streams)
		e.mu.Unlock()

		for _, s := range streams {
			if s.hasFormat.Load() && !s.initialized.Load() {
				if err := e.initializeStream(s); err != nil {
					e.logf("engine: start: initialize stream: %v", err)
				}
			}
		}
	}

	for {
		old := e.flags.Load()
		next := old | flagCapturing
		if e.flags.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Stop clears the CAPTURING flag. Idempotent.
func (e *CaptureEngine) Stop() error {
	for {
		old := e.flags.Load()
		next := old &^ flagCapturing
		if e.flags.CompareAndSwap(old, next) {
			return nil
		}
	}
}

// Destroy quiesces every stream's worker and releases engine resources.
// It is not safe to use the engine after Destroy returns.
func (e *CaptureEngine) Destroy() {
	e.mu.Lock()
	streams := make([]*CaptureStream, len(e.streams))
	copy(streams, e.streams)
	target := e.target
	e.mu.Unlock()

	for _, s := range streams {
		e.quiesceWorker(s)
	}

	if closer, ok := target.(interface{ CloseWriter() error }); ok {
		if err := closer.CloseWriter(); err != nil {
			e.logf("engine: destroy: close target: %v", err)
		}
	}

	e.mu.Lock()
	e.streams = nil
	e.publishStreams()
	e.target = nil
	e.mu.Unlock()
}
