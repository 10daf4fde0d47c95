package engine

import "errors"

// Sentinel errors returned by the control surface and intercept handlers.
// Each carries a specific recovery behavior; see the doc comment on the
// call site that returns it.
var (
	// ErrAlreadyBound is returned by BindTarget when a target is already set.
	ErrAlreadyBound = errors.New("engine: target already bound")
	// ErrNotReady is returned by Start when no target is bound yet.
	ErrNotReady = errors.New("engine: target not bound")
	// ErrInvalidState is returned by a data intercept invoked before the
	// stream has a negotiated, initialized format. The caller should treat
	// this as a silent skip for that period.
	ErrInvalidState = errors.New("engine: stream not initialized")
	// ErrInvalidArg is returned by Writen on an interleaved stream.
	ErrInvalidArg = errors.New("engine: invalid argument for stream layout")
	// ErrNotSupported is returned by HwParams for an unmappable format or
	// access mode, and by MmapBegin for a non-byte-aligned area.
	ErrNotSupported = errors.New("engine: format or access mode not supported")
	// ErrOutOfMemory is returned when growing the scratch buffer fails
	// synchronously (non-async streams only).
	ErrOutOfMemory = errors.New("engine: scratch buffer allocation failed")
	// ErrBusy is the back-pressure signal: the worker has not finished the
	// previous period, or a grow request has consumed this period.
	ErrBusy = errors.New("engine: worker busy, period dropped")
)
