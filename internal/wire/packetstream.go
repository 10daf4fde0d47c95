package wire

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/smallnest/ringbuffer"
)

// Mode selects the direction a packet is opened for. This engine only
// ever opens packets for writing (the capture engine is a producer onto
// the downstream buffer), but the type exists to mirror the collaborator
// interface's full shape ("open/set-size/write/close on packets").
type Mode int

const (
	// ModeWrite opens a packet for writing.
	ModeWrite Mode = iota
)

// PacketStream is the downstream packet-stream buffer collaborator:
// open/set-size/write/close on packets targeting a shared ring buffer. It
// is written by multiple workers concurrently (one per capture stream),
// so implementations serialize whole packets internally: Open blocks
// until any in-flight packet from another worker has been closed, and the
// bytes of two packets never interleave.
type PacketStream interface {
	// Open begins a new packet, blocking until any packet another caller
	// has open is closed. Must be paired with a matching Close from the
	// same goroutine.
	Open(mode Mode) error
	// SetSize declares the total byte size of the packet about to be
	// written, letting a bounded implementation reserve space up front.
	SetSize(n int) error
	// Write appends bytes to the currently open packet.
	Write(p []byte) (int, error)
	// Close finalizes the currently open packet, making it visible to the
	// downstream consumer and releasing the stream for the next packet.
	Close() error
}

// ErrNotOpen is returned by SetSize/Write/Close when no packet is open.
var ErrNotOpen = errors.New("wire: no packet open")

// RingPacketStream is the default PacketStream, backed by an in-process
// byte ring buffer. One instance typically backs one CaptureEngine target;
// many streams' workers write to it concurrently, each packet held
// exclusive from Open to Close by pkt.
type RingPacketStream struct {
	pkt  sync.Mutex // held across each Open..Close span
	open atomic.Bool
	ring *ringbuffer.RingBuffer
}

// NewRingPacketStream creates a PacketStream backed by a ring buffer of the
// given byte capacity. The buffer blocks writers when full rather than
// dropping bytes — back-pressure on the downstream buffer is the
// downstream consumer's problem, not this package's.
func NewRingPacketStream(capacity int) *RingPacketStream {
	r := ringbuffer.New(capacity)
	r.SetBlocking(true)
	return &RingPacketStream{ring: r}
}

// Open begins a packet, blocking until any in-flight packet is closed.
// RingPacketStream needs no per-packet setup beyond that, since the ring
// buffer has no notion of message boundaries — the reader recovers them
// from the header fields Write's caller has already framed in.
func (s *RingPacketStream) Open(Mode) error {
	s.pkt.Lock()
	s.open.Store(true)
	return nil
}

// SetSize is a no-op for the ring buffer: its capacity is fixed at
// construction and individual packet sizes aren't pre-reserved.
func (s *RingPacketStream) SetSize(int) error {
	if !s.open.Load() {
		return ErrNotOpen
	}
	return nil
}

// Write appends p to the ring buffer.
func (s *RingPacketStream) Write(p []byte) (int, error) {
	if !s.open.Load() {
		return 0, ErrNotOpen
	}
	return s.ring.Write(p)
}

// Close ends the current packet and releases the stream to the next
// waiting worker.
func (s *RingPacketStream) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return ErrNotOpen
	}
	s.pkt.Unlock()
	return nil
}

// Reader returns an io.Reader over the ring buffer's contents, for the
// downstream consumer side of the collaborator (a separate encoding or
// muxing pipeline; also handy for tests).
func (s *RingPacketStream) Reader() io.Reader {
	return s.ring
}

// WriterPacketStream adapts any io.WriteCloser (a Unix socket, a file) into
// a PacketStream for out-of-process delivery. Each packet is written
// directly to the underlying writer as it's produced; SetSize is advisory
// only, since the header fields already carry the length.
type WriterPacketStream struct {
	pkt  sync.Mutex // held across each Open..Close span
	open atomic.Bool
	w    io.WriteCloser
}

// NewWriterPacketStream wraps w as a PacketStream.
func NewWriterPacketStream(w io.WriteCloser) *WriterPacketStream {
	return &WriterPacketStream{w: w}
}

// Open begins a packet, blocking until any in-flight packet is closed.
func (s *WriterPacketStream) Open(Mode) error {
	s.pkt.Lock()
	s.open.Store(true)
	return nil
}

// SetSize is advisory for WriterPacketStream.
func (s *WriterPacketStream) SetSize(int) error {
	if !s.open.Load() {
		return ErrNotOpen
	}
	return nil
}

// Write writes p to the underlying writer.
func (s *WriterPacketStream) Write(p []byte) (int, error) {
	if !s.open.Load() {
		return 0, ErrNotOpen
	}
	return s.w.Write(p)
}

// Close ends the current packet and releases the stream to the next
// waiting worker. It does not close the underlying writer — the stream
// may be reused for further packets; call CloseWriter to release the
// underlying resource.
func (s *WriterPacketStream) Close() error {
	if !s.open.CompareAndSwap(true, false) {
		return ErrNotOpen
	}
	s.pkt.Unlock()
	return nil
}

// CloseWriter releases the underlying io.WriteCloser. Called by the engine
// during destruction, after every worker has been quiesced, so no packet
// is in flight by the time it runs.
func (s *WriterPacketStream) CloseWriter() error {
	return s.w.Close()
}
