package engine

import (
	"testing"

	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

// TestOpenRecordsMode exercises the "open" intercept: the mode recorded
// there, not HwParams, selects the producer-path discipline.
func TestOpenRecordsMode(t *testing.T) {
	e, _ := newTestEngine()
	dev := "dev-open"

	if err := e.Open(dev, "hw:0,0", StreamDirPlayback, ModeAsync); err != nil {
		t.Fatalf("Open: %v", err)
	}

	s := e.lookup(dev)
	if s == nil {
		t.Fatal("Open did not create a stream")
	}
	if s.mode&ModeAsync == 0 {
		t.Fatal("expected Open to record ModeAsync on the stream")
	}

	if err := e.HwParams(dev, pcm.FormatS16LE, 2, 48000, 480, AccessRWInterleaved); err != nil {
		t.Fatalf("HwParams: %v", err)
	}
	if s.mode&ModeAsync == 0 {
		t.Fatal("HwParams must not clear the mode Open recorded")
	}
}

func TestHwParamsUnsupportedFormat(t *testing.T) {
	e, _ := newTestEngine()
	if err := e.HwParams("dev", pcm.Format(99), 2, 48000, 480, AccessRWInterleaved); err != ErrNotSupported {
		t.Fatalf("HwParams with bad format = %v, want ErrNotSupported", err)
	}
}

// TestCloseRestartsWorkerOnRenegotiation covers the restart-on-reopen
// decision: closing a stream and reopening it with a fresh hw_params
// restarts its worker rather than leaking a second one.
func TestCloseRestartsWorkerOnRenegotiation(t *testing.T) {
	e, rec := newTestEngine()
	dev := "dev-reopen"

	if err := e.HwParams(dev, pcm.FormatS16LE, 2, 48000, 480, AccessRWInterleaved); err != nil {
		t.Fatalf("HwParams: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s := e.lookup(dev)
	firstWorkerDone := s.workerDone

	if err := e.Close(dev); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.hasFormat.Load() {
		t.Fatal("Close should clear hasFormat")
	}

	if err := e.HwParams(dev, pcm.FormatS16LE, 2, 48000, 480, AccessRWInterleaved); err != nil {
		t.Fatalf("second HwParams: %v", err)
	}

	select {
	case <-firstWorkerDone:
	default:
		t.Fatal("expected the original worker to have been quiesced on renegotiation")
	}

	if s.workerDone == firstWorkerDone {
		t.Fatal("expected a fresh workerDone channel for the restarted worker")
	}

	frames := 10
	buf := make([]byte, frames*4)
	if err := e.Writei(dev, buf, frames); err != nil {
		t.Fatalf("Writei after renegotiation: %v", err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
}

// TestHwParamsIdempotentStreamID covers the round-trip property: hw_params
// invoked twice with identical parameters produces at most one new
// stream_id, since initializeStream only allocates when streamID is still
// unassigned.
func TestHwParamsIdempotentStreamID(t *testing.T) {
	e, _ := newTestEngine()
	dev := "dev-renegotiate"

	if err := e.HwParams(dev, pcm.FormatS16LE, 2, 48000, 480, AccessRWInterleaved); err != nil {
		t.Fatalf("first HwParams: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	s := e.lookup(dev)
	firstID := s.streamID
	if firstID == 0 {
		t.Fatal("expected a stream id to be assigned after Start")
	}

	if err := e.HwParams(dev, pcm.FormatS16LE, 2, 48000, 480, AccessRWInterleaved); err != nil {
		t.Fatalf("second HwParams: %v", err)
	}
	if s.streamID != firstID {
		t.Fatalf("stream id changed on renegotiation without close: got %d, want %d", s.streamID, firstID)
	}
}

func TestHwParamsPlanarLayout(t *testing.T) {
	e, _ := newTestEngine()
	if err := e.HwParams("dev-planar", pcm.FormatS32LE, 2, 44100, 480, AccessNoninterleaved); err != nil {
		t.Fatalf("HwParams: %v", err)
	}
	s := e.lookup("dev-planar")
	if s.layout != pcm.Planar {
		t.Fatalf("layout = %v, want Planar", s.layout)
	}
}
