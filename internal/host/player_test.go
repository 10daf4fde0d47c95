package host

import (
	"encoding/binary"
	"log"
	"testing"

	"github.com/ColonelBlimp/pcmtap/internal/clock"
	"github.com/ColonelBlimp/pcmtap/internal/config"
	"github.com/ColonelBlimp/pcmtap/internal/engine"
	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

func newTestPlayer(cfg config.Settings) *Player {
	eng := engine.New(clock.System{}, clock.NewAtomicAllocator(), log.Default())
	return New(eng, cfg)
}

func TestFillSineProducesNonZeroSamples(t *testing.T) {
	p := newTestPlayer(config.Settings{
		SampleRate: 48000,
		Channels:   2,
		Format:     "S16_LE",
	})

	buf := make([]byte, 16*2*2) // 16 frames, 2 channels, 2 bytes/sample
	p.fillSine(buf, 16, 2)

	allZero := true
	for _, b := range buf {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		t.Fatal("fillSine left the buffer silent")
	}
}

func TestFillSineBothChannelsMatch(t *testing.T) {
	p := newTestPlayer(config.Settings{
		SampleRate: 48000,
		Channels:   2,
		Format:     "S16_LE",
	})

	buf := make([]byte, 8*2*2)
	p.fillSine(buf, 8, 2)

	for i := 0; i < 8; i++ {
		left := int16(binary.LittleEndian.Uint16(buf[i*4 : i*4+2]))
		right := int16(binary.LittleEndian.Uint16(buf[i*4+2 : i*4+4]))
		if left != right {
			t.Fatalf("frame %d: channels diverge (%d != %d), demo tone is mono content duplicated across channels", i, left, right)
		}
	}
}

func TestPutSampleClampsToContainerSize(t *testing.T) {
	dst16 := make([]byte, 2)
	putSample(dst16, 1.0)
	if v := int16(binary.LittleEndian.Uint16(dst16)); v != 32767 {
		t.Errorf("putSample(1.0) into 2 bytes = %d, want 32767", v)
	}

	dst32 := make([]byte, 4)
	putSample(dst32, -1.0)
	v := int32(binary.LittleEndian.Uint32(dst32))
	if v != -2147483647 {
		t.Errorf("putSample(-1.0) into 4 bytes = %d, want -2147483647", v)
	}
}

func TestToMalgoFormatRejectsUnsupported(t *testing.T) {
	if _, err := toMalgoFormat(pcm.Format(99)); err != pcm.ErrUnsupportedFormat {
		t.Fatalf("toMalgoFormat(99) error = %v, want ErrUnsupportedFormat", err)
	}
}

func TestStopWithoutStartIsNotRunning(t *testing.T) {
	p := newTestPlayer(config.Settings{SampleRate: 48000, Channels: 2, Format: "S16_LE"})
	if err := p.Stop(); err != ErrNotRunning {
		t.Fatalf("Stop() before Start = %v, want ErrNotRunning", err)
	}
}
