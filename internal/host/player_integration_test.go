//go:build integration

package host

import (
	"context"
	"log"
	"testing"
	"time"

	"github.com/ColonelBlimp/pcmtap/internal/clock"
	"github.com/ColonelBlimp/pcmtap/internal/config"
	"github.com/ColonelBlimp/pcmtap/internal/engine"
	"github.com/ColonelBlimp/pcmtap/internal/wire"
)

// These tests require a real playback device and are skipped by default.
// Run with: go test -tags=integration ./internal/host

func TestPlayer_StartStop_Integration(t *testing.T) {
	eng := engine.New(clock.System{}, clock.NewAtomicAllocator(), log.Default())
	if err := eng.BindTarget(wire.NewRingPacketStream(1 << 20)); err != nil {
		t.Fatalf("BindTarget: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("engine.Start: %v", err)
	}

	p := New(eng, config.Settings{
		DeviceIndex: -1,
		SampleRate:  48000,
		Channels:    2,
		Format:      "S16_LE",
		BufferSize:  1024,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}
