// Package host is a demo playback-library stand-in: a minimal
// malgo-backed PCM player that exercises the capture engine's intercepts
// (hw_params, writei, close) from its own period callback, the way a real
// playback library's internals would. It exists so the engine has
// something concrete driving it end to end; it is not part of the
// engine's contract.
package host

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/ColonelBlimp/pcmtap/internal/config"
	"github.com/ColonelBlimp/pcmtap/internal/engine"
	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

var (
	// ErrAlreadyRunning is returned by Start when the player is already
	// running.
	ErrAlreadyRunning = errors.New("host: player already running")
	// ErrNotRunning is returned by Stop when the player isn't started.
	ErrNotRunning = errors.New("host: player not running")
)

const demoToneHz = 440.0

// deviceHandle is the comparable value Open/HwParams/Writei/Close key
// their CaptureEngine.CaptureStream lookups by — any comparable type works
// since the engine keys on the host's own device handle by equality alone,
// so a single unexported type is enough for a demo harness that only ever
// drives one device.
type deviceHandle struct{}

// Player drives one malgo playback device, synthesizing a sine wave and
// mirroring every period to the bound capture engine before it reaches the
// audio backend — the same position a real playback library's writei
// implementation would call from.
type Player struct {
	eng *engine.CaptureEngine
	cfg config.Settings

	ctx    *malgo.AllocatedContext
	device *malgo.Device
	mu     sync.Mutex

	running atomic.Bool
	phase   float64
}

// New creates a Player bound to eng, using cfg for device parameters.
func New(eng *engine.CaptureEngine, cfg config.Settings) *Player {
	return &Player{eng: eng, cfg: cfg}
}

// Start negotiates the demo stream's format with the engine, opens the
// malgo playback device, and begins generating audio. Every period is
// handed to the engine's Writei intercept before malgo ships it to the
// backend.
func (p *Player) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	format, err := p.cfg.PCMFormat()
	if err != nil {
		p.running.Store(false)
		return err
	}

	mode := engine.Mode(0)
	if p.cfg.Async {
		mode = engine.ModeAsync
	}
	if err := p.eng.Open(deviceHandle{}, p.cfg.AudioDevice, engine.StreamDirPlayback, mode); err != nil {
		p.running.Store(false)
		return fmt.Errorf("open demo stream: %w", err)
	}
	if err := p.eng.HwParams(deviceHandle{}, format, p.cfg.Channels, p.cfg.SampleRate, p.cfg.BufferSize, engine.AccessRWInterleaved); err != nil {
		p.running.Store(false)
		return fmt.Errorf("negotiate demo stream format: %w", err)
	}

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		p.running.Store(false)
		return fmt.Errorf("init audio context: %w", err)
	}

	malgoFormat, err := toMalgoFormat(format)
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		p.running.Store(false)
		return err
	}

	deviceConfig := malgo.DeviceConfig{
		DeviceType:         malgo.Playback,
		SampleRate:         uint32(p.cfg.SampleRate),
		PeriodSizeInFrames: uint32(p.cfg.BufferSize),
		Playback: malgo.SubConfig{
			Format:   malgoFormat,
			Channels: uint32(p.cfg.Channels),
		},
	}

	if p.cfg.DeviceIndex >= 0 {
		devices, err := malgoCtx.Devices(malgo.Playback)
		if err == nil && p.cfg.DeviceIndex >= len(devices) {
			err = fmt.Errorf("device index %d out of range (%d playback devices)", p.cfg.DeviceIndex, len(devices))
		}
		if err != nil {
			_ = malgoCtx.Uninit()
			malgoCtx.Free()
			p.running.Store(false)
			return fmt.Errorf("select device: %w", err)
		}
		deviceConfig.Playback.DeviceID = devices[p.cfg.DeviceIndex].ID.Pointer()
	}

	sampleSize, err := format.SampleSize()
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		p.running.Store(false)
		return err
	}

	onSendFrames := func(output, _ []byte, frameCount uint32) {
		p.fillSine(output, int(frameCount), sampleSize)
		if err := p.eng.Writei(deviceHandle{}, output, int(frameCount)); err != nil {
			// ErrBusy/ErrInvalidState are expected transient conditions
			// (worker still draining the previous period, or the stream
			// mid-renegotiation); host playback itself is never blocked
			// on the mirror.
			_ = err
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onSendFrames,
	})
	if err != nil {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
		p.running.Store(false)
		return fmt.Errorf("init device: %w", err)
	}

	p.mu.Lock()
	p.ctx = malgoCtx
	p.device = device
	p.mu.Unlock()

	if err := device.Start(); err != nil {
		p.teardown()
		p.running.Store(false)
		return fmt.Errorf("start device: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = p.Stop()
	}()

	return nil
}

// Stop halts playback and closes the demo stream's negotiated format (the
// "close" intercept); the engine's worker keeps running, ready for a
// subsequent Start to re-negotiate.
func (p *Player) Stop() error {
	if !p.running.CompareAndSwap(true, false) {
		return ErrNotRunning
	}
	p.teardown()
	return p.eng.Close(deviceHandle{})
}

func (p *Player) teardown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device != nil {
		_ = p.device.Stop()
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		_ = p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
	}
}

// fillSine writes frameCount frames of a demoToneHz sine wave, interleaved
// across every configured channel, into buf in the negotiated format.
func (p *Player) fillSine(buf []byte, frameCount, sampleSize int) {
	channels := p.cfg.Channels
	rate := float64(p.cfg.SampleRate)
	step := 2 * math.Pi * demoToneHz / rate

	for i := 0; i < frameCount; i++ {
		p.phase += step
		if p.phase > 2*math.Pi {
			p.phase -= 2 * math.Pi
		}
		sample := math.Sin(p.phase)

		for c := 0; c < channels; c++ {
			off := (i*channels + c) * sampleSize
			if off+sampleSize > len(buf) {
				return
			}
			putSample(buf[off:off+sampleSize], sample)
		}
	}
}

// putSample writes a [-1,1] sample into dst as a little-endian signed
// integer sized to dst.
func putSample(dst []byte, sample float64) {
	switch len(dst) {
	case 2:
		v := int16(sample * 32767)
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
	case 4:
		v := int32(sample * 2147483647)
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
		dst[3] = byte(v >> 24)
	}
}

func toMalgoFormat(f pcm.Format) (malgo.FormatType, error) {
	switch f {
	case pcm.FormatS16LE:
		return malgo.FormatS16, nil
	case pcm.FormatS24LE:
		return malgo.FormatS32, nil
	case pcm.FormatS32LE:
		return malgo.FormatS32, nil
	default:
		return 0, pcm.ErrUnsupportedFormat
	}
}
