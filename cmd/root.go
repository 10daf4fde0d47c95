// cmd/root.go
package cmd

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/gen2brain/malgo"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ColonelBlimp/pcmtap/internal/clock"
	"github.com/ColonelBlimp/pcmtap/internal/config"
	"github.com/ColonelBlimp/pcmtap/internal/engine"
	"github.com/ColonelBlimp/pcmtap/internal/host"
	"github.com/ColonelBlimp/pcmtap/internal/wire"
)

var rootCmd = &cobra.Command{
	Use:   "pcmtap",
	Short: "Mirror a PCM playback stream into a capture buffer",
	Long:  `pcmtap demonstrates capturing the PCM audio a playback device emits, without disturbing the device's own timing.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the demo playback device and mirror its audio",
	RunE:  runCapture,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List available playback devices",
	RunE:  listDevices,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(devicesCmd)

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().IntP("device", "d", -1, "playback device index (-1 for default)")
	rootCmd.PersistentFlags().StringP("target", "t", "ring", `downstream target: "ring" or a unix socket path`)
	rootCmd.PersistentFlags().BoolP("allow-skip", "s", false, "drop a period rather than block the host when the capture worker is busy")
	rootCmd.PersistentFlags().BoolP("debug", "D", false, "enable debug output")

	cobra.CheckErr(viper.BindPFlag("device_index", rootCmd.PersistentFlags().Lookup("device")))
	cobra.CheckErr(viper.BindPFlag("target", rootCmd.PersistentFlags().Lookup("target")))
	cobra.CheckErr(viper.BindPFlag("allow_skip", rootCmd.PersistentFlags().Lookup("allow-skip")))
	cobra.CheckErr(viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")))
}

func initConfig() {
	if err := config.Init(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
}

// runCapture wires config, the capture engine, a downstream packet-stream
// target, and the demo playback host together, then runs until a signal or
// the command is cancelled.
func runCapture(_ *cobra.Command, _ []string) error {
	settings, err := config.Get()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if settings.Debug {
		fmt.Printf("Config: sample_rate=%d channels=%d format=%s buffer_size=%d target=%s\n",
			settings.SampleRate, settings.Channels, settings.Format, settings.BufferSize, settings.Target)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		cancel()
	}()

	eng := engine.New(clock.System{}, clock.NewAtomicAllocator(), log.Default())

	target, err := openTarget(settings)
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	if err := eng.BindTarget(target); err != nil {
		return fmt.Errorf("bind target: %w", err)
	}
	eng.AllowSkip(settings.AllowSkip)

	if err := eng.Start(); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	defer eng.Destroy()

	player := host.New(eng, *settings)
	fmt.Println("Starting pcmtap... Press Ctrl+C to stop.")
	if err := player.Start(ctx); err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	<-ctx.Done()

	if err := player.Stop(); err != nil && err != host.ErrNotRunning {
		_, _ = fmt.Fprintf(os.Stderr, "error stopping playback: %v\n", err)
	}

	fmt.Println("pcmtap stopped.")
	return nil
}

// openTarget builds the downstream wire.PacketStream settings.Target names:
// the in-process ring buffer, or a unix socket path for out-of-process
// delivery.
func openTarget(settings *config.Settings) (wire.PacketStream, error) {
	if settings.Target == "ring" {
		return wire.NewRingPacketStream(settings.RingCapacity), nil
	}

	conn, err := net.Dial("unix", settings.Target)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", settings.Target, err)
	}
	return wire.NewWriterPacketStream(conn), nil
}

// listDevices enumerates playback devices via the audio backend.
func listDevices(_ *cobra.Command, _ []string) error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	devices, err := ctx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}

	for i, dev := range devices {
		fmt.Printf("  [%d] %s\n", i, dev.Name())
	}
	return nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "execution error: %v\n", err)
		os.Exit(1)
	}
}
