// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/ColonelBlimp/pcmtap/internal/pcm"
)

const (
	AppName       = "pcmtap"
	ConfigType    = "yaml"
	DefaultConfig = `# pcmtap configuration

# Demo playback device
audio_device: "hw:1,0"  # ALSA-style device name, informational only
device_index: -1        # -1 for default device
sample_rate: 48000       # Audio sample rate in Hz
channels: 2              # Number of channels
format: "S16_LE"         # S16_LE, S24_LE, or S32_LE
buffer_size: 1024        # Frames per period

# Capture mirroring
target: "ring"           # "ring" (in-process) or a unix socket path
ring_capacity: 1048576   # Bytes, when target is "ring"
allow_skip: false        # Drop a period rather than block the host when busy
async: false             # Open the demo stream in ASYNC mode

# Output
debug: false             # Enable debug output
`
)

// Settings holds all application configuration.
type Settings struct {
	// Demo playback device
	AudioDevice string `mapstructure:"audio_device"`
	DeviceIndex int    `mapstructure:"device_index"`
	SampleRate  int    `mapstructure:"sample_rate"`
	Channels    int    `mapstructure:"channels"`
	Format      string `mapstructure:"format"`
	BufferSize  int    `mapstructure:"buffer_size"`

	// Capture mirroring
	Target       string `mapstructure:"target"`
	RingCapacity int    `mapstructure:"ring_capacity"`
	AllowSkip    bool   `mapstructure:"allow_skip"`
	Async        bool   `mapstructure:"async"`

	// Output
	Debug bool `mapstructure:"debug"`
}

// Init initializes Viper with defaults and config file.
// Config file search order: current directory, then ~/.config/pcmtap/
func Init() error {
	viper.SetDefault("audio_device", "hw:1,0")
	viper.SetDefault("device_index", -1)
	viper.SetDefault("sample_rate", 48000)
	viper.SetDefault("channels", 2)
	viper.SetDefault("format", "S16_LE")
	viper.SetDefault("buffer_size", 1024)
	viper.SetDefault("target", "ring")
	viper.SetDefault("ring_capacity", 1048576)
	viper.SetDefault("allow_skip", false)
	viper.SetDefault("async", false)
	viper.SetDefault("debug", false)

	viper.SetConfigType(ConfigType)

	// Priority order: current directory first, then XDG config
	viper.AddConfigPath(".")

	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	viper.AddConfigPath(filepath.Join(configDir, AppName))

	// Try .config.yaml first (hidden file), then config.yaml
	viper.SetConfigName(".config")
	if err = viper.ReadInConfig(); err != nil {
		viper.SetConfigName("config")
		err = viper.ReadInConfig()
	}

	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			xdgConfigPath := filepath.Join(configDir, AppName)
			if err = ensureConfigExists(xdgConfigPath); err != nil {
				return err
			}
			if err = viper.ReadInConfig(); err != nil {
				return fmt.Errorf("read config: %w", err)
			}
		} else {
			return fmt.Errorf("read config: %w", err)
		}
	}

	return nil
}

func ensureConfigExists(configPath string) error {
	configFile := filepath.Join(configPath, "config.yaml")

	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		if err = os.MkdirAll(configPath, 0755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
		if err = os.WriteFile(configFile, []byte(DefaultConfig), 0644); err != nil {
			return fmt.Errorf("write default config: %w", err)
		}
	}
	return nil
}

// Get returns the current settings.
func Get() (*Settings, error) {
	var s Settings
	if err := viper.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &s, nil
}

// Validate checks that all settings are within acceptable ranges.
func (s *Settings) Validate() error {
	var errs []error

	if s.SampleRate < 8000 || s.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("sample_rate must be between 8000 and 192000 Hz, got %d", s.SampleRate))
	}
	if s.Channels < 1 || s.Channels > 8 {
		errs = append(errs, fmt.Errorf("channels must be between 1 and 8, got %d", s.Channels))
	}
	if s.BufferSize < 64 || s.BufferSize > 8192 {
		errs = append(errs, fmt.Errorf("buffer_size must be between 64 and 8192, got %d", s.BufferSize))
	}
	if s.BufferSize&(s.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("buffer_size should be a power of 2, got %d", s.BufferSize))
	}

	validFormats := map[string]bool{
		"S16_LE": true,
		"S24_LE": true,
		"S32_LE": true,
	}
	if !validFormats[s.Format] {
		errs = append(errs, fmt.Errorf("format must be one of S16_LE, S24_LE, S32_LE, got %q", s.Format))
	}

	if s.Target == "" {
		errs = append(errs, errors.New("target must not be empty"))
	}
	if s.Target == "ring" && s.RingCapacity < 4096 {
		errs = append(errs, fmt.Errorf("ring_capacity must be at least 4096 bytes, got %d", s.RingCapacity))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PCMFormat maps the config's wire-style format string to a pcm.Format.
// Kept here rather than in package pcm so pcm stays free of the
// string/YAML surface the config layer owns.
func (s *Settings) PCMFormat() (pcm.Format, error) {
	switch s.Format {
	case "S16_LE":
		return pcm.FormatS16LE, nil
	case "S24_LE":
		return pcm.FormatS24LE, nil
	case "S32_LE":
		return pcm.FormatS32LE, nil
	default:
		return 0, fmt.Errorf("unsupported format %q", s.Format)
	}
}
