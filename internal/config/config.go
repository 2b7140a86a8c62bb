package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Capture struct {
	Audio     bool   `mapstructure:"audio"`
	Video     bool   `mapstructure:"video"`
	AudioFile string `mapstructure:"audio_file"`
	VideoFile string `mapstructure:"video_file"`
}

type Config struct {
	Mode             string        `mapstructure:"mode"`
	LogLevel         string        `mapstructure:"log_level"`
	SignalURL        string        `mapstructure:"signal_url"`
	Rooms            []string      `mapstructure:"rooms"`
	DisplayName      string        `mapstructure:"display_name"`
	ReadLimit        int64         `mapstructure:"read_limit"`
	PingPeriod       time.Duration `mapstructure:"ping_period"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	OrphanTimeout    time.Duration `mapstructure:"orphan_timeout"`
	EventBuffer      int           `mapstructure:"event_buffer"`
	ICEServers       []string      `mapstructure:"ice_servers"`
	Capture          Capture       `mapstructure:"capture"`
	DiagnosticsAddr  string        `mapstructure:"diagnostics_addr"`

	// Source is the file the values were read from, empty when only
	// defaults and environment applied.
	Source string `mapstructure:"-"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, then MEET_* overrides.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("MEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("signal_url", "ws://localhost:8080/ws")
	v.SetDefault("rooms", []string{})
	v.SetDefault("display_name", "meetclient")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("handshake_timeout", "15s")
	v.SetDefault("orphan_timeout", "10s")
	v.SetDefault("event_buffer", 64)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("capture.audio", true)
	v.SetDefault("capture.video", false)
	v.SetDefault("capture.audio_file", "")
	v.SetDefault("capture.video_file", "")
	v.SetDefault("diagnostics_addr", ":9090")

	source := fileName
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		source = ""
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Source = source
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.SignalURL == "" {
		return errors.New("signal_url is required")
	}
	if !strings.HasPrefix(c.SignalURL, "ws://") && !strings.HasPrefix(c.SignalURL, "wss://") {
		return fmt.Errorf("signal_url %q must be a ws:// or wss:// url", c.SignalURL)
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake_timeout must be positive")
	}
	if c.OrphanTimeout <= 0 {
		return errors.New("orphan_timeout must be positive")
	}
	if c.PingPeriod <= 0 || c.WriteTimeout <= 0 {
		return errors.New("ping_period and write_timeout must be positive")
	}
	return nil
}
