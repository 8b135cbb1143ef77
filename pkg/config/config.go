package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Client struct {
		APIBaseURL        string        `yaml:"api_base_url"`
		SignalURL         string        `yaml:"signal_url"`
		MediaURL          string        `yaml:"media_url"`
		Token             string        `yaml:"token"`
		RequestTimeout    time.Duration `yaml:"request_timeout"`
		ReconnectAttempts int           `yaml:"reconnect_attempts"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	} `yaml:"client"`

	Session struct {
		MTU                 int           `yaml:"mtu"`
		RepairCount         int           `yaml:"repair_count"`
		EncoderBacklogLimit int           `yaml:"encoder_backlog_limit"`
		AudioChunkDuration  time.Duration `yaml:"audio_chunk_duration"`
		ChannelQueueSize    int           `yaml:"channel_queue_size"`
		SendRateLimit       float64       `yaml:"send_rate_limit"` // packets per second, 0 = unlimited
		SendBurst           int           `yaml:"send_burst"`
	} `yaml:"session"`

	Codec struct {
		ScreenConfigTimeout time.Duration `yaml:"screen_config_timeout"`
	} `yaml:"codec"`

	Room struct {
		PinLocalOnUnpin    bool          `yaml:"pin_local_on_unpin"`
		TypingStopDebounce time.Duration `yaml:"typing_stop_debounce"`
		SubRoomWarning     time.Duration `yaml:"subroom_warning"`
	} `yaml:"room"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Client
	if c.Client.APIBaseURL == "" {
		return fmt.Errorf("client.api_base_url must not be empty")
	}
	if c.Client.RequestTimeout <= 0 {
		return fmt.Errorf("client.request_timeout must be > 0")
	}
	if c.Client.ReconnectAttempts < 0 {
		return fmt.Errorf("client.reconnect_attempts must be >= 0")
	}
	if c.Client.ReconnectDelay <= 0 {
		return fmt.Errorf("client.reconnect_delay must be > 0")
	}

	// Session
	if c.Session.MTU < 64 || c.Session.MTU > 65535 {
		return fmt.Errorf("session.mtu must be in [64, 65535]")
	}
	if c.Session.RepairCount < 0 {
		return fmt.Errorf("session.repair_count must be >= 0")
	}
	if c.Session.EncoderBacklogLimit <= 0 {
		return fmt.Errorf("session.encoder_backlog_limit must be > 0")
	}
	if c.Session.AudioChunkDuration <= 0 {
		return fmt.Errorf("session.audio_chunk_duration must be > 0")
	}
	if c.Session.ChannelQueueSize <= 0 {
		return fmt.Errorf("session.channel_queue_size must be > 0")
	}
	if c.Session.SendRateLimit < 0 {
		return fmt.Errorf("session.send_rate_limit must be >= 0")
	}
	if c.Session.SendRateLimit > 0 && c.Session.SendBurst <= 0 {
		return fmt.Errorf("session.send_burst must be > 0 when send_rate_limit is set")
	}

	// Codec
	if c.Codec.ScreenConfigTimeout <= 0 {
		return fmt.Errorf("codec.screen_config_timeout must be > 0")
	}

	// Room
	if c.Room.TypingStopDebounce <= 0 {
		return fmt.Errorf("room.typing_stop_debounce must be > 0")
	}
	if c.Room.SubRoomWarning <= 0 {
		return fmt.Errorf("room.subroom_warning must be > 0")
	}

	// Monitoring
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be in (0, 1]")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Client.APIBaseURL = "http://localhost:8080"
	cfg.Client.SignalURL = "ws://localhost:8081/events"
	cfg.Client.MediaURL = "http://localhost:8080/webrtc/connect"
	cfg.Client.RequestTimeout = 10 * time.Second
	cfg.Client.ReconnectAttempts = 3
	cfg.Client.ReconnectDelay = 2 * time.Second

	cfg.Session.MTU = 1200
	cfg.Session.RepairCount = 2
	cfg.Session.EncoderBacklogLimit = 4
	cfg.Session.AudioChunkDuration = 20 * time.Millisecond
	cfg.Session.ChannelQueueSize = 64
	cfg.Session.SendRateLimit = 0
	cfg.Session.SendBurst = 32

	cfg.Codec.ScreenConfigTimeout = 3 * time.Second

	cfg.Room.PinLocalOnUnpin = true
	cfg.Room.TypingStopDebounce = 2 * time.Second
	cfg.Room.SubRoomWarning = time.Minute

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.PrometheusPort = 9090

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if url := os.Getenv("ERMIS_API_BASE_URL"); url != "" {
		c.Client.APIBaseURL = url
	}
	if url := os.Getenv("ERMIS_MEDIA_URL"); url != "" {
		c.Client.MediaURL = url
	}
	if url := os.Getenv("ERMIS_SIGNAL_URL"); url != "" {
		c.Client.SignalURL = url
	}
	if token := os.Getenv("ERMIS_TOKEN"); token != "" {
		c.Client.Token = token
	}
	if level := os.Getenv("ERMIS_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
