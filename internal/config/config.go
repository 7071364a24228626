package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type RateLimit struct {
	Count    int           `mapstructure:"count"`
	Interval time.Duration `mapstructure:"interval"`
}

// Peer configures a mesh participant.
type Peer struct {
	SignalURL          string        `mapstructure:"signal_url"`
	ICEServers         []string      `mapstructure:"ice_servers"`
	TURNURL            string        `mapstructure:"turn_url"`
	TURNUser           string        `mapstructure:"turn_user"`
	TURNPass           string        `mapstructure:"turn_pass"`
	NegotiationTimeout time.Duration `mapstructure:"negotiation_timeout"`
	GracePeriod        time.Duration `mapstructure:"grace_period"`
	MaxRebuilds        int           `mapstructure:"max_rebuilds"`
	ChatCodec          string        `mapstructure:"chat_codec"`
	DisplayName        string        `mapstructure:"display_name"`
	Loopback           bool          `mapstructure:"loopback"`
}

type Config struct {
	Mode           string        `mapstructure:"mode"`
	Port           int           `mapstructure:"port"`
	StaticPath     string        `mapstructure:"static_path"`
	ReadLimit      int64         `mapstructure:"read_limit"`
	PingPeriod     time.Duration `mapstructure:"ping_period"`
	Secret         string        `mapstructure:"secret"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	SendBuffer     int           `mapstructure:"send_buffer"`
	RateLimit      RateLimit     `mapstructure:"rate_limit"`
	LogLevel       string        `mapstructure:"log_level"`
	Peer           Peer          `mapstructure:"peer"`
}

// New returns a viper instance with defaults, environment overrides and the config file for CONFIG_ENV.
// Callers may bind flags into it before Load.
func New() *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Str("module", "config").Msg("read .env")
	}

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	v.SetConfigFile(fmt.Sprintf("config/config.%s.yaml", env))

	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "change-me")
	v.SetDefault("allowed_origins", []string{"*"})
	v.SetDefault("send_buffer", 64)
	v.SetDefault("rate_limit.count", 200)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("log_level", "info")

	v.SetDefault("peer.signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("peer.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("peer.negotiation_timeout", "15s")
	v.SetDefault("peer.grace_period", "10s")
	v.SetDefault("peer.max_rebuilds", 3)
	v.SetDefault("peer.chat_codec", "json")
	v.SetDefault("peer.display_name", "")
	v.SetDefault("peer.loopback", false)
	return v
}

// Load reads the config file when present and decodes v.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", v.ConfigFileUsed()).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config")
	return &cfg, nil
}
