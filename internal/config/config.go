package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultJWTExpiresIn = "24h"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "relaydesk"
	DefaultPGSSLMode    = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Auth     AuthConfig     `toml:"auth"`
	Postgres PostgresConfig `toml:"postgres"`
	Dispatch DispatchConfig `toml:"dispatch"`
	Janitor  JanitorConfig  `toml:"janitor"`
	Channels ChannelsConfig `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type DispatchConfig struct {
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	SendTimeoutSeconds  int `toml:"send_timeout_seconds"`
}

// PollInterval returns the poll interval with a sane floor.
func (c DispatchConfig) PollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// SendTimeout returns the per-dispatch adapter timeout.
func (c DispatchConfig) SendTimeout() time.Duration {
	if c.SendTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

type JanitorConfig struct {
	Schedule     string `toml:"schedule"`
	IdleAfterMin int    `toml:"idle_after_minutes"`
}

// IdleAfter returns the idle window after which active conversations are closed.
func (c JanitorConfig) IdleAfter() time.Duration {
	if c.IdleAfterMin <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.IdleAfterMin) * time.Minute
}

// ChannelsConfig holds per-channel outbound delivery endpoints for the
// HTTP delivery adapter.
type ChannelsConfig struct {
	DeliveryURLs map[string]string `toml:"delivery_urls"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Dispatch: DispatchConfig{
			PollIntervalSeconds: 5,
			SendTimeoutSeconds:  10,
		},
		Janitor: JanitorConfig{
			Schedule:     "@every 10m",
			IdleAfterMin: 24 * 60,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}
