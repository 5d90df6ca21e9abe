package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/mailer"
)

// EnvPrefix marks the environment variables read by the server.
const EnvPrefix = "GOSESSION_"

type serverConfig struct {
	HTTP       httpConfig        `koanf:"http"`
	Redis      redisConfig       `koanf:"redis"`
	CacheRedis redisConfig       `koanf:"cache_redis"`
	Store      storeConfig       `koanf:"store"`
	SMTP       mailer.SMTPConfig `koanf:"smtp"`
	Spotify    spotifyConfig     `koanf:"spotify"`
	Log        logConfig         `koanf:"log"`
	Engine     goSession.Config  `koanf:"engine"`
}

type httpConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	TrustProxy      bool          `koanf:"trust_proxy"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

type redisConfig struct {
	Addrs    []string `koanf:"addrs"`
	Password string   `koanf:"password"`
	DB       int      `koanf:"db"`
}

func (r redisConfig) enabled() bool { return len(r.Addrs) > 0 && r.Addrs[0] != "" }

// storeConfig selects the principal store: memory, postgres or bolt.
type storeConfig struct {
	Driver  string `koanf:"driver"`
	DSN     string `koanf:"dsn"`
	Schema  string `koanf:"schema"`
	Migrate bool   `koanf:"migrate"`
	Path    string `koanf:"path"`
}

type spotifyConfig struct {
	BaseURL      string `koanf:"base_url"`
	TokenURL     string `koanf:"token_url"`
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

func defaultServerConfig() serverConfig {
	engine := goSession.DefaultConfig()
	engine.Metrics.Enabled = true
	return serverConfig{
		HTTP: httpConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Redis:  redisConfig{Addrs: []string{"localhost:6379"}},
		Store:  storeConfig{Driver: "memory", Schema: "public", Path: "gosession.db"},
		SMTP:   mailer.SMTPConfig{Port: 587},
		Log:    logConfig{Level: "info", Format: "text"},
		Engine: engine,
	}
}

// envKey maps GOSESSION_ENGINE__TOKEN__ACCESS_SECRET to engine.token.access_secret.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

// loadConfig layers the YAML file at path (optional) and then the environment over
// the defaults.
func loadConfig(path string) (serverConfig, error) {
	cfg := defaultServerConfig()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("load env: %w", err)
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	switch cfg.Store.Driver {
	case "memory", "postgres", "bolt":
	default:
		return cfg, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	return cfg, nil
}
