package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Endpoints struct {
		WSBaseURL  string `yaml:"ws_base_url"`
		APIBaseURL string `yaml:"api_base_url"`
	} `yaml:"endpoints"`
	Backend struct {
		// Kind is memory, rest or postgres.
		Kind    string `yaml:"kind"`
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"backend"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Hub struct {
		PongWait            string `yaml:"pong_wait"`
		PingInterval        string `yaml:"ping_interval"`
		WriteTimeout        string `yaml:"write_timeout"`
		SendBuffer          int    `yaml:"send_buffer"`
		GracePeriod         string `yaml:"grace_period"`
		IdleTimeout         string `yaml:"idle_timeout"`
		SweepInterval       string `yaml:"sweep_interval"`
		RankingPollInterval string `yaml:"ranking_poll_interval"`
		PersistenceTimeout  string `yaml:"persistence_timeout"`
		RedirectTemplate    string `yaml:"redirect_template"`
	} `yaml:"hub"`
	Client struct {
		HeartbeatInterval string `yaml:"heartbeat_interval"`
		HeartbeatWait     string `yaml:"heartbeat_wait"`
		InitialBackoff    string `yaml:"initial_backoff"`
		MaxBackoff        string `yaml:"max_backoff"`
		MaxAttempts       uint64 `yaml:"max_attempts"`
		PollInterval      string `yaml:"poll_interval"`
	} `yaml:"client"`
}

// LoadDotEnv loads .env into the process environment if the file exists.
// Variables already set win over the file.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Load reads YAML config from path and applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	override := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	override(&c.Server.Port, "PORT")
	override(&c.Endpoints.WSBaseURL, "WS_BASE_URL")
	override(&c.Endpoints.APIBaseURL, "API_BASE_URL")
	override(&c.Backend.Kind, "BACKEND")
	override(&c.Backend.BaseURL, "PERSISTENCE_API_URL")
	override(&c.Redis.Addr, "REDIS_ADDR")
	override(&c.Postgres.URL, "DATABASE_URL")
	override(&c.NATS.URL, "NATS_URL")
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
