package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Logging is shared by every binary.
type Logging struct {
	Level string `yaml:"level"`
	// File, when set, receives a JSON copy of every record.
	File string `yaml:"file"`
}

func (l Logging) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

type MQTT struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// ClientConfig drives the voltguard terminal client.
type ClientConfig struct {
	BaseURL          string        `yaml:"base_url"`
	SessionPath      string        `yaml:"session_path"`
	ChatInterval     time.Duration `yaml:"chat_interval"`
	ChatInitialDelay time.Duration `yaml:"chat_initial_delay"`
	ListInterval     time.Duration `yaml:"list_interval"`
	MetricsAddr      string        `yaml:"metrics_addr"`
	MQTT             MQTT          `yaml:"mqtt"`
	Logging          Logging       `yaml:"logging"`
}

type BackendConfig struct {
	Addr      string        `yaml:"addr"`
	DBPath    string        `yaml:"db_path"`
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	MQTT      MQTT          `yaml:"mqtt"`
	Logging   Logging       `yaml:"logging"`

	BootstrapAdmin bool   `yaml:"bootstrap_admin"`
	BootstrapEmail string `yaml:"bootstrap_email"`
	BootstrapPass  string `yaml:"bootstrap_password"`
}

type NotifierConfig struct {
	Addr            string  `yaml:"addr"`
	MQTT            MQTT    `yaml:"mqtt"`
	EventBufferSize int     `yaml:"event_buffer_size"`
	Logging         Logging `yaml:"logging"`
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "voltguard", "session.db")
}

func loadLogging(prefix string) Logging {
	return Logging{
		Level: getenv(prefix+"LOG_LEVEL", "info"),
		File:  getenv(prefix+"LOG_FILE", ""),
	}
}

// LoadClient reads VOLTGUARD_* variables and then overlays the YAML file at path, if any.
func LoadClient(path string) (ClientConfig, error) {
	cfg := ClientConfig{
		BaseURL:          getenv("VOLTGUARD_API_URL", "http://localhost:8000"),
		SessionPath:      getenv("VOLTGUARD_SESSION_PATH", defaultSessionPath()),
		ChatInterval:     getenvDuration("VOLTGUARD_CHAT_INTERVAL", 10*time.Second),
		ChatInitialDelay: getenvDuration("VOLTGUARD_CHAT_INITIAL_DELAY", 500*time.Millisecond),
		ListInterval:     getenvDuration("VOLTGUARD_LIST_INTERVAL", 15*time.Second),
		MetricsAddr:      getenv("VOLTGUARD_METRICS_ADDR", ""),
		MQTT: MQTT{
			Broker:   getenv("MQTT_BROKER", ""),
			ClientID: getenv("MQTT_CLIENT_ID", "voltguard-cli"),
		},
		Logging: loadLogging("VOLTGUARD_"),
	}
	if err := overlay(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func LoadBackend(path string) (BackendConfig, error) {
	cfg := BackendConfig{
		Addr:      getenv("DEVBACKEND_ADDR", ":8000"),
		DBPath:    getenv("DEVBACKEND_DB_PATH", "./data/devbackend.db"),
		JWTSecret: getenv("DEVBACKEND_JWT_SECRET", "dev-secret"),
		TokenTTL:  getenvDuration("DEVBACKEND_TOKEN_TTL", 24*time.Hour),
		MQTT: MQTT{
			Broker:   getenv("MQTT_BROKER", ""),
			ClientID: getenv("MQTT_CLIENT_ID", "voltguard-devbackend"),
		},
		Logging:        loadLogging("DEVBACKEND_"),
		BootstrapAdmin: getenvBool("DEVBACKEND_BOOTSTRAP_ADMIN", true),
		BootstrapEmail: getenv("DEVBACKEND_BOOTSTRAP_EMAIL", "admin@voltguard.local"),
		BootstrapPass:  getenv("DEVBACKEND_BOOTSTRAP_PASSWORD", "admin123"),
	}
	if err := overlay(path, &cfg); err != nil {
		return BackendConfig{}, err
	}
	return cfg, nil
}

func LoadNotifier(path string) (NotifierConfig, error) {
	cfg := NotifierConfig{
		Addr: getenv("NOTIFIER_ADDR", ":8081"),
		MQTT: MQTT{
			Broker:   getenv("MQTT_BROKER", "tcp://localhost:1883"),
			ClientID: getenv("MQTT_CLIENT_ID", "voltguard-notifier"),
		},
		EventBufferSize: getenvInt("EVENT_BUFFER_SIZE", 50),
		Logging:         loadLogging("NOTIFIER_"),
	}
	if err := overlay(path, &cfg); err != nil {
		return NotifierConfig{}, err
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = 50
	}
	return cfg, nil
}

// overlay decodes the YAML file at path over cfg. An empty path is a no-op; a missing file is an error.
func overlay(path string, cfg any) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config file %s not found", path)
		}
		return err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func getenvBool(k string, def bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(k)); err == nil {
		return v
	}
	return def
}

func getenvDuration(k string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(k)); err == nil {
		return v
	}
	return def
}
