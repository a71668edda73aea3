package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config captures file and environment driven configuration for the fablab
// backend.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Messaging MessagingConfig `yaml:"messaging"`
	Liveness  LivenessConfig  `yaml:"liveness"`
	Cards     CardCacheConfig `yaml:"cards"`
	Log       LogConfig       `yaml:"log"`
}

type HTTPConfig struct {
	Port int `yaml:"port"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
	// StoreTimeout bounds every individual store call.
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// MessagingConfig is disabled when URL is empty.
type MessagingConfig struct {
	URL            string `yaml:"url"`
	Exchange       string `yaml:"exchange"`
	MachineTopic   string `yaml:"machine_topic"`
	ReplyTopic     string `yaml:"reply_topic"`
	ConnectMessage string `yaml:"connect_message"`
	AliveMessage   string `yaml:"alive_message"`
}

func (m MessagingConfig) Enabled() bool {
	return strings.TrimSpace(m.URL) != ""
}

// LivenessConfig keeps liveness state in memory unless RedisAddr is set.
type LivenessConfig struct {
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

type CardCacheConfig struct {
	Size int           `yaml:"size"`
	TTL  time.Duration `yaml:"ttl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Path:         "fablab.db",
			BusyTimeout:  5 * time.Second,
			StoreTimeout: 5 * time.Second,
		},
		Messaging: MessagingConfig{
			Exchange:       "amq.topic",
			MachineTopic:   "fablab/machines/+",
			ReplyTopic:     "fablab/authorization",
			ConnectMessage: "connect",
			AliveMessage:   "alive",
		},
		Liveness: LivenessConfig{StaleAfter: time.Minute},
		Cards:    CardCacheConfig{Size: 256, TTL: 30 * time.Second},
		Log:      LogConfig{Level: "info", Format: "json"},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, the optional dotenv file at envFile and finally FABLAB_* environment
// variables. Variables from envFile never override ones already set in the
// process environment.
//
// Every missing or invalid value is reported in a single error.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	missing := make([]string, 0, 1)
	invalid := make([]string, 0, 2)
	env := envReader{invalid: &invalid}

	env.port("FABLAB_HTTP_PORT", &cfg.HTTP.Port)
	env.str("FABLAB_SQLITE_PATH", &cfg.Database.Path)
	env.duration("FABLAB_SQLITE_BUSY_TIMEOUT", &cfg.Database.BusyTimeout, true)
	env.duration("FABLAB_STORE_TIMEOUT", &cfg.Database.StoreTimeout, false)
	env.str("FABLAB_AMQP_URL", &cfg.Messaging.URL)
	env.str("FABLAB_AMQP_EXCHANGE", &cfg.Messaging.Exchange)
	env.str("FABLAB_MACHINE_TOPIC", &cfg.Messaging.MachineTopic)
	env.str("FABLAB_REPLY_TOPIC", &cfg.Messaging.ReplyTopic)
	env.str("FABLAB_CONNECT_MESSAGE", &cfg.Messaging.ConnectMessage)
	env.str("FABLAB_ALIVE_MESSAGE", &cfg.Messaging.AliveMessage)
	env.str("FABLAB_REDIS_ADDR", &cfg.Liveness.RedisAddr)
	env.str("FABLAB_REDIS_PASSWORD", &cfg.Liveness.RedisPassword)
	env.nonNegativeInt("FABLAB_REDIS_DB", &cfg.Liveness.RedisDB)
	env.duration("FABLAB_LIVENESS_STALE_AFTER", &cfg.Liveness.StaleAfter, false)
	env.nonNegativeInt("FABLAB_CARD_CACHE_SIZE", &cfg.Cards.Size)
	env.duration("FABLAB_CARD_CACHE_TTL", &cfg.Cards.TTL, false)
	env.str("FABLAB_LOG_LEVEL", &cfg.Log.Level)
	env.str("FABLAB_LOG_FORMAT", &cfg.Log.Format)

	if strings.TrimSpace(cfg.Database.Path) == "" {
		missing = append(missing, "FABLAB_SQLITE_PATH")
	}
	if cfg.Messaging.Enabled() {
		if strings.TrimSpace(cfg.Messaging.MachineTopic) == "" {
			missing = append(missing, "FABLAB_MACHINE_TOPIC")
		} else if !strings.HasSuffix(cfg.Messaging.MachineTopic, "/+") {
			invalid = append(invalid, "FABLAB_MACHINE_TOPIC")
		}
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		invalid = appendOnce(invalid, "FABLAB_HTTP_PORT")
	}
	if _, err := parseLevel(cfg.Log.Level); err != nil {
		invalid = appendOnce(invalid, "FABLAB_LOG_LEVEL")
	}
	if format := strings.ToLower(cfg.Log.Format); format != "json" && format != "text" {
		invalid = appendOnce(invalid, "FABLAB_LOG_FORMAT")
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("required configuration values are missing: %s", strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("configuration values are invalid: %s", strings.Join(invalid, ", "))
	}

	return cfg, nil
}

// readFile decodes the YAML file at path into cfg. Unknown keys are rejected.
func readFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

type envReader struct {
	invalid *[]string
}

func (e envReader) lookup(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	return value, value != ""
}

func (e envReader) str(key string, dst *string) {
	if value, ok := e.lookup(key); ok {
		*dst = value
	}
}

func (e envReader) port(key string, dst *int) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	port, err := strconv.Atoi(value)
	if err != nil || port <= 0 || port > 65535 {
		*e.invalid = append(*e.invalid, key)
		return
	}
	*dst = port
}

func (e envReader) nonNegativeInt(key string, dst *int) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		*e.invalid = append(*e.invalid, key)
		return
	}
	*dst = n
}

func (e envReader) duration(key string, dst *time.Duration, allowZero bool) {
	value, ok := e.lookup(key)
	if !ok {
		return
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		*e.invalid = append(*e.invalid, key)
		return
	}
	*dst = d
}

func appendOnce(list []string, key string) []string {
	for _, existing := range list {
		if existing == key {
			return list
		}
	}
	return append(list, key)
}
