package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "V2V"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Relay     RelayConfig     `mapstructure:"relay"`
	Detector  DetectorConfig  `mapstructure:"detector"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Retention RetentionConfig `mapstructure:"retention"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type RelayConfig struct {
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`
	SendTimeout      time.Duration `mapstructure:"send_timeout"`
	HistorySize      int           `mapstructure:"history_size"`
	MaxMessageBytes  int64         `mapstructure:"max_message_bytes"`
	AnnouncePresence bool          `mapstructure:"announce_presence"`
}

type DetectorConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	Confidence float64       `mapstructure:"confidence"`
	Overlap    float64       `mapstructure:"overlap"`
	Timeout    time.Duration `mapstructure:"timeout"`
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type RetentionConfig struct {
	ReportDays      int           `mapstructure:"report_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type MQTTConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Topic    string `mapstructure:"topic"`
}

type KafkaConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	BootstrapServers string `mapstructure:"bootstrap_servers"`
	Topic            string `mapstructure:"topic"`
	Acks             string `mapstructure:"acks"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("relay.ping_interval", 20*time.Second)
	v.SetDefault("relay.ping_timeout", 10*time.Second)
	v.SetDefault("relay.send_timeout", 5*time.Second)
	v.SetDefault("relay.history_size", 1000)
	v.SetDefault("relay.max_message_bytes", 64*1024)
	v.SetDefault("relay.announce_presence", false)

	v.SetDefault("detector.endpoint", "https://detect.roboflow.com/pothole-and-speed-breaker-detect/1")
	v.SetDefault("detector.api_key", "")
	v.SetDefault("detector.confidence", 0.4)
	v.SetDefault("detector.overlap", 0.3)
	v.SetDefault("detector.timeout", 30*time.Second)
	v.SetDefault("detector.cache_ttl", 5*time.Minute)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "v2v.db")

	v.SetDefault("retention.report_days", 30)
	v.SetDefault("retention.cleanup_interval", time.Hour)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "v2v-service")
	v.SetDefault("mqtt.topic", "v2v/alerts")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.bootstrap_servers", "localhost:9092")
	v.SetDefault("kafka.topic", "v2v-hazard-alerts")
	v.SetDefault("kafka.acks", "all")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Load reads configuration from an optional file, the environment and a .env
// file, in increasing order of precedence for the last two.
func Load(v *viper.Viper, path string) (*Config, error) {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/v2v-service")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Relay.PingInterval <= 0 {
		errs = append(errs, errors.New("relay.ping_interval must be positive"))
	}
	if c.Relay.PingTimeout <= 0 {
		errs = append(errs, errors.New("relay.ping_timeout must be positive"))
	}
	if c.Relay.SendTimeout <= 0 {
		errs = append(errs, errors.New("relay.send_timeout must be positive"))
	}
	if c.Relay.HistorySize < 0 {
		errs = append(errs, errors.New("relay.history_size cannot be negative"))
	}
	if c.Relay.MaxMessageBytes <= 0 {
		errs = append(errs, errors.New("relay.max_message_bytes must be positive"))
	}
	if c.Detector.Confidence < 0 || c.Detector.Confidence > 1 {
		errs = append(errs, errors.New("detector.confidence must be within [0,1]"))
	}
	if c.Detector.Overlap < 0 || c.Detector.Overlap > 1 {
		errs = append(errs, errors.New("detector.overlap must be within [0,1]"))
	}
	switch c.Database.Driver {
	case "postgres", "sqlite", "none":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not supported", c.Database.Driver))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.Kafka.Enabled && c.Kafka.BootstrapServers == "" {
		errs = append(errs, errors.New("kafka.bootstrap_servers is required when kafka is enabled"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
