package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"db"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Firebase FirebaseConfig `mapstructure:"firebase"`
	Log      LogConfig      `mapstructure:"log"`
	Grouping GroupingConfig `mapstructure:"grouping"`
	Presence PresenceConfig `mapstructure:"presence"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Events   EventsConfig   `mapstructure:"events"`
	Admin    AdminConfig    `mapstructure:"admin"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Env             string        `mapstructure:"env"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// FirebaseConfig is optional; an empty credentials path disables Firebase ID tokens
type FirebaseConfig struct {
	CredentialsPath string `mapstructure:"credentials_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GroupingConfig holds the two windows of the grouping engine: Lookback bounds the
// candidate search, Window decides whether a found candidate is merged
type GroupingConfig struct {
	Window           time.Duration `mapstructure:"window"`
	Lookback         time.Duration `mapstructure:"lookback"`
	MaxMergeAttempts int           `mapstructure:"max_merge_attempts"`
}

type PresenceConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

const (
	FanoutLocal = "local"
	FanoutRedis = "redis"
)

type GatewayConfig struct {
	Fanout           string        `mapstructure:"fanout"`
	SendBuffer       int           `mapstructure:"send_buffer"`
	ActionsPerSecond float64       `mapstructure:"actions_per_second"`
	PongWait         time.Duration `mapstructure:"pong_wait"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
}

type EventsConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// AdminConfig lists the accounts allowed on administrative endpoints.
// An empty list closes them to everyone.
type AdminConfig struct {
	UserIDs []uint `mapstructure:"user_ids"`
}

// Load reads configuration with precedence env > config file > defaults.
// A .env file, if present, is loaded into the process environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("NOTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("db.postgres_dsn", "host=localhost port=5432 user=postgres dbname=socialmedia sslmode=disable")
	v.SetDefault("db.mongo_uri", "mongodb://localhost:27017")
	v.SetDefault("db.mongo_database", "socialmedia")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "72h")

	v.SetDefault("firebase.credentials_path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("grouping.window", "30m")
	v.SetDefault("grouping.lookback", "24h")
	v.SetDefault("grouping.max_merge_attempts", 3)

	v.SetDefault("presence.ttl", "1h")

	v.SetDefault("gateway.fanout", FanoutLocal)
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.actions_per_second", 5)
	v.SetDefault("gateway.pong_wait", "60s")
	v.SetDefault("gateway.ping_interval", "54s")

	v.SetDefault("events.workers", 4)
	v.SetDefault("events.queue_size", 1024)

	v.SetDefault("admin.user_ids", []uint{})
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	if len(c.Auth.JWTSecret) < 16 {
		return errors.New("config: auth.jwt_secret must be at least 16 characters")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Grouping.Window <= 0 || c.Grouping.Lookback <= 0 {
		return errors.New("config: grouping windows must be positive")
	}
	if c.Grouping.Window > c.Grouping.Lookback {
		return errors.New("config: grouping.window cannot exceed grouping.lookback")
	}
	if c.Grouping.MaxMergeAttempts < 1 {
		return errors.New("config: grouping.max_merge_attempts must be at least 1")
	}
	if c.Presence.TTL <= 0 {
		return errors.New("config: presence.ttl must be positive")
	}
	if c.Gateway.Fanout != FanoutLocal && c.Gateway.Fanout != FanoutRedis {
		return fmt.Errorf("config: unknown gateway.fanout %q", c.Gateway.Fanout)
	}
	if c.Gateway.PingInterval <= 0 || c.Gateway.PingInterval >= c.Gateway.PongWait {
		return errors.New("config: gateway.ping_interval must be positive and shorter than gateway.pong_wait")
	}
	if c.Gateway.PingInterval >= c.Presence.TTL {
		return errors.New("config: gateway.ping_interval must be shorter than presence.ttl")
	}
	if c.Events.Workers < 1 || c.Events.QueueSize < 1 {
		return errors.New("config: events.workers and events.queue_size must be positive")
	}
	for _, id := range c.Admin.UserIDs {
		if id == 0 {
			return errors.New("config: admin.user_ids cannot contain 0")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}
