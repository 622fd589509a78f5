package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/voc-classifier/backend/internal/ingestion"
)

type Config struct {
	Server     ServerConfig
	Auth       AuthConfig
	Generation GenerationConfig
	TLS        TLSConfig
	CSV        CSVConfig
	Themes     ThemesConfig
	Cache      CacheConfig
	Redis      RedisConfig
	SQLite     SQLiteConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
	AllowOrigins         string
	Development          bool
}

// AuthConfig describes the client-credentials token endpoint.
type AuthConfig struct {
	TokenURL     string
	ClientSecret string
	TimeoutSec   int
}

type GenerationConfig struct {
	Endpoint           string
	Model              string
	ClientID           string
	UseCaseID          string
	TimeoutSec         int
	BreakerFailures    int
	BreakerCooldownSec int
}

// TLSConfig pins the certificate authority used for both outbound endpoints.
// An empty CABundle falls back to the system pool.
type TLSConfig struct {
	CABundle string
}

type CSVConfig struct {
	Encoding string
}

type ThemesConfig struct {
	Path string
}

type CacheConfig struct {
	Size   int
	TTLMin int
}

// RedisConfig enables the shared result cache when Host is set.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// SQLiteConfig enables the run audit store when Path is set.
type SQLiteConfig struct {
	Path string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/voc-classifier")

	v.SetEnvPrefix("VOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if _, err := ingestion.ParseEncoding(c.CSV.Encoding); err != nil {
		return fmt.Errorf("invalid csv config: %w", err)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.Cache.Size)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 180)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.maxRequestsPerMinute", 10)
	v.SetDefault("server.allowOrigins", "*")
	v.SetDefault("server.development", false)

	v.SetDefault("auth.tokenURL", "https://localhost/oauth/token")
	v.SetDefault("auth.clientSecret", "")
	v.SetDefault("auth.timeoutSec", 15)

	v.SetDefault("generation.endpoint", "https://localhost/v1/chat/completions")
	v.SetDefault("generation.model", "gemini_pro_gcp")
	v.SetDefault("generation.clientID", "")
	v.SetDefault("generation.useCaseID", "GENAI479_1BAAS")
	v.SetDefault("generation.timeoutSec", 120)
	v.SetDefault("generation.breakerFailures", 5)
	v.SetDefault("generation.breakerCooldownSec", 30)

	v.SetDefault("tls.caBundle", "certs/root.crt")

	v.SetDefault("csv.encoding", "iso-8859-1")

	v.SetDefault("themes.path", "themes_config.json")

	v.SetDefault("cache.size", 32)
	v.SetDefault("cache.ttlMin", 60)

	v.SetDefault("redis.host", "")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("sqlite.path", "./data/voc.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
