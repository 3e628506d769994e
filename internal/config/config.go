package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "HOSPITAL"

// Config is the process-wide configuration, loaded once at start-up.
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	GRPC      GRPCConfig      `mapstructure:"grpc"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Auth      AuthConfig      `mapstructure:"auth"`
	OAuth     OAuthConfig     `mapstructure:"oauth"`
	Log       LogConfig       `mapstructure:"log"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type HTTPConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes" validate:"gt=0"`
	CORSOrigins  []string      `mapstructure:"cors_origins"`
	// TrustedProxies are the addresses or CIDR ranges whose X-Forwarded-For
	// header is believed. Empty means the peer address is always used.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// GRPCConfig controls the side-car health endpoint. An empty Addr disables it.
type GRPCConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig points at PostgreSQL. With an empty DSN the API runs on the
// in-memory store.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"gte=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type AuthConfig struct {
	// JWTSecret signs session tokens with HS256 and needs at least 32 bytes.
	JWTSecret string        `mapstructure:"jwt_secret" validate:"required,min=32"`
	Issuer    string        `mapstructure:"issuer" validate:"required"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
}

type OAuthConfig struct {
	// RedirectBaseURL is the externally visible origin used to build callback URLs.
	RedirectBaseURL string                   `mapstructure:"redirect_base_url"`
	Providers       map[string]OAuthProvider `mapstructure:"providers" validate:"dive"`
}

type OAuthProvider struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret" validate:"required_with=ClientID"`
	Scopes       []string `mapstructure:"scopes"`
}

// Enabled reports whether the provider has client credentials.
func (p OAuthProvider) Enabled() bool {
	return strings.TrimSpace(p.ClientID) != ""
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
}

type RateLimitConfig struct {
	Burst     int `mapstructure:"burst" validate:"gte=1"`
	PerSecond int `mapstructure:"per_second" validate:"gte=1"`
}

// Load reads configuration from an optional YAML file, an optional .env file
// and HOSPITAL_* environment variables, in increasing order of precedence.
func Load(path string, envFiles ...string) (Config, error) {
	if err := loadDotEnv(envFiles...); err != nil {
		return Config{}, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.max_body_bytes", 1<<20)
	v.SetDefault("http.cors_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.trusted_proxies", []string{})

	v.SetDefault("grpc.addr", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "hospital")
	v.SetDefault("auth.token_ttl", 10*time.Minute)

	v.SetDefault("oauth.redirect_base_url", "http://localhost:8080")
	for _, name := range []string{"google", "github", "facebook"} {
		v.SetDefault("oauth.providers."+name+".client_id", "")
		v.SetDefault("oauth.providers."+name+".client_secret", "")
	}

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.per_second", 10)
}

func loadDotEnv(files ...string) error {
	for _, f := range files {
		if f == "" {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Getenv is a small helper for binaries that accept a flag with an env fallback.
func Getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + "_" + key)); v != "" {
		return v
	}
	return def
}
