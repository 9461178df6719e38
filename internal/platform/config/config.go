package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Facebook  FacebookConfig  `mapstructure:"facebook"`
	Forwarder ForwarderConfig `mapstructure:"forwarder"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Domains   DomainsConfig   `mapstructure:"domains"`
	Workers   WorkersConfig   `mapstructure:"workers"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver         string `mapstructure:"driver"`
	URL            string `mapstructure:"url"`
	MaxConnections int    `mapstructure:"max_connections"`
	AutoMigrate    bool   `mapstructure:"auto_migrate"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	StateTokenTTL  time.Duration `mapstructure:"state_token_ttl"`
	Issuer         string        `mapstructure:"issuer"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	MaxAge         int      `mapstructure:"max_age"`
}

type RateLimitConfig struct {
	AuthPerMinute int `mapstructure:"auth_per_minute"`
	TestPerMinute int `mapstructure:"test_per_minute"`
}

type FacebookConfig struct {
	AppID         string `mapstructure:"app_id"`
	AppSecret     string `mapstructure:"app_secret"`
	VerifyToken   string `mapstructure:"verify_token"`
	RedirectURI   string `mapstructure:"redirect_uri"`
	GraphVersion  string `mapstructure:"graph_version"`
	GraphBaseURL  string `mapstructure:"graph_base_url"`
	DialogBaseURL string `mapstructure:"dialog_base_url"`
	// AllowUnsigned must be set explicitly to accept webhook deliveries
	// without an app secret.
	AllowUnsigned bool     `mapstructure:"allow_unsigned"`
	Objects       []string `mapstructure:"objects"`
	Scopes        []string `mapstructure:"scopes"`
}

type ForwarderConfig struct {
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	MaxTimeout     time.Duration `mapstructure:"max_timeout"`
	MaxInFlight    int           `mapstructure:"max_in_flight"`
	UserAgent      string        `mapstructure:"user_agent"`
	TargetCacheTTL time.Duration `mapstructure:"target_cache_ttl"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

type DomainsConfig struct {
	FrontendURL string `mapstructure:"frontend_url"`

	// PublicURL is the externally reachable base of this server. Empty means
	// derive it from the incoming request.
	PublicURL    string `mapstructure:"public_url"`
	ContactEmail string `mapstructure:"contact_email"`
}

type WorkersConfig struct {
	// Embedded runs the maintenance tasks inside the server process.
	Embedded           bool          `mapstructure:"embedded"`
	AuditRetention     time.Duration `mapstructure:"audit_retention"`
	AuditPruneInterval time.Duration `mapstructure:"audit_prune_interval"`
	TokenSweepInterval time.Duration `mapstructure:"token_sweep_interval"`
}

// envAliases maps config keys to the environment variable names used by
// existing deployments.
var envAliases = map[string][]string{
	"server.port":           {"PORT"},
	"database.driver":       {"DB_DRIVER"},
	"database.url":          {"DATABASE_URL"},
	"jwt.secret":            {"JWT_SECRET"},
	"facebook.app_id":       {"FB_APP_ID"},
	"facebook.app_secret":   {"FB_APP_SECRET"},
	"facebook.verify_token": {"FB_VERIFY_TOKEN"},
	"facebook.redirect_uri": {"FB_REDIRECT_URI"},
	"domains.frontend_url":  {"FRONTEND_URL"},
	"logging.level":         {"LOG_LEVEL"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "file:data/trfbwebhook.db")
	v.SetDefault("database.max_connections", 20)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", 7*24*time.Hour)
	v.SetDefault("jwt.state_token_ttl", 10*time.Minute)
	v.SetDefault("jwt.issuer", "trfbwebhook")

	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("cors.allowed_methods", []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"})
	v.SetDefault("cors.allowed_headers", []string{"Authorization", "Content-Type"})
	v.SetDefault("cors.max_age", 600)

	v.SetDefault("rate_limit.auth_per_minute", 30)
	v.SetDefault("rate_limit.test_per_minute", 20)

	v.SetDefault("facebook.app_id", "")
	v.SetDefault("facebook.app_secret", "")
	v.SetDefault("facebook.verify_token", "")
	v.SetDefault("facebook.allow_unsigned", false)
	v.SetDefault("facebook.redirect_uri", "http://localhost:3001/api/facebook/callback")
	v.SetDefault("facebook.graph_version", "v18.0")
	v.SetDefault("facebook.graph_base_url", "https://graph.facebook.com")
	v.SetDefault("facebook.dialog_base_url", "https://www.facebook.com")
	v.SetDefault("facebook.objects", []string{"page"})
	v.SetDefault("facebook.scopes", []string{"pages_show_list", "pages_messaging", "pages_manage_metadata"})

	v.SetDefault("forwarder.default_timeout", 30*time.Second)
	v.SetDefault("forwarder.max_timeout", 60*time.Second)
	v.SetDefault("forwarder.max_in_flight", 64)
	v.SetDefault("forwarder.user_agent", "TRFBWebhook/1.0")
	v.SetDefault("forwarder.target_cache_ttl", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file_path", "")

	v.SetDefault("domains.frontend_url", "http://localhost:3000")
	v.SetDefault("domains.public_url", "")
	v.SetDefault("domains.contact_email", "")

	v.SetDefault("workers.embedded", true)
	v.SetDefault("workers.audit_retention", 90*24*time.Hour)
	v.SetDefault("workers.audit_prune_interval", time.Hour)
	v.SetDefault("workers.token_sweep_interval", time.Hour)
}

// Load reads the YAML file at path (optional: a missing file falls back to
// defaults and environment) and returns the resolved configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, names := range envAliases {
		if err := v.BindEnv(append([]string{key, strings.ToUpper(strings.ReplaceAll(key, ".", "_"))}, names...)...); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return nil, fmt.Errorf("read config %s: %w", path, err)
				}
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &config, nil
}

// Validate reports configuration that would make the server unsafe or unable
// to start.
func (c *Config) Validate() error {
	var errs []error

	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Facebook.AppSecret == "" && !c.Facebook.AllowUnsigned {
		errs = append(errs, errors.New("facebook.app_secret is required unless facebook.allow_unsigned is set"))
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}
	if c.Forwarder.DefaultTimeout <= 0 {
		errs = append(errs, errors.New("forwarder.default_timeout must be positive"))
	}
	if c.Forwarder.MaxTimeout < c.Forwarder.DefaultTimeout {
		errs = append(errs, errors.New("forwarder.max_timeout must be >= forwarder.default_timeout"))
	}
	if c.Forwarder.MaxInFlight < 0 {
		errs = append(errs, errors.New("forwarder.max_in_flight must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
