package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	Server        struct {
		Addr         string        `mapstructure:"addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`
	DB struct {
		Driver   string `mapstructure:"driver"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Catalog struct {
		APIKey string `mapstructure:"api_key"`
		Model  struct {
			URL string `mapstructure:"url"`
		} `mapstructure:"model"`
		Data struct {
			URL  string `mapstructure:"url"`
			Kind string `mapstructure:"kind"`
		} `mapstructure:"data"`
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"catalog"`
	Execution struct {
		URL               string        `mapstructure:"url"`
		PollInterval      time.Duration `mapstructure:"poll_interval"`
		MaxRetries        uint64        `mapstructure:"max_retries"`
		SubmitBatch       int           `mapstructure:"submit_batch"`
		SubmitConcurrency int           `mapstructure:"submit_concurrency"`
	} `mapstructure:"execution"`
	Ensemble struct {
		MaxPerModel int `mapstructure:"max_per_model"`
	} `mapstructure:"ensemble"`
	Visualization struct {
		URL string `mapstructure:"url"`
	} `mapstructure:"visualization"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// DSN returns the libpq connection string for the database settings.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("dev_mode_bypass", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.user", "mint")
	v.SetDefault("db.password", "")
	v.SetDefault("db.name", "mint")
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("catalog.api_key", "")
	v.SetDefault("catalog.model.url", "")
	v.SetDefault("catalog.data.url", "")
	v.SetDefault("catalog.data.kind", "default")
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("execution.url", "")
	v.SetDefault("execution.poll_interval", 10*time.Second)
	v.SetDefault("execution.max_retries", 3)
	v.SetDefault("execution.submit_batch", 50)
	v.SetDefault("execution.submit_concurrency", 4)
	v.SetDefault("ensemble.max_per_model", 5000)
	v.SetDefault("visualization.url", "")
	v.SetDefault("auth.okta_domain", "")
	v.SetDefault("auth.client_id", "")
	v.SetDefault("auth.client_secret", "")
	v.SetDefault("auth.redirect_url", "")
	v.SetDefault("auth.swagger_client_id", "")
	v.SetDefault("tls.enable", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")
	v.SetDefault("tls.hostnames", []string{})
}

// Loader reads configuration from config.yaml, an optional .env file and MINT_* variables.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader. configFile overrides the config.yaml search path when set.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("MINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

// Load reads everything into a Config. A missing config file is not an error.
func (l *Loader) Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var config Config
	if err := l.v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)
	config.Catalog.Data.Kind = strings.ToLower(strings.TrimSpace(config.Catalog.Data.Kind))
	config.DB.Driver = strings.ToLower(strings.TrimSpace(config.DB.Driver))

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ConfigFileUsed returns the path of the config file that was read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with a freshly decoded Config whenever the config file changes.
func (l *Loader) Watch(onChange func(*Config, error)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var config Config
		if err := l.v.Unmarshal(&config); err != nil {
			onChange(nil, err)
			return
		}
		onChange(&config, nil)
	})
	l.v.WatchConfig()
}

// LoadConfig loads the configuration using the default search path.
func LoadConfig(envFile string) (*Config, error) {
	return NewLoader("").Load(envFile)
}

func (c *Config) validate() error {
	switch c.Catalog.Data.Kind {
	case "default", "ckan":
	default:
		return fmt.Errorf("catalog.data.kind must be \"default\" or \"ckan\", got %q", c.Catalog.Data.Kind)
	}
	switch c.DB.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("db.driver must be \"postgres\" or \"memory\", got %q", c.DB.Driver)
	}
	if c.Ensemble.MaxPerModel <= 0 {
		return errors.New("ensemble.max_per_model must be positive")
	}
	if c.Execution.SubmitBatch <= 0 || c.Execution.SubmitConcurrency <= 0 {
		return errors.New("execution.submit_batch and execution.submit_concurrency must be positive")
	}
	return nil
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact. This allows users to paste the full URL from the Okta admin
// console without worrying about double prefixes.
func normalizeOktaIssuer(input string) string {
	return strings.TrimRight(strings.TrimSpace(input), "/")
}
