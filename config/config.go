package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-errors"
	"github.com/homeharmony/go-users/bus"
	"github.com/homeharmony/go-users/provider/cognito"
	"github.com/homeharmony/go-users/repository"
	"github.com/joho/godotenv"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Config is the service configuration read from the environment.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8000"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// AppHomeURL is where users land after login and logout.
	AppHomeURL string `env:"APP_HOME_URL" envDefault:"/"`

	CookieSecure         bool   `env:"COOKIE_SECURE" envDefault:"true"`
	SessionSecret        string `env:"SESSION_SECRET"`
	SessionAutoProvision bool   `env:"SESSION_AUTO_PROVISION" envDefault:"true"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Cognito  Cognito
	Bus      Bus
	Database Database
}

// Cognito holds the user pool and hosted UI settings.
type Cognito struct {
	Region         string        `env:"AWS_REGION"`
	UserPoolID     string        `env:"COGNITO_USERPOOL_ID"`
	Domain         string        `env:"COGNITO_DOMAIN"`
	ClientID       string        `env:"COGNITO_APP_CLIENT_ID"`
	ClientSecret   string        `env:"COGNITO_APP_CLIENT_SECRET"`
	RedirectURI    string        `env:"REDIRECT_URI"`
	LogoutURI      string        `env:"LOGOUT_REDIRECT_URI"`
	JWKSURL        string        `env:"COGNITO_JWKS_URL"`
	JWKSCacheTTL   time.Duration `env:"JWKS_CACHE_TTL" envDefault:"5m"`
	RequestTimeout time.Duration `env:"COGNITO_HTTP_TIMEOUT" envDefault:"10s"`
}

// Bus selects the message bus driver.
type Bus struct {
	Driver  string   `env:"BUS_DRIVER" envDefault:"kafka"`
	Brokers []string `env:"KAFKA_BOOTSTRAP_SERVERS" envSeparator:"," envDefault:"localhost:9092"`
	GroupID string   `env:"KAFKA_GROUP_ID" envDefault:"user-service"`
}

// Database addresses the user store.
type Database struct {
	Driver   string `env:"DB_DRIVER" envDefault:"postgres"`
	DSN      string `env:"DB_DSN"`
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     string `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER"`
	Password string `env:"DB_PASSWORD"`
	Name     string `env:"DB_NAME"`
	Debug    bool   `env:"DB_DEBUG"`
}

// Load reads ".env.{environment}" and ".env" when present, without
// overriding variables already set, then parses the environment.
func Load(environment string) (*Config, error) {
	environment = strings.TrimSpace(environment)
	if environment == "" {
		environment = os.Getenv("ENVIRONMENT")
	}

	files := []string{".env"}
	if environment != "" {
		files = append([]string{".env." + environment}, files...)
	}

	if err := loadDotEnv(files...); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if environment != "" && os.Getenv("ENVIRONMENT") == "" {
		cfg.Environment = environment
	}

	return cfg, nil
}

func loadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("stat %s: %w", file, err)
		}
		if err := godotenv.Load(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, EnvProduction)
}

// Validate reports every missing setting the service can not start without.
func (c *Config) Validate() error {
	var missing []string

	required := []struct {
		name  string
		value string
	}{
		{"COGNITO_DOMAIN", c.Cognito.Domain},
		{"COGNITO_APP_CLIENT_ID", c.Cognito.ClientID},
		{"REDIRECT_URI", c.Cognito.RedirectURI},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}

	if c.Cognito.JWKSURL == "" {
		if c.Cognito.Region == "" {
			missing = append(missing, "AWS_REGION")
		}
		if c.Cognito.UserPoolID == "" {
			missing = append(missing, "COGNITO_USERPOOL_ID")
		}
	}

	if c.IsProduction() && strings.TrimSpace(c.SessionSecret) == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	switch strings.ToLower(c.Bus.Driver) {
	case "kafka":
		if len(c.Bus.Brokers) == 0 {
			missing = append(missing, "KAFKA_BOOTSTRAP_SERVERS")
		}
	case "memory", "none":
	default:
		return errors.New("unsupported bus driver", errors.CategoryValidation).
			WithCode(errors.CodeBadRequest).
			WithMetadata(map[string]any{"BUS_DRIVER": c.Bus.Driver})
	}

	if len(missing) > 0 {
		return errors.New("missing required configuration: "+strings.Join(missing, ", "), errors.CategoryValidation).
			WithCode(errors.CodeBadRequest).
			WithMetadata(map[string]any{"missing": missing})
	}

	return nil
}

// CognitoProvider returns the provider settings.
func (c *Config) CognitoProvider() cognito.Config {
	return cognito.Config{
		Region:       c.Cognito.Region,
		UserPoolID:   c.Cognito.UserPoolID,
		ClientID:     c.Cognito.ClientID,
		ClientSecret: c.Cognito.ClientSecret,
		Domain:       c.Cognito.Domain,
		RedirectURI:  c.Cognito.RedirectURI,
		LogoutURI:    c.Cognito.LogoutURI,
		JWKSURL:      c.Cognito.JWKSURL,
		CacheTTL:     c.Cognito.JWKSCacheTTL,
		HTTPClient:   &http.Client{Timeout: c.Cognito.RequestTimeout},
	}
}

// Repository returns the database settings.
func (c *Config) Repository() repository.Config {
	return repository.Config{
		Driver:   c.Database.Driver,
		DSN:      c.Database.DSN,
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		User:     c.Database.User,
		Password: c.Database.Password,
		Name:     c.Database.Name,
		Debug:    c.Database.Debug,
	}
}

// Kafka returns the Kafka driver settings.
func (c *Config) Kafka() bus.KafkaConfig {
	return bus.KafkaConfig{
		Brokers: c.Bus.Brokers,
		GroupID: c.Bus.GroupID,
	}
}
