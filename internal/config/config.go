// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	BackendPostgres = "postgres"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"

	IdentityCognito = "cognito"
	IdentityNone    = "none"
)

type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	Port            int           `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	LogLevel        string        `envconfig:"LOG_LEVEL" default:"info"`

	StoreBackend string `envconfig:"STORE_BACKEND" default:"memory"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	DBMaxConns   int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	TableName    string `envconfig:"TABLE_NAME" default:"guild-access"`
	AWSRegion    string `envconfig:"AWS_REGION" default:"us-east-1"`

	IdentityProvider  string `envconfig:"IDENTITY_PROVIDER" default:"none"`
	CognitoUserPoolID string `envconfig:"COGNITO_USER_POOL_ID"`

	AuthMode      string `envconfig:"AUTH_MODE" default:"none"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	JWTCookieName string `envconfig:"JWT_COOKIE_NAME" default:"access_token"`

	XRayEnabled bool `envconfig:"XRAY_ENABLED" default:"false"`

	// seeds a global super admin profile into the memory backend
	BootstrapSuperAdminID string `envconfig:"BOOTSTRAP_SUPER_ADMIN_ID"`
}

// Load reads the environment and validates backend-specific requirements.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_BACKEND=postgres"))
		}
	case BackendDynamoDB:
		if c.TableName == "" {
			errs = append(errs, errors.New("TABLE_NAME is required when STORE_BACKEND=dynamodb"))
		}
	case BackendMemory:
		if c.IsProduction() {
			errs = append(errs, errors.New("STORE_BACKEND=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}

	switch c.IdentityProvider {
	case IdentityCognito:
		if c.CognitoUserPoolID == "" {
			errs = append(errs, errors.New("COGNITO_USER_POOL_ID is required when IDENTITY_PROVIDER=cognito"))
		}
	case IdentityNone:
	default:
		errs = append(errs, fmt.Errorf("unknown IDENTITY_PROVIDER %q", c.IdentityProvider))
	}

	switch c.AuthMode {
	case "jwt":
		if c.JWTSecret == "" {
			errs = append(errs, errors.New("JWT_SECRET is required when AUTH_MODE=jwt"))
		}
	case "cognito":
		if c.CognitoUserPoolID == "" {
			errs = append(errs, errors.New("COGNITO_USER_POOL_ID is required when AUTH_MODE=cognito"))
		}
	case "none":
		if c.IsProduction() {
			errs = append(errs, errors.New("AUTH_MODE=none is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode))
	}

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid PORT %d", c.Port))
	}
	return errors.Join(errs...)
}

func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
