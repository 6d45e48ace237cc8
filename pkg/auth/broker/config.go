package broker

import (
	"time"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
	"github.com/StricklySoft/dialogue-auth/pkg/auth/federated"
	"github.com/StricklySoft/dialogue-auth/pkg/auth/localtoken"
	"github.com/StricklySoft/dialogue-auth/pkg/clients/minio"
	"github.com/StricklySoft/dialogue-auth/pkg/clients/redis"
	sserr "github.com/StricklySoft/dialogue-auth/pkg/errors"
)

// Mode selects the trust model of a deployment.
type Mode string

const (
	// ModeLocal accepts only tokens this service issued to service users.
	ModeLocal Mode = "local"

	// ModeFederated accepts only identity provider tokens.
	ModeFederated Mode = "federated"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeLocal || m == ModeFederated }

// DefaultMaxTokenBytes bounds the bearer tokens Validate will parse.
const DefaultMaxTokenBytes = 8192

// Config is everything the broker consumes. Load it with pkg/config:
//
//	cfg := config.MustLoad[broker.Config](config.New().WithEnvPrefix("DIALOGUE"))
//
// which reads e.g. DIALOGUE_AUTH_MODE, DIALOGUE_LOCAL_SIGNING_SECRET and
// DIALOGUE_FEDERATED_BASE_URL.
type Config struct {
	Mode Mode `json:"mode" yaml:"mode" env:"AUTH_MODE" envDefault:"local"`

	// MaxTokenBytes rejects longer bearer tokens before parsing.
	MaxTokenBytes int `json:"max_token_bytes" yaml:"max_token_bytes" env:"MAX_TOKEN_BYTES" envDefault:"8192"`

	Local     LocalConfig     `json:"local" yaml:"local" env:"LOCAL"`
	Federated FederatedConfig `json:"federated" yaml:"federated" env:"FEDERATED"`

	// MinIO is used when Local.ServiceUsers is an s3:// location.
	MinIO minio.Config `json:"minio" yaml:"minio" env:"MINIO"`

	// Redis, when configured, shares the last fetched key set between
	// replicas in federated mode.
	Redis redis.Config `json:"redis" yaml:"redis" env:"REDIS"`
}

// LocalConfig configures service user login and local tokens.
type LocalConfig struct {
	// SigningSecret is the base64 HMAC key shared by issuer and validator.
	SigningSecret auth.Secret `json:"-" yaml:"signing_secret" env:"SIGNING_SECRET"`

	TokenTTL time.Duration `json:"token_ttl" yaml:"token_ttl" env:"TOKEN_TTL" envDefault:"24h"`
	Issuer   string        `json:"issuer" yaml:"issuer" env:"ISSUER" envDefault:"dialogue-auth"`

	// ServiceUsers is a file path or an s3://bucket/key location.
	ServiceUsers string `json:"service_users" yaml:"service_users" env:"SERVICE_USERS" envDefault:"service-users.xml"`
}

// FederatedConfig configures identity provider token validation.
type FederatedConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" env:"BASE_URL"`
	Realm   string `json:"realm" yaml:"realm" env:"REALM"`

	// Issuer defaults to {BaseURL}/realms/{Realm}.
	Issuer     string `json:"issuer" yaml:"issuer" env:"ISSUER"`
	Audience   string `json:"audience" yaml:"audience" env:"AUDIENCE"`
	ClientID   string `json:"client_id" yaml:"client_id" env:"CLIENT_ID"`
	RolesClaim string `json:"roles_claim" yaml:"roles_claim" env:"ROLES_CLAIM" envDefault:"realm_access.roles"`

	KeyTTL          time.Duration `json:"key_ttl" yaml:"key_ttl" env:"KEY_TTL" envDefault:"10m"`
	FetchTimeout    time.Duration `json:"fetch_timeout" yaml:"fetch_timeout" env:"FETCH_TIMEOUT" envDefault:"5s"`
	MaxAttempts     int           `json:"max_attempts" yaml:"max_attempts" env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff  time.Duration `json:"initial_backoff" yaml:"initial_backoff" env:"INITIAL_BACKOFF" envDefault:"200ms"`
	MaxBackoff      time.Duration `json:"max_backoff" yaml:"max_backoff" env:"MAX_BACKOFF" envDefault:"2s"`
	RefreshCooldown time.Duration `json:"refresh_cooldown" yaml:"refresh_cooldown" env:"REFRESH_COOLDOWN"`
	ErrorBackoff    time.Duration `json:"error_backoff" yaml:"error_backoff" env:"ERROR_BACKOFF" envDefault:"5s"`
	MaxErrorBackoff time.Duration `json:"max_error_backoff" yaml:"max_error_backoff" env:"MAX_ERROR_BACKOFF" envDefault:"5m"`

	SnapshotKey string        `json:"snapshot_key" yaml:"snapshot_key" env:"SNAPSHOT_KEY" envDefault:"dialogue-auth:jwks"`
	SnapshotTTL time.Duration `json:"snapshot_ttl" yaml:"snapshot_ttl" env:"SNAPSHOT_TTL" envDefault:"24h"`
}

// Validate checks the settings of the selected mode only.
func (c *Config) Validate() error {
	if !c.Mode.Valid() {
		return sserr.Newf(sserr.CodeValidation, "broker: unknown auth mode %q (want %q or %q)", c.Mode, ModeLocal, ModeFederated)
	}
	if c.MaxTokenBytes <= 0 {
		c.MaxTokenBytes = DefaultMaxTokenBytes
	}

	switch c.Mode {
	case ModeLocal:
		if _, err := c.localTokenConfig().Key(); err != nil {
			return err
		}
		if c.Local.ServiceUsers == "" {
			return sserr.New(sserr.CodeValidationRequired, "broker: local.service_users is required")
		}
		if c.MinIO.Enabled() {
			if err := c.MinIO.Validate(); err != nil {
				return sserr.Wrap(err, sserr.CodeValidation, "broker: invalid minio configuration")
			}
		}
	case ModeFederated:
		if _, err := federated.CertsURL(c.Federated.BaseURL, c.Federated.Realm); err != nil {
			return err
		}
		if c.Federated.MaxAttempts < 0 {
			return sserr.New(sserr.CodeValidation, "broker: federated.max_attempts must not be negative")
		}
		if c.Redis.Enabled() {
			if err := c.Redis.Validate(); err != nil {
				return sserr.Wrap(err, sserr.CodeValidation, "broker: invalid redis configuration")
			}
		}
	}
	return nil
}

func (c *Config) localTokenConfig() localtoken.Config {
	return localtoken.Config{
		Secret: c.Local.SigningSecret,
		TTL:    c.Local.TokenTTL,
		Issuer: c.Local.Issuer,
	}
}

func (c *Config) issuer() string {
	if c.Federated.Issuer != "" {
		return c.Federated.Issuer
	}
	return federated.RealmIssuer(c.Federated.BaseURL, c.Federated.Realm)
}
