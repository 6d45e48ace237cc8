package minio

import (
	"errors"
	"time"

	"github.com/StricklySoft/dialogue-auth/pkg/auth"
)

// maxStatementTruncateLen caps operation descriptions recorded in spans so
// object keys do not flood telemetry.
const maxStatementTruncateLen = 100

const (
	// DefaultEndpoint is the in-cluster MinIO Service address.
	DefaultEndpoint = "minio.databases.svc.cluster.local:9000"

	// DefaultRegion is the S3 region presented to MinIO.
	DefaultRegion = "us-east-1"

	// DefaultHealthTimeout bounds a health probe when the caller's context
	// has no deadline.
	DefaultHealthTimeout = 5 * time.Second

	// DefaultMaxObjectSize bounds [Client.ReadObject]. Credential files are
	// small; anything larger is treated as an error.
	DefaultMaxObjectSize int64 = 1 << 20

	healthProbeBucket = "health-check-probe"
)

// Config holds the MinIO connection settings. Field env tags are relative;
// embed Config in a larger struct under a prefix such as `env:"MINIO"`.
type Config struct {
	// Endpoint is host:port without a scheme.
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint" env:"ENDPOINT"`

	AccessKey string      `json:"access_key,omitempty" yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey auth.Secret `json:"-" yaml:"secret_key" env:"SECRET_KEY"`

	Region string `json:"region,omitempty" yaml:"region" env:"REGION"`
	UseSSL bool   `json:"use_ssl,omitempty" yaml:"use_ssl" env:"USE_SSL"`

	// HealthBucket is probed with BucketExists by [Client.Health]. It does
	// not need to exist.
	HealthBucket string `json:"health_bucket,omitempty" yaml:"health_bucket" env:"HEALTH_BUCKET"`

	// MaxObjectSize limits the bytes [Client.ReadObject] will buffer.
	MaxObjectSize int64 `json:"max_object_size,omitempty" yaml:"max_object_size" env:"MAX_OBJECT_SIZE"`
}

// DefaultConfig returns a Config for the in-cluster deployment.
func DefaultConfig() *Config {
	return &Config{
		Endpoint:      DefaultEndpoint,
		Region:        DefaultRegion,
		MaxObjectSize: DefaultMaxObjectSize,
	}
}

// Enabled reports whether an endpoint has been configured.
func (c *Config) Enabled() bool { return c.Endpoint != "" }

// Validate checks required fields and fills defaults for Region and
// MaxObjectSize.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("minio: config endpoint must not be empty")
	}
	if c.AccessKey == "" {
		return errors.New("minio: config access_key must not be empty")
	}
	if c.MaxObjectSize < 0 {
		return errors.New("minio: config max_object_size must not be negative")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.MaxObjectSize == 0 {
		c.MaxObjectSize = DefaultMaxObjectSize
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementTruncateLen {
		return s
	}
	return string(runes[:maxStatementTruncateLen]) + "..."
}
