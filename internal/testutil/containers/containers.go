//go:build integration

// Package containers starts throwaway Redis and MinIO containers for
// integration tests. It carries the "integration" build tag so Docker
// dependencies stay out of unit test builds:
//
//	//go:build integration
//
//	result, err := containers.StartRedis(ctx)
//	if err != nil { ... }
//	defer result.Container.Terminate(ctx)
package containers

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	tcminio "github.com/testcontainers/testcontainers-go/modules/minio"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

// ===========================================================================
// Redis
// ===========================================================================

// DefaultRedisImage backs the shared key-set store tests.
const DefaultRedisImage = "docker.io/redis:7-alpine"

// RedisResult holds a started Redis container. ConnString is a redis://
// URI suitable for redis.Config.URI.
type RedisResult struct {
	Container  *tcredis.RedisContainer
	ConnString string
}

// StartRedis starts [DefaultRedisImage] without authentication. The
// container is terminated if its connection string cannot be read.
func StartRedis(ctx context.Context) (*RedisResult, error) {
	container, err := tcredis.Run(ctx, DefaultRedisImage)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start redis container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get redis connection string: %w", err)
	}

	return &RedisResult{Container: container, ConnString: connStr}, nil
}

// ===========================================================================
// MinIO
// ===========================================================================

const (
	// DefaultMinIOImage backs the credential document tests.
	DefaultMinIOImage = "docker.io/minio/minio:latest"

	// Root credentials of the throwaway container.
	DefaultMinIOAccessKey = "minioadmin"
	DefaultMinIOSecretKey = "minioadmin"
)

// MinIOResult holds a started MinIO container. Endpoint is host:port.
type MinIOResult struct {
	Container *tcminio.MinioContainer
	Endpoint  string
	AccessKey string
	SecretKey string
}

// StartMinIO starts [DefaultMinIOImage] with the default root
// credentials. The container is terminated if its endpoint cannot be read.
func StartMinIO(ctx context.Context) (*MinIOResult, error) {
	container, err := tcminio.Run(ctx,
		DefaultMinIOImage,
		tcminio.WithUsername(DefaultMinIOAccessKey),
		tcminio.WithPassword(DefaultMinIOSecretKey),
	)
	if err != nil {
		return nil, fmt.Errorf("containers: failed to start minio container: %w", err)
	}

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("containers: failed to get minio connection string: %w", err)
	}

	return &MinIOResult{
		Container: container,
		Endpoint:  endpoint,
		AccessKey: DefaultMinIOAccessKey,
		SecretKey: DefaultMinIOSecretKey,
	}, nil
}

// SeedObject writes data to bucket/key in the container, creating the
// bucket when it is missing. It talks to the SDK directly; the application
// client only reads.
func SeedObject(ctx context.Context, r *MinIOResult, bucket, key string, data []byte) error {
	client, err := minio.New(strings.TrimPrefix(r.Endpoint, "http://"), &minio.Options{
		Creds: credentials.NewStaticV4(r.AccessKey, r.SecretKey, ""),
	})
	if err != nil {
		return fmt.Errorf("containers: failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("containers: failed to check bucket %q: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("containers: failed to create bucket %q: %w", bucket, err)
		}
	}
	if data == nil {
		return nil
	}

	_, err = client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/xml"})
	if err != nil {
		return fmt.Errorf("containers: failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}
