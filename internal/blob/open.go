package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// Environment variables read by ConfigFromEnv:
//
//	CANOPY_BLOB_DRIVER=fs|s3|memory (default fs)
//	CANOPY_BLOB_FS_ROOT=<dir> (default ./blobdata)
//	CANOPY_BLOB_S3_BUCKET=<bucket> (required for s3)
//	CANOPY_BLOB_S3_REGION=<region> (default us-east-1)
//	CANOPY_BLOB_S3_ENDPOINT=<url> (optional, for MinIO)
//	CANOPY_BLOB_S3_PATH_STYLE=true|false (default false)
//	AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY / AWS_SESSION_TOKEN (optional)

// Config selects and configures a backend.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// ConfigFromEnv reads a Config from the process environment.
func ConfigFromEnv() Config {
	return Config{
		Driver: Driver(os.Getenv("CANOPY_BLOB_DRIVER")),
		FSRoot: os.Getenv("CANOPY_BLOB_FS_ROOT"),
		S3: S3Config{
			Bucket:    os.Getenv("CANOPY_BLOB_S3_BUCKET"),
			Region:    os.Getenv("CANOPY_BLOB_S3_REGION"),
			Endpoint:  os.Getenv("CANOPY_BLOB_S3_ENDPOINT"),
			PathStyle: strings.EqualFold(os.Getenv("CANOPY_BLOB_S3_PATH_STYLE"), "true"),
		},
	}
}

// Open returns the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("CANOPY_BLOB_S3_BUCKET required for s3 driver")
		}
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
