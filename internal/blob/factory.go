package blob

import (
	"context"
	"fmt"

	"evalgrid/internal/infra/blob/fs"
	memorystore "evalgrid/internal/infra/blob/memory"
	infraS3 "evalgrid/internal/infra/blob/s3"
)

// S3Config is the s3 driver configuration.
type S3Config = infraS3.Config

// Config selects and configures a driver.
type Config struct {
	Driver Driver
	FSRoot string
	S3     S3Config
}

// Open constructs the store selected by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		if cfg.S3.Bucket == "" {
			return nil, fmt.Errorf("s3 bucket required for blob driver %s", driver)
		}
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

// NewFilesystem constructs a filesystem-backed Store rooted at root.
func NewFilesystem(root string) (Store, error) {
	store, err := fs.New(root)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewS3 constructs an S3-backed Store.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	store, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// NewMockS3 returns an s3 Store backed by an in-memory fake bucket, for tests
// of packages that may not import the infra drivers directly.
func NewMockS3(ctx context.Context) (Store, error) {
	store, err := infraS3.NewMock(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}
