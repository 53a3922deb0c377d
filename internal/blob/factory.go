package blob

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// DriverFromEnv reads EVOPROT_BLOB_DRIVER, defaulting to the filesystem.
func DriverFromEnv() Driver {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("EVOPROT_BLOB_DRIVER"))) {
	case "s3":
		return DriverS3
	case "memory":
		return DriverMemory
	default:
		return DriverFilesystem
	}
}

// Open returns the structure store for a run. dir is used by the filesystem
// driver and prefix by S3.
func Open(ctx context.Context, driver Driver, dir, prefix string) (Store, error) {
	switch driver {
	case DriverFilesystem, "":
		return NewFSStore(dir)
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverS3:
		cfg, err := S3ConfigFromEnv(prefix)
		if err != nil {
			return nil, err
		}
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", driver)
	}
}
