package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType selects the archive backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates an archive store based on environment
// variables.
//
//   - AUDIT_ARCHIVE_TYPE: "fs" (default), "s3", or "gcs"
//   - DATA_DIR: base directory for the filesystem store (default "data")
//
// For S3:
//   - AUDIT_ARCHIVE_S3_BUCKET (required)
//   - AUDIT_ARCHIVE_S3_REGION or AWS_REGION
//   - AUDIT_ARCHIVE_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - AUDIT_ARCHIVE_S3_PREFIX (optional)
//
// For GCS:
//   - AUDIT_ARCHIVE_GCS_BUCKET (required)
//   - AUDIT_ARCHIVE_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("AUDIT_ARCHIVE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return newFileStoreFromEnv()
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported audit archive type: %s", storeType)
	}
}

func newFileStoreFromEnv() (Store, error) {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "data"
	}
	return NewFileStore(filepath.Join(dataDir, "audit-archive"))
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("AUDIT_ARCHIVE_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("AUDIT_ARCHIVE_S3_BUCKET is required for S3 archives")
	}

	region := os.Getenv("AUDIT_ARCHIVE_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("AUDIT_ARCHIVE_S3_ENDPOINT"),
		Prefix:   os.Getenv("AUDIT_ARCHIVE_S3_PREFIX"),
	})
}
