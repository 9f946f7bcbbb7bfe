package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// ResolveDataset resolves a realization dataset location to a local sqlite
// file path. A plain path is returned as-is; an s3://bucket/key URI is
// downloaded into destDir first. The dispatch collaborator uses this to
// point one task at an alternate dataset without re-deploying.
func ResolveDataset(ctx context.Context, location, destDir string, log zerolog.Logger) (string, error) {
	if !strings.HasPrefix(location, "s3://") {
		if _, err := os.Stat(location); err != nil {
			return "", fmt.Errorf("realization dataset %s not found: %w", location, err)
		}
		return location, nil
	}

	bucket, key, err := splitS3URI(location)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, filepath.Base(key))
	if _, err := os.Stat(dest); err == nil {
		log.Info().Str("dataset", location).Str("path", dest).Msg("dataset already downloaded, reusing")
		return dest, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	downloader := manager.NewDownloader(client)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create dataset directory: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create dataset file: %w", err)
	}
	defer f.Close()

	log.Info().Str("bucket", bucket).Str("key", key).Str("path", dest).Msg("downloading realization dataset")
	n, err := downloader.Download(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to download dataset %s: %w", location, err)
	}
	log.Info().Int64("bytes", n).Msg("realization dataset downloaded")

	return dest, nil
}

func splitS3URI(uri string) (bucket, key string, err error) {
	trimmed := strings.TrimPrefix(uri, "s3://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid S3 dataset URI %q (want s3://bucket/key)", uri)
	}
	return parts[0], parts[1], nil
}
