package amazon

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/Lllllllleong/pdfingest/internal/models"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
)

// StoreConfig configures access to an S3 bucket of archives.
type StoreConfig struct {
	Region       string
	Endpoint     string
	Prefix       string
	ArchiveGlob  string
	MaxListPages int
	MaxAttempts  int
}

// Store lists and downloads archives from S3.
type Store struct {
	client *s3.Client
	config StoreConfig
	logger *slog.Logger
}

// NewStore loads the default AWS configuration (environment, shared files,
// instance role) and creates an S3 client.
func NewStore(ctx context.Context, config StoreConfig, logger *slog.Logger) (*Store, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(config.Region))
	}
	if config.MaxAttempts > 0 {
		loadOpts = append(loadOpts, awsconfig.WithRetryMaxAttempts(config.MaxAttempts))
	}
	awsConfig, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, errors.Errorf("failed to load AWS config: %w", err)
	}
	return NewStoreFromConfig(awsConfig, config, logger), nil
}

// NewStoreFromConfig creates a Store from an already resolved AWS configuration.
func NewStoreFromConfig(awsConfig aws.Config, config StoreConfig, logger *slog.Logger) *Store {
	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if config.Endpoint != "" {
			o.BaseEndpoint = aws.String(config.Endpoint)
			o.UsePathStyle = true
		}
	})
	if config.ArchiveGlob == "" {
		config.ArchiveGlob = "*.zip"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, config: config, logger: logger}
}

// ListArchiveKeys pages through the bucket. When MaxListPages is reached with
// pages remaining, the listing is marked truncated instead of silently cut.
func (s *Store) ListArchiveKeys(ctx context.Context, bucket string) (models.Listing, error) {
	listing := models.Listing{Container: bucket}
	input := &s3.ListObjectsV2Input{Bucket: aws.String(bucket)}
	if s.config.Prefix != "" {
		input.Prefix = aws.String(s.config.Prefix)
	}

	paginator := s3.NewListObjectsV2Paginator(s.client, input)
	for pages := 0; paginator.HasMorePages(); pages++ {
		if s.config.MaxListPages > 0 && pages >= s.config.MaxListPages {
			listing.Truncated = true
			break
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return listing, errors.Errorf("failed to list objects in s3://%s: %w", bucket, err)
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			ok, err := s.matches(key)
			if err != nil {
				return listing, err
			}
			if ok {
				listing.Keys = append(listing.Keys, key)
			}
		}
	}
	s.logger.Debug("Listed S3 archives.", "bucket", bucket, "count", len(listing.Keys), "truncated", listing.Truncated)
	return listing, nil
}

func (s *Store) matches(key string) (bool, error) {
	if key == "" || strings.HasSuffix(key, "/") {
		return false, nil
	}
	ok, err := doublestar.Match(s.config.ArchiveGlob, path.Base(key))
	if err != nil {
		return false, errors.Errorf("invalid archive glob %q: %w", s.config.ArchiveGlob, err)
	}
	return ok, nil
}

// FetchArchive downloads s3://bucket/key into destPath. The file only appears
// at destPath once the download completed.
func (s *Store) FetchArchive(ctx context.Context, bucket, key, destPath string) error {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Errorf("failed to get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	tmpPath := destPath + ".part"
	localFile, err := os.Create(tmpPath)
	if err != nil {
		return errors.Errorf("failed to create file at %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(localFile, out.Body); err != nil {
		_ = localFile.Close()
		_ = os.Remove(tmpPath)
		return errors.Errorf("failed to copy S3 object to local file: %w", err)
	}
	if err := localFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return errors.Errorf("failed to move download into place: %w", err)
	}
	return nil
}
