package gcp

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pdfingest/internal/models"
	"github.com/bmatcuk/doublestar/v4"
	"gitlab.com/tozd/go/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// StoreConfig configures access to a Cloud Storage bucket of archives.
// WithoutAuthentication is independent of Endpoint: emulators need both,
// a private endpoint only the latter.
type StoreConfig struct {
	Prefix                string
	ArchiveGlob           string
	CredentialsFile       string
	Endpoint              string
	WithoutAuthentication bool
	MaxListPages          int
	ListPageSize          int
	DownloadRetries       int
	InitialBackoff        time.Duration
}

// Store lists and downloads archives from Cloud Storage.
type Store struct {
	client *storage.Client
	config StoreConfig
	logger *slog.Logger
}

// NewStore creates a Cloud Storage client for the given configuration.
func NewStore(ctx context.Context, config StoreConfig, logger *slog.Logger) (*Store, error) {
	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	if config.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(config.Endpoint))
	}
	if config.WithoutAuthentication {
		opts = append(opts, option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Errorf("failed to create Storage client: %w", err)
	}
	return NewStoreWithClient(client, config, logger), nil
}

// NewStoreWithClient wraps an existing Cloud Storage client.
func NewStoreWithClient(client *storage.Client, config StoreConfig, logger *slog.Logger) *Store {
	if config.ArchiveGlob == "" {
		config.ArchiveGlob = "*.zip"
	}
	if config.DownloadRetries <= 0 {
		config.DownloadRetries = 4
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 1 * time.Second
	}
	if config.ListPageSize <= 0 {
		config.ListPageSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{client: client, config: config, logger: logger}
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ListArchiveKeys lists every archive object in the bucket. When MaxListPages
// is reached before the iterator is exhausted the listing is marked truncated.
func (s *Store) ListArchiveKeys(ctx context.Context, bucket string) (models.Listing, error) {
	listing := models.Listing{Container: bucket}
	query := &storage.Query{Prefix: s.config.Prefix}
	if err := query.SetAttrSelection([]string{"Name"}); err != nil {
		return listing, errors.Errorf("failed to set attribute selection: %w", err)
	}

	it := s.client.Bucket(bucket).Objects(ctx, query)
	pager := iterator.NewPager(it, s.config.ListPageSize, "")
	for pages := 0; ; pages++ {
		if s.config.MaxListPages > 0 && pages >= s.config.MaxListPages {
			listing.Truncated = true
			break
		}
		var attrs []*storage.ObjectAttrs
		next, err := pager.NextPage(&attrs)
		if err != nil {
			return listing, errors.Errorf("failed to list objects in gs://%s: %w", bucket, err)
		}
		for _, a := range attrs {
			ok, err := s.matches(a.Name)
			if err != nil {
				return listing, err
			}
			if ok {
				listing.Keys = append(listing.Keys, a.Name)
			}
		}
		if next == "" {
			break
		}
	}
	return listing, nil
}

func (s *Store) matches(key string) (bool, error) {
	if strings.HasSuffix(key, "/") {
		return false, nil
	}
	ok, err := doublestar.Match(s.config.ArchiveGlob, path.Base(key))
	if err != nil {
		return false, errors.Errorf("invalid archive glob %q: %w", s.config.ArchiveGlob, err)
	}
	return ok, nil
}

// FetchArchive streams gs://bucket/key into destPath. Transient failures are
// retried with exponential backoff; a missing object is not.
func (s *Store) FetchArchive(ctx context.Context, bucket, key, destPath string) error {
	backoff := s.config.InitialBackoff
	var lastErr error

	for i := 0; i < s.config.DownloadRetries; i++ {
		err := s.streamObject(ctx, bucket, key, destPath)
		if err == nil {
			return nil
		}
		if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
			return err
		}

		lastErr = err
		s.logger.Warn(
			"Download failed, will retry.",
			"gcsObject", key,
			"attempt", i+1,
			"maxRetries", s.config.DownloadRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return errors.Errorf("download of %s failed after all retries: %w", key, lastErr)
}

func (s *Store) streamObject(ctx context.Context, bucket, key, destPath string) error {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return errors.Errorf("failed to get GCS object reader for gs://%s/%s: %w", bucket, key, err)
	}
	defer reader.Close()

	tmpPath := destPath + ".part"
	localFile, err := os.Create(tmpPath)
	if err != nil {
		return errors.Errorf("failed to create file at %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(localFile, reader); err != nil {
		_ = localFile.Close()
		_ = os.Remove(tmpPath)
		return errors.Errorf("failed to copy GCS object to local file: %w", err)
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
