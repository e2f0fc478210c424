package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Scheme names registered by the service.
const (
	SchemeHuggingFace = "hf"
	SchemeS3          = "s3"
	SchemeNATS        = "nats"
)

// Hugging Face defaults.
const (
	DefaultHFEndpoint = "https://huggingface.co"
	DefaultHFRevision = "main"
	EnvHFToken        = "HF_TOKEN"
	hfResolveFormat   = "%s/%s/%s/resolve/%s/%s"
	hfMinParts        = 3
)

// ErrUnexpectedStatus is returned when a remote store answers with a non-200 status.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// HuggingFaceSource downloads files from the Hugging Face Hub resolve endpoint.
type HuggingFaceSource struct {
	endpoint   string
	revision   string
	token      string
	httpClient *http.Client
}

// NewHuggingFaceSource creates a Hub source. Empty endpoint and revision use
// the public Hub and "main"; an empty token sends anonymous requests.
func NewHuggingFaceSource(endpoint, revision, token string, timeout time.Duration) *HuggingFaceSource {
	if endpoint == "" {
		endpoint = DefaultHFEndpoint
	}

	if revision == "" {
		revision = DefaultHFRevision
	}

	return &HuggingFaceSource{
		endpoint:   strings.TrimRight(endpoint, "/"),
		revision:   revision,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Version returns the revision downloads are pinned to.
func (h *HuggingFaceSource) Version() string {
	return h.revision
}

// ResolveURL maps "owner/repo/path" to its download URL.
func (h *HuggingFaceSource) ResolveURL(location string) (string, error) {
	parts := strings.SplitN(location, "/", hfMinParts)
	if len(parts) < hfMinParts || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", fmt.Errorf("%w: expected owner/repo/path, got %q", ErrInvalidLocation, location)
	}

	return fmt.Sprintf(hfResolveFormat, h.endpoint, parts[0], parts[1], url.PathEscape(h.revision), parts[2]), nil
}

// Fetch implements Source.
func (h *HuggingFaceSource) Fetch(ctx context.Context, location string, dst io.Writer) error {
	target, err := h.ResolveURL(location)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s from %s", ErrUnexpectedStatus, resp.Status, target)
	}

	_, err = io.Copy(dst, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", target, err)
	}

	return nil
}

// S3Config holds the connection settings for an S3 compatible store.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Secure    bool
}

// S3Source downloads objects from S3 or MinIO.
type S3Source struct {
	client *minio.Client
}

// NewS3Source connects to the store described by cfg.
func NewS3Source(cfg S3Config) (*S3Source, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 client for %s: %w", cfg.Endpoint, err)
	}

	return &S3Source{client: client}, nil
}

// Fetch implements Source for "bucket/key" locations.
func (s *S3Source) Fetch(ctx context.Context, location string, dst io.Writer) error {
	bucket, key, err := splitBucketKey(location)
	if err != nil {
		return err
	}

	obj, err := s.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("failed to get s3 object %s/%s: %w", bucket, key, err)
	}
	defer obj.Close()

	_, err = io.Copy(dst, obj)
	if err != nil {
		return fmt.Errorf("failed to read s3 object %s/%s: %w", bucket, key, err)
	}

	return nil
}

// BlobDownloader streams a key of a single bucket.
type BlobDownloader interface {
	DownloadTo(ctx context.Context, key string, dst io.Writer) error
}

// BucketOpener binds to a bucket by name.
type BucketOpener func(bucket string) (BlobDownloader, error)

// NATSSource downloads artifacts mirrored into JetStream object stores.
type NATSSource struct {
	open BucketOpener
}

// NewNATSSource creates a source that binds buckets through open.
func NewNATSSource(open BucketOpener) *NATSSource {
	return &NATSSource{open: open}
}

// Fetch implements Source for "bucket/key" locations.
func (n *NATSSource) Fetch(ctx context.Context, location string, dst io.Writer) error {
	bucket, key, err := splitBucketKey(location)
	if err != nil {
		return err
	}

	store, err := n.open(bucket)
	if err != nil {
		return fmt.Errorf("failed to open object store %s: %w", bucket, err)
	}

	return store.DownloadTo(ctx, key, dst)
}
