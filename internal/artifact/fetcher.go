// Package artifact downloads model artifacts named by URI and keeps them in a
// local content-addressed cache, so restarts reuse weights without network.
//
// Supported URIs:
//
//	hf://owner/repo/path/in/repo   Hugging Face Hub
//	s3://bucket/key                S3 or MinIO
//	nats://bucket/key              NATS JetStream object store
//	/local/path or relative/path   used in place
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/voiceclone-service/internal/tts/ttsutils"
)

const (
	artifactsDirName = "artifacts"
	metaFileName     = "meta.json"
	tempPattern      = ".download-*"
	schemeSeparator  = "://"
	filePermissions  = 0o600
)

var (
	// ErrUnsupportedScheme is returned for a URI scheme without a source.
	ErrUnsupportedScheme = errors.New("unsupported artifact scheme")
	// ErrEmptyArtifact is returned when a fetched or local artifact has no content.
	ErrEmptyArtifact = errors.New("artifact is empty")
	// ErrInvalidLocation is returned when a URI lacks the parts its scheme needs.
	ErrInvalidLocation = errors.New("invalid artifact location")
)

// Log messages.
const (
	logCacheReuse    = "Reusing cached artifact %s at %s (%s)"
	logFetching      = "Fetching artifact %s"
	logFetched       = "Fetched artifact %s to %s (%s in %s)"
	logMetaFailed    = "Failed to write artifact metadata for %s: %v"
	logTempRemoveErr = "Failed to remove partial download '%s': %v"
	logCacheCorrupt  = "Cached artifact %s has %d bytes, expected %d; fetching again"
)

// Source streams the object at location (the URI without its scheme) to dst.
type Source interface {
	Fetch(ctx context.Context, location string, dst io.Writer) error
}

// Versioned is implemented by sources whose content depends on more than the
// location, such as a Hub revision. The version is part of the cache key.
type Versioned interface {
	Version() string
}

// Meta is the sidecar written next to each cached artifact.
type Meta struct {
	URI       string    `json:"uri"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher resolves artifact URIs to local file paths.
type Fetcher struct {
	cacheDir string
	sources  map[string]Source
	log      *logger.Logger
}

// NewFetcher creates a Fetcher caching under cacheDir. Register sources with
// WithSource before calling Fetch.
func NewFetcher(cacheDir string, log *logger.Logger) *Fetcher {
	return &Fetcher{
		cacheDir: cacheDir,
		sources:  make(map[string]Source),
		log:      log,
	}
}

// WithSource registers src for scheme and returns the Fetcher.
func (f *Fetcher) WithSource(scheme string, src Source) *Fetcher {
	f.sources[scheme] = src

	return f
}

// CachePath returns where uri is stored once fetched.
func (f *Fetcher) CachePath(uri string) string {
	scheme, location, _ := strings.Cut(uri, schemeSeparator)

	key := uri
	if versioned, ok := f.sources[scheme].(Versioned); ok {
		key += "@" + versioned.Version()
	}

	digest := sha256.Sum256([]byte(key))

	return filepath.Join(
		f.cacheDir,
		artifactsDirName,
		hex.EncodeToString(digest[:]),
		ttsutils.SanitizeFilename(path.Base(location)),
	)
}

// Fetch returns a local path holding the artifact named by uri. Cached
// artifacts are returned without contacting the source.
func (f *Fetcher) Fetch(ctx context.Context, uri string) (string, error) {
	scheme, location, hasScheme := strings.Cut(uri, schemeSeparator)
	if !hasScheme {
		return localArtifact(uri)
	}

	src, ok := f.sources[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}

	target := f.CachePath(uri)
	if size := ttsutils.FileSize(target); size > 0 && f.intact(target, size) {
		f.log.Info(logCacheReuse, uri, target, ttsutils.FormatFileSize(size))

		return target, nil
	}

	return f.download(ctx, uri, location, src, target)
}

// intact reports whether a cached file still has the size recorded when it
// was fetched. A missing sidecar is trusted.
func (f *Fetcher) intact(target string, size int64) bool {
	meta, err := ReadMeta(target)
	if err != nil {
		return true
	}

	if meta.Size != size {
		f.log.Warn(logCacheCorrupt, target, size, meta.Size)

		return false
	}

	return true
}

func (f *Fetcher) download(ctx context.Context, uri, location string, src Source, target string) (string, error) {
	dir := filepath.Dir(target)

	err := ttsutils.EnsureDir(dir)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return "", fmt.Errorf("failed to create download file for %s: %w", uri, err)
	}

	tmpPath := tmp.Name()
	committed := false

	defer func() {
		if committed {
			return
		}

		removeErr := os.Remove(tmpPath)
		if removeErr != nil && !os.IsNotExist(removeErr) {
			f.log.Warn(logTempRemoveErr, tmpPath, removeErr)
		}
	}()

	f.log.Info(logFetching, uri)

	started := time.Now()
	hasher := sha256.New()
	counter := &countingWriter{n: 0}

	fetchErr := src.Fetch(ctx, location, io.MultiWriter(tmp, hasher, counter))
	closeErr := tmp.Close()

	if fetchErr != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", uri, fetchErr)
	}

	if closeErr != nil {
		return "", fmt.Errorf("failed to write %s: %w", uri, closeErr)
	}

	if counter.n == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyArtifact, uri)
	}

	err = os.Rename(tmpPath, target)
	if err != nil {
		return "", fmt.Errorf("failed to move %s into cache: %w", uri, err)
	}

	committed = true

	f.writeMeta(dir, Meta{
		URI:       uri,
		Size:      counter.n,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
		FetchedAt: time.Now().UTC(),
	})

	f.log.Info(logFetched, uri, target, ttsutils.FormatFileSize(counter.n),
		ttsutils.FormatDuration(time.Since(started).Seconds()))

	return target, nil
}

func (f *Fetcher) writeMeta(dir string, meta Meta) {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(dir, metaFileName), data, filePermissions)
	}

	if err != nil {
		f.log.Warn(logMetaFailed, meta.URI, err)
	}
}

// ReadMeta loads the sidecar of a cached artifact path.
func ReadMeta(artifactPath string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(filepath.Dir(artifactPath), metaFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact metadata: %w", err)
	}

	var meta Meta

	err = json.Unmarshal(data, &meta)
	if err != nil {
		return nil, fmt.Errorf("failed to parse artifact metadata: %w", err)
	}

	return &meta, nil
}

func localArtifact(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve artifact path %s: %w", p, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("artifact %s: %w", p, err)
	}

	if !info.Mode().IsRegular() || info.Size() == 0 {
		return "", fmt.Errorf("%w: %s", ErrEmptyArtifact, p)
	}

	return abs, nil
}

// splitBucketKey parses "bucket/key/with/slashes".
func splitBucketKey(location string) (string, string, error) {
	bucket, key, ok := strings.Cut(location, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: expected bucket/key, got %q", ErrInvalidLocation, location)
	}

	return bucket, key, nil
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))

	return len(p), nil
}
