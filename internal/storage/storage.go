// Package storage provides the object store behind the usage archive.
//
// Implementations:
// - LocalStorage: files under a base directory, for development
// - R2Storage: Cloudflare R2 (S3-compatible) object storage, for production
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Storage is a flat key/value object store. All methods honor ctx.
type Storage interface {
	// Put stores data at key. Returns ErrKeyExists if the key is taken and
	// opts.Overwrite is false.
	Put(ctx context.Context, key string, data io.Reader, opts PutOptions) error

	// Get returns the object at key; the caller must close it. Returns
	// ErrNotFound if the key doesn't exist.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// Data Types
// =============================================================================

// PutOptions configures how an object is stored.
type PutOptions struct {
	// ContentType is detected from the key's extension when empty.
	ContentType string

	// MaxSize rejects larger objects with ErrTooLarge. 0 means no limit.
	MaxSize int64

	Overwrite bool
}

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	ContentType  string
	LastModified time.Time
	ETag         string // Empty for local storage
}

// =============================================================================
// Configuration
// =============================================================================

// Provider names accepted by New.
const (
	ProviderNone  = "none"
	ProviderLocal = "local"
	ProviderR2    = "r2"
)

// LocalConfig holds configuration for local filesystem storage.
type LocalConfig struct {
	// BasePath is the root directory, created if missing.
	// Example: "./data/usage"
	BasePath string
}

// R2Config holds configuration for Cloudflare R2 storage.
type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string

	// Endpoint overrides https://{account_id}.r2.cloudflarestorage.com, for
	// other S3-compatible stores.
	Endpoint string

	// Region is required by the AWS SDK; R2 ignores it. Default: "auto"
	Region string
}

// Config selects and configures a backend.
type Config struct {
	Provider string
	Local    LocalConfig
	R2       R2Config
}

// New builds the configured backend. ProviderNone and "" return a nil
// Storage and no error.
func New(cfg Config, logger *slog.Logger) (Storage, error) {
	switch cfg.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderLocal:
		return NewLocalStorage(cfg.Local, logger)
	case ProviderR2:
		return NewR2Storage(cfg.R2, logger)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// =============================================================================
// Keys and content types
// =============================================================================

// UsageKey generates the archive key of a usage record.
// Format: usage/{yyyy}/{mm}/{dd}/{tenantID}/{recordID}.json
//
// Example: "usage/2026/10/17/123e4567-e89b-12d3-a456-426614174000/987fcdeb-51a2-43f1-b9c4-12345678abcd.json"
func UsageKey(tenantID, recordID uuid.UUID, at time.Time) string {
	at = at.UTC()
	return fmt.Sprintf("usage/%04d/%02d/%02d/%s/%s.json", at.Year(), at.Month(), at.Day(), tenantID, recordID)
}

// DetectContentType returns providedType, or the MIME type of the key's
// extension, or application/octet-stream.
func DetectContentType(providedType, key string) string {
	if providedType != "" {
		return providedType
	}
	if contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(key))); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}
