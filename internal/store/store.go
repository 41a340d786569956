package store

import (
	"context"
	"time"
)

// RecordStore is the interface the search providers, orchestrator, and
// worker consume. A sqlite-backed implementation lives in sqlite.go.
type RecordStore interface {
	GetRecord(ctx context.Context, id string, kind Kind) (*Record, error)
	ListPending(ctx context.Context, kind *Kind, limit int) ([]*Record, error)
	ListFailed(ctx context.Context, kind *Kind, limit int) ([]*Record, error)
	SetStatus(ctx context.Context, id string, kind Kind, status EmbeddingStatus) error
	UpsertEmbedding(ctx context.Context, id string, kind Kind, vec []float32, modelVersion string) error
	ListEmbeddings(ctx context.Context, modelVersion string) ([]*EmbeddingRow, error)
	GetEmbedding(ctx context.Context, id string, kind Kind, modelVersion string) (*EmbeddingRow, error)

	// SearchText implements the text provider's substring/token matching
	// directly against the records table.
	SearchText(ctx context.Context, tokens []string, fullQuery string, kind *Kind, category *string, limit int) ([]*Record, error)
	// FindByExactTitle implements the text provider's exact-title duplicate
	// check within an optional kind/category/excluded-id scope.
	FindByExactTitle(ctx context.Context, title string, kind Kind, category *string, excludeID string) ([]*Record, error)
	// FindByTitleSubstring implements the text provider's substring-title
	// duplicate fallback.
	FindByTitleSubstring(ctx context.Context, title string, kind Kind, category *string, excludeID string) ([]*Record, error)

	AcquireLease(ctx context.Context, name, owner string, ttl time.Duration) (*Lease, bool, error)
	GetLease(ctx context.Context, name string) (*Lease, error)
	ReleaseLease(ctx context.Context, name, owner string) error

	Close() error
}

// IsBusy classifies a store error as a transient busy/locked condition.
// Callers use it inside a kberrors.Retry callback to rewrap busy errors as
// kberrors.TransientStoreError, which the retry's IsRetryable classifier
// then retries.
func IsBusy(err error) bool {
	return isBusyErr(err)
}
