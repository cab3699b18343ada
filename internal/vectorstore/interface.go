package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// Sentinel errors for vector index operations.
var (
	// ErrIndexNotFound is returned when the backing index does not exist.
	ErrIndexNotFound = errors.New("index not found")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrInvalidIndexName indicates index name validation failure.
	ErrInvalidIndexName = errors.New("invalid index name")

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Record is one stored vector with its metadata.
type Record struct {
	// ID is the record key, "{uid}_{locale}" for CMS entries.
	ID string

	// Vector is the document embedding.
	Vector []float32

	// Metadata is returned with every match. Values are strings, booleans,
	// numbers or string slices; nil values are not allowed.
	Metadata map[string]any
}

// Match is one query result.
type Match struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Stats describes an index.
type Stats struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
	Backend   string `json:"backend"`
}

// Index is the interface for vector index operations.
type Index interface {
	// Upsert inserts or replaces records in a single call.
	Upsert(ctx context.Context, records []Record) error

	// Delete removes records by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// Query returns up to topK records nearest to vector that satisfy filter,
	// highest score first.
	Query(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error)

	// Describe returns the index name, record count and dimension.
	Describe(ctx context.Context) (Stats, error)

	// Close releases resources held by the index.
	Close() error
}

// indexNamePattern validates index names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var indexNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateIndexName validates an index name against ^[a-z0-9_]{1,64}$.
func ValidateIndexName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: index name cannot be empty", ErrInvalidIndexName)
	}
	if !indexNamePattern.MatchString(name) {
		return fmt.Errorf("%w: index name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidIndexName, name)
	}
	return nil
}

func validateRecords(records []Record, dimension int) error {
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record %d: %w: empty id", i, ErrInvalidConfig)
		}
		if dimension > 0 && len(r.Vector) != dimension {
			return fmt.Errorf("record %q: %w: got %d, want %d", r.ID, ErrDimensionMismatch, len(r.Vector), dimension)
		}
		for k, v := range r.Metadata {
			if v == nil {
				return fmt.Errorf("record %q: metadata %q is nil", r.ID, k)
			}
		}
	}
	return nil
}
