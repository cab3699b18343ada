//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable means the binary was built without CGO, which
// the ONNX runtime needs. Use the tei or openai provider instead.
var ErrFastEmbedNotAvailable = errors.New("fastembed requires a cgo build")

// FastEmbedConfig mirrors the cgo build so callers compile either way.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
	BatchSize int
}

// FastEmbedProvider never embeds in non-cgo builds.
type FastEmbedProvider struct{}

// NewFastEmbedProvider always fails with ErrFastEmbedNotAvailable.
func NewFastEmbedProvider(FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (*FastEmbedProvider) Dimension() int { return 0 }

func (*FastEmbedProvider) Close() error { return nil }
