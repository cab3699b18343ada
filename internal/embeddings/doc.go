// Package embeddings turns text into dense vectors for the search index.
//
// Three providers are supported:
//
//   - fastembed: local ONNX models via fastembed-go (requires CGO)
//   - tei: a HuggingFace Text Embeddings Inference server over HTTP
//   - openai: the OpenAI embeddings API via langchaingo
//
// NewProvider selects one from configuration and wraps it with OpenTelemetry
// metrics. Every provider failure wraps ErrEmbeddingFailed so callers can map
// it to a "service unavailable" response without knowing the backend.
package embeddings
