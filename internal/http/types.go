package http

import (
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/fyrsmithlabs/cmssearch/internal/indexer"
	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Region    string         `json:"region"`
	Features  HealthFeatures `json:"features"`
}

// HealthFeatures reports which optional features are available.
type HealthFeatures struct {
	SemanticSearch     bool `json:"semantic_search"`
	ImageAnalysis      bool `json:"image_analysis"`
	MultimodalSearch   bool `json:"multimodal_search"`
	WebhookIntegration bool `json:"webhook_integration"`
	CMSSync            bool `json:"cms_sync"`
}

// AnalyzeImageRequest is the request body for POST /analyze-image.
type AnalyzeImageRequest struct {
	ImageURL string `json:"imageUrl"`
	Query    string `json:"query"`
}

// AnalyzeImageResponse is the response body for POST /analyze-image.
type AnalyzeImageResponse struct {
	Analysis  string  `json:"analysis"`
	ImageURL  string  `json:"imageUrl"`
	Query     *string `json:"query"`
	Timestamp string  `json:"timestamp"`
}

// WebhookAck acknowledges an entry webhook.
type WebhookAck struct {
	Success     bool   `json:"success"`
	Message     string `json:"message"`
	Event       string `json:"event"`
	Action      string `json:"action"`
	EntryUID    string `json:"entryUid"`
	ContentType string `json:"contentType"`
	Locale      string `json:"locale"`
	Skipped     bool   `json:"skipped"`
	Timestamp   string `json:"timestamp"`
}

// AssetAck acknowledges an asset webhook.
type AssetAck struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Event    string `json:"event"`
	AssetUID string `json:"assetUid"`
}

// WebhookInfoResponse is the response body for GET /api/webhook/test.
type WebhookInfoResponse struct {
	Status             string   `json:"status"`
	Timestamp          string   `json:"timestamp"`
	Authentication     string   `json:"authentication"`
	SupportedEvents    []string `json:"supportedEvents"`
	AssetEventsHandled []string `json:"assetEventsHandled"`
}

// ReindexRequest is the optional body of the reindex routes.
type ReindexRequest struct {
	Locale string `json:"locale"`
	Limit  int    `json:"limit"`
}

// ReindexResponse is the response body for POST /api/reindex/:contentType/:entryUid.
type ReindexResponse struct {
	Success     bool             `json:"success"`
	Message     string           `json:"message"`
	EntryUID    string           `json:"entryUid"`
	ContentType string           `json:"contentType"`
	MappedType  content.Category `json:"mappedType"`
	Locale      string           `json:"locale"`
	Title       string           `json:"title"`
	Skipped     bool             `json:"skipped"`
}

// BulkReindexResponse is the response body for POST /api/reindex-content-type/:contentType.
type BulkReindexResponse struct {
	Success        bool                `json:"success"`
	Message        string              `json:"message"`
	ContentType    string              `json:"contentType"`
	Locale         string              `json:"locale"`
	TotalEntries   int                 `json:"totalEntries"`
	SuccessCount   int                 `json:"successCount"`
	ErrorCount     int                 `json:"errorCount"`
	SkippedCount   int                 `json:"skippedCount"`
	ImagesAnalyzed int                 `json:"imagesAnalyzed"`
	Errors         []indexer.ItemError `json:"errors"`
}

// IndexStatsResponse is the response body for GET /api/index/stats.
type IndexStatsResponse struct {
	Status     string            `json:"status"`
	IndexStats vectorstore.Stats `json:"indexStats"`
	HasData    bool              `json:"hasData"`
}

// EntryDebug previews how one entry would be indexed.
type EntryDebug struct {
	UID                string                `json:"uid"`
	Title              string                `json:"title"`
	MappedType         content.Category      `json:"mappedType"`
	ExtractedImages    []string              `json:"extractedImages"`
	AllFields          []string              `json:"allFields"`
	ImageFieldAnalysis []content.FieldReport `json:"imageFieldAnalysis"`
	TextLength         int                   `json:"textLength"`
	Indexable          bool                  `json:"indexable"`
}

// DebugEntryResponse is the response body for GET /api/debug/:contentType/:entryUid.
type DebugEntryResponse struct {
	Status      string        `json:"status"`
	ContentType string        `json:"contentType"`
	EntryUID    string        `json:"entryUid"`
	Analysis    EntryDebug    `json:"analysis"`
	Entry       content.Entry `json:"entry"`
}

// DebugContentTypeResponse is the response body for GET /api/debug/:contentType.
type DebugContentTypeResponse struct {
	Status       string       `json:"status"`
	ContentType  string       `json:"contentType"`
	TotalEntries int          `json:"totalEntries"`
	Analysis     []EntryDebug `json:"analysis"`
}
