package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/cmssearch/internal/vectorstore"
)

const (
	defaultType    = "article"
	defaultLocale  = "en-us"
	defaultSnippet = "No description available"
)

// Result is one search hit as returned to clients.
type Result struct {
	ID             string   `json:"id"`
	Title          string   `json:"title"`
	Type           string   `json:"type"`
	ContentType    string   `json:"contentType"`
	ContentTypeUID string   `json:"contentTypeUid"`
	Snippet        string   `json:"snippet"`
	Locale         string   `json:"locale"`
	Tags           []string `json:"tags"`
	Similarity     float64  `json:"similarity"`
	Relevance      float64  `json:"relevance"`
	OriginalScore  float64  `json:"originalScore"`
	Date           string   `json:"date"`
	LastModified   string   `json:"lastModified"`
	URL            string   `json:"url"`
	Category       string   `json:"category,omitempty"`
	Price          any      `json:"price,omitempty"`
	Duration       any      `json:"duration,omitempty"`
	Author         string   `json:"author,omitempty"`
	ImageAnalysis  string   `json:"imageAnalysis,omitempty"`

	// Set by Annotate.
	HasImages        bool     `json:"hasImages"`
	PrimaryImage     string   `json:"primaryImage,omitempty"`
	AllImages        []string `json:"allImages,omitempty"`
	ImageCount       int      `json:"imageCount"`
	ImageAnalyzed    bool     `json:"imageAnalyzed"`
	VisualQueryMatch bool     `json:"visualQueryMatch"`

	metadata map[string]any
}

// Context is the per-query aggregate returned alongside results.
type Context struct {
	Classification
	MultimodalResultsCount int  `json:"multimodalResultsCount"`
	AnalyzedImageCount     int  `json:"analyzedImageCount"`
	TotalImagesFound       int  `json:"totalImagesFound"`
	HasMultimodalResults   bool `json:"hasMultimodalResults"`
}

// toResult maps the n-th (zero-based) match to a Result.
func toResult(n int, m vectorstore.Match, now time.Time) Result {
	md := m.Metadata
	if md == nil {
		md = map[string]any{}
	}
	typ := firstString(md, "type")
	if typ == "" {
		typ = defaultType
	}
	date := firstString(md, "date", "updated_at")
	if date == "" {
		date = now.UTC().Format(time.DateOnly)
	}
	title := firstString(md, "title")
	if title == "" {
		title = fmt.Sprintf("Result %d", n+1)
	}
	snippet := firstString(md, "snippet", "description")
	if snippet == "" {
		snippet = defaultSnippet
	}
	locale := firstString(md, "locale")
	if locale == "" {
		locale = defaultLocale
	}
	ctUID := firstString(md, "content_type_uid")
	if ctUID == "" {
		ctUID = typ
	}
	score := clamp(float64(m.Score))

	return Result{
		ID:             m.ID,
		Title:          title,
		Type:           typ,
		ContentType:    typ,
		ContentTypeUID: ctUID,
		Snippet:        snippet,
		Locale:         locale,
		Tags:           tags(md["tags"]),
		Similarity:     score,
		Relevance:      score,
		OriginalScore:  float64(m.Score),
		Date:           date,
		LastModified:   date,
		URL:            firstString(md, "url"),
		Category:       firstString(md, "category"),
		Price:          md["price"],
		Duration:       md["duration"],
		Author:         firstString(md, "author"),
		ImageAnalysis:  firstString(md, "image_analysis"),
		metadata:       md,
	}
}

// Annotate sets the image flags on every result and computes the aggregate
// context in one pass. Results are modified in place.
func Annotate(results []Result, c Classification) Context {
	out := Context{Classification: c}
	for i := range results {
		r := &results[i]
		md := r.metadata

		if primary := firstString(md, "primary_image", "primaryImage"); primary != "" {
			r.HasImages = true
			r.PrimaryImage = primary
			r.ImageCount = 1
			out.MultimodalResultsCount++
		}

		all := stringSlice(md["all_images"])
		if len(all) == 0 {
			all = stringSlice(md["allImages"])
		}
		if len(all) > 0 {
			r.AllImages = all
			r.ImageCount = len(all)
			if !r.HasImages {
				r.HasImages = true
				r.PrimaryImage = all[0]
				out.MultimodalResultsCount++
			}
		}
		// The array already holds the primary image when both are present.
		out.TotalImagesFound += r.ImageCount

		if firstString(md, "image_analysis", "imageAnalysis") != "" {
			r.ImageAnalyzed = true
			out.AnalyzedImageCount++
		}
		if truthy(md["visual_match"]) || truthy(md["visualMatch"]) {
			r.VisualQueryMatch = true
		}
	}
	out.HasMultimodalResults = out.MultimodalResultsCount > 0
	return out
}

func clamp(score float64) float64 {
	return min(max(score, 0), 1)
}

func firstString(md map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := md[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func stringSlice(v any) []string {
	switch val := v.(type) {
	case []string:
		return append([]string(nil), val...)
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// tags accepts a list or a comma-separated string.
func tags(v any) []string {
	if s, ok := v.(string); ok {
		var out []string
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
		if out == nil {
			return []string{}
		}
		return out
	}
	if out := stringSlice(v); out != nil {
		return out
	}
	return []string{}
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	default:
		return false
	}
}
