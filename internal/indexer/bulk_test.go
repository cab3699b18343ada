package indexer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fyrsmithlabs/cmssearch/internal/cms"
	"github.com/fyrsmithlabs/cmssearch/internal/content"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource serves canned entries per content type.
type fakeSource struct {
	types   []cms.ContentType
	entries map[string][]content.Entry
	failOn  map[string]error
}

func (f *fakeSource) ContentTypes(context.Context) ([]cms.ContentType, error) {
	return f.types, nil
}

func (f *fakeSource) EachEntry(ctx context.Context, contentType, _ string, _, limit int, fn func(content.Entry) error) (int, error) {
	if err := f.failOn[contentType]; err != nil {
		return 0, err
	}
	n := 0
	for _, e := range f.entries[contentType] {
		if limit > 0 && n >= limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := fn(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func longEntry(uid string) content.Entry {
	return content.Entry{"uid": uid, "title": "Entry " + uid, "description": "Plenty of descriptive text for " + uid}
}

func TestReindexContentType_Tally(t *testing.T) {
	src := &fakeSource{entries: map[string][]content.Entry{
		"product": {
			longEntry("p1"),
			{"uid": "p2", "title": "tiny"},
			{"title": "an entry without any uid at all"},
			func() content.Entry {
				e := longEntry("p4")
				e["image"] = "https://images.contentstack.io/v3/assets/p4.jpg"
				return e
			}(),
		},
	}}
	emb := &countingEmbedder{}
	idx := newIndex(t)
	svc := newService(t, emb, idx, &fakeAnalyzer{enabled: true, caption: "a photo"})

	tally, err := svc.ReindexContentType(context.Background(), src, "product", BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, 4, tally.Total)
	assert.Equal(t, 2, tally.Processed)
	assert.Equal(t, 1, tally.Skipped)
	assert.Equal(t, 1, tally.Failed)
	assert.Equal(t, 1, tally.ImagesAnalyzed)
	require.Len(t, tally.Errors, 1)
	assert.Contains(t, tally.Errors[0].Error, "invalid entry")

	stats, err := idx.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
}

func TestReindexContentType_CapsReportedErrors(t *testing.T) {
	var entries []content.Entry
	for i := 0; i < 15; i++ {
		entries = append(entries, longEntry(fmt.Sprintf("e%d", i)))
	}
	src := &fakeSource{entries: map[string][]content.Entry{"article": entries}}
	svc := newService(t, &countingEmbedder{err: errors.New("down")}, newIndex(t), nil)

	tally, err := svc.ReindexContentType(context.Background(), src, "article", BulkOptions{})
	require.NoError(t, err)
	assert.Equal(t, 15, tally.Failed)
	assert.Len(t, tally.Errors, maxReportedErrors)
}

func TestReindexContentType_Limit(t *testing.T) {
	src := &fakeSource{entries: map[string][]content.Entry{
		"article": {longEntry("a1"), longEntry("a2"), longEntry("a3")},
	}}
	svc := newService(t, &countingEmbedder{}, newIndex(t), nil)

	tally, err := svc.ReindexContentType(context.Background(), src, "article", BulkOptions{Limit: 2, RatePerSecond: 1000})
	require.NoError(t, err)
	assert.Equal(t, 2, tally.Total)
	assert.Equal(t, 2, tally.Processed)
}

func TestReindexContentType_SourceError(t *testing.T) {
	src := &fakeSource{failOn: map[string]error{"article": cms.ErrUnavailable}}
	svc := newService(t, &countingEmbedder{}, newIndex(t), nil)

	_, err := svc.ReindexContentType(context.Background(), src, "article", BulkOptions{})
	assert.ErrorIs(t, err, cms.ErrUnavailable)
}

func TestSync(t *testing.T) {
	src := &fakeSource{
		types: []cms.ContentType{{UID: "article"}, {UID: "product"}, {UID: "video"}},
		entries: map[string][]content.Entry{
			"article": {longEntry("a1"), longEntry("a2")},
			"product": {longEntry("p1")},
		},
		failOn: map[string]error{"video": cms.ErrUnavailable},
	}
	idx := newIndex(t)
	svc := newService(t, &countingEmbedder{}, idx, nil)

	report, err := svc.Sync(context.Background(), src, []string{"article", "media", "product", "video"}, BulkOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"article", "product", "video"}, report.ContentTypes)
	assert.Equal(t, []string{"media"}, report.Missing)
	assert.Equal(t, 3, report.Tally.Processed)
	assert.Equal(t, 2, report.PerType["article"].Processed)
	assert.Equal(t, 0, report.PerType["video"].Total)

	stats, err := idx.Describe(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Count)
}

func TestSync_Canceled(t *testing.T) {
	src := &fakeSource{
		types:   []cms.ContentType{{UID: "article"}},
		entries: map[string][]content.Entry{"article": {longEntry("a1")}},
	}
	svc := newService(t, &countingEmbedder{}, newIndex(t), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Sync(ctx, src, []string{"article"}, BulkOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTally_Add(t *testing.T) {
	var total Tally
	total.Add(Tally{Total: 3, Processed: 2, Failed: 1, Errors: []ItemError{{UID: "x", Error: "boom"}}})
	total.Add(Tally{Total: 1, Skipped: 1, ImagesAnalyzed: 0})
	assert.Equal(t, Tally{Total: 4, Processed: 2, Failed: 1, Skipped: 1, Errors: []ItemError{{UID: "x", Error: "boom"}}}, total)
}
