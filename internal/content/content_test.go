package content

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) Entry {
	t.Helper()
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	return e
}

func TestExtractText_FieldOrder(t *testing.T) {
	e := decode(t, `{
		"title": "Red Running Shoe",
		"description": "Lightweight trainer",
		"summary": "For daily miles",
		"body": "<p>Breathable <b>mesh</b> upper</p>",
		"excerpt": "Fast",
		"subtitle": "2024 edition",
		"tags": ["running", {"name": "sport"}],
		"category": {"title": "Footwear"}
	}`)

	got := CleanText(ExtractText(e))
	assert.Equal(t,
		"Red Running Shoe Lightweight trainer For daily miles Breathable mesh upper Fast 2024 edition running sport Footwear",
		got)
}

func TestExtractText_RichTextTree(t *testing.T) {
	e := decode(t, `{
		"title": "Guide",
		"content": {
			"type": "doc",
			"children": [
				{"type": "p", "children": [{"text": "first"}, {"text": "second"}]},
				{"type": "p", "children": [{"type": "a", "children": [{"text": "third"}]}]}
			]
		}
	}`)

	assert.Equal(t, "Guide first second third", ExtractText(e))
}

func TestExtractText_Caps(t *testing.T) {
	e := Entry{"title": strings.Repeat("é", MaxTextLength+50)}
	got := ExtractText(e)
	assert.Len(t, []rune(got), MaxTextLength)
}

func TestExtractText_IgnoresWrongShapes(t *testing.T) {
	e := Entry{"title": 42.0, "description": []any{"x"}, "excerpt": map[string]any{"a": "b"}}
	assert.Equal(t, "42", ExtractText(e))
}

func TestCleanText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<h1>Hello</h1><p>world</p>", "Hello world"},
		{"See [the docs](https://example.com/docs) now", "See the docs now"},
		{"# Title with *bold* and `code` and _em_", "Title with bold and code and em"},
		{"  spaced \n\t out  ", "spaced out"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanText(tt.in), tt.in)
	}
}

func TestTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Tags(Entry{"tags": "a, b,,c"}))
	assert.Equal(t, []string{"x", "y", "z"}, Tags(decode(t, `{"tags": ["x", {"title": "y"}, {"uid": "z"}, {}]}`)))
	assert.Nil(t, Tags(Entry{}))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short", Snippet("short", 300))
	assert.Equal(t, "abc...", Snippet("abcdef", 3))
}

func TestDocument_Indexable(t *testing.T) {
	assert.False(t, Extract(Entry{"uid": "u1", "title": "Hi"}, "blog", "en-us").Indexable())
	assert.True(t, Extract(Entry{"uid": "u1", "title": "Hello there world"}, "blog", "en-us").Indexable())
}

func TestKey(t *testing.T) {
	doc := Extract(Entry{"uid": "blt1"}, "product", "fr-fr")
	assert.Equal(t, "blt1_fr-fr", doc.Key())
	assert.Equal(t, Product, doc.MappedType)
}

func TestValue_Kinds(t *testing.T) {
	e := decode(t, `{"s": "x", "o": {}, "a": [], "n": 1, "b": false, "z": null}`)
	assert.Equal(t, KindString, e.Field("s").Kind())
	assert.Equal(t, KindObject, e.Field("o").Kind())
	assert.Equal(t, KindArray, e.Field("a").Kind())
	assert.Equal(t, KindOther, e.Field("n").Kind())
	assert.Equal(t, KindAbsent, e.Field("z").Kind())
	assert.Equal(t, KindAbsent, e.Field("missing").Kind())
	assert.False(t, e.Field("b").Truthy())
	assert.True(t, e.Field("n").Truthy())
}

func TestEntry_Keys(t *testing.T) {
	e := Entry{"uid": "1", "_version": 2, "title": "t"}
	assert.Equal(t, []string{"title", "uid"}, e.SortedKeys())
}

func TestEntry_Label(t *testing.T) {
	e := Entry{
		"category": map[string]any{"uid": "blt9", "title": "Footwear"},
		"author":   []any{map[string]any{"name": "Ana"}},
		"price":    49.99,
		"brand":    " Acme ",
	}
	assert.Equal(t, "Footwear", e.Label("category"))
	assert.Equal(t, "", e.Label("author"))
	assert.Equal(t, "49.99", e.Label("price"))
	assert.Equal(t, "Acme", e.Label("brand"))
	assert.Equal(t, "", e.Label("missing"))
}
