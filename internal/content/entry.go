// Package content turns arbitrarily shaped CMS entries into searchable
// documents: plain text, image URLs and a display category.
//
// Entries are decoded JSON with no fixed schema, so every field access goes
// through Value, which reports what kind of data (if any) a field holds.
package content

import (
	"fmt"
	"strconv"
)

// Entry is a CMS entry as decoded from JSON.
type Entry map[string]any

// Kind classifies the shape of a field value.
type Kind int

const (
	KindAbsent Kind = iota
	KindString
	KindObject
	KindArray
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "other"
	}
}

// Value is a presence-checked view of one field.
type Value struct {
	kind Kind
	raw  any
}

// ValueOf wraps a decoded JSON value. nil is absent.
func ValueOf(v any) Value {
	switch v.(type) {
	case nil:
		return Value{kind: KindAbsent}
	case string:
		return Value{kind: KindString, raw: v}
	case map[string]any, Entry:
		return Value{kind: KindObject, raw: v}
	case []any:
		return Value{kind: KindArray, raw: v}
	default:
		return Value{kind: KindOther, raw: v}
	}
}

// Kind returns the value's shape.
func (v Value) Kind() Kind { return v.kind }

// Present reports whether the field exists and is not null.
func (v Value) Present() bool { return v.kind != KindAbsent }

// Raw returns the underlying decoded value.
func (v Value) Raw() any { return v.raw }

// Str returns the string when the value is a string.
func (v Value) Str() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

// Object returns the value as an Entry when it is a JSON object.
func (v Value) Object() (Entry, bool) {
	switch m := v.raw.(type) {
	case map[string]any:
		return Entry(m), true
	case Entry:
		return m, true
	}
	return nil, false
}

// Array returns the elements when the value is a JSON array.
func (v Value) Array() ([]Value, bool) {
	items, ok := v.raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(items))
	for i, item := range items {
		out[i] = ValueOf(item)
	}
	return out, true
}

// Truthy mirrors JSON truthiness: absent, empty strings, false and zero are false.
func (v Value) Truthy() bool {
	switch r := v.raw.(type) {
	case nil:
		return false
	case string:
		return r != ""
	case bool:
		return r
	case float64:
		return r != 0
	case int:
		return r != 0
	}
	return true
}

// Scalar renders strings, numbers and booleans as text. Objects and arrays
// report false.
func (v Value) Scalar() (string, bool) {
	switch r := v.raw.(type) {
	case string:
		return r, true
	case float64:
		return strconv.FormatFloat(r, 'f', -1, 64), true
	case int:
		return strconv.Itoa(r), true
	case int64:
		return strconv.FormatInt(r, 10), true
	case bool:
		return strconv.FormatBool(r), true
	}
	return "", false
}

// Field returns the named field.
func (e Entry) Field(name string) Value {
	if e == nil {
		return Value{}
	}
	return ValueOf(e[name])
}

// String returns the named field when it is a string, or "".
func (e Entry) String(name string) string {
	s, _ := e.Field(name).Str()
	return s
}

// UID returns the entry's uid.
func (e Entry) UID() string {
	return e.String("uid")
}

// Title returns the title, falling back to name.
func (e Entry) Title() string {
	if t := e.String("title"); t != "" {
		return t
	}
	return e.String("name")
}

// Locale returns the entry's locale or def.
func (e Entry) Locale(def string) string {
	if l := e.String("locale"); l != "" {
		return l
	}
	return def
}

// ContentType returns content_type_uid, or _content_type_uid as delivered by
// the CDN.
func (e Entry) ContentType() string {
	if ct := e.String("content_type_uid"); ct != "" {
		return ct
	}
	return e.String("_content_type_uid")
}

// Keys returns the field names that do not start with an underscore.
func (e Entry) Keys() []string {
	keys := make([]string, 0, len(e))
	for k := range e {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// Document is the searchable projection of one entry.
type Document struct {
	UID            string
	ContentTypeRaw string
	Locale         string
	Text           string
	ImageURLs      []string
	MappedType     Category
}

// Indexable reports whether the document has enough text to embed.
func (d Document) Indexable() bool {
	return len([]rune(d.Text)) >= MinTextLength
}

// PrimaryImage returns the first image URL, or "".
func (d Document) PrimaryImage() string {
	if len(d.ImageURLs) == 0 {
		return ""
	}
	return d.ImageURLs[0]
}

// Key returns the vector index key for the document.
func (d Document) Key() string {
	return Key(d.UID, d.Locale)
}

// Key builds the composite index key "{uid}_{locale}".
func Key(uid, locale string) string {
	return fmt.Sprintf("%s_%s", uid, locale)
}

// Extract builds a Document from an entry.
func Extract(e Entry, contentTypeRaw, locale string) Document {
	return Document{
		UID:            e.UID(),
		ContentTypeRaw: contentTypeRaw,
		Locale:         locale,
		Text:           CleanText(ExtractText(e)),
		ImageURLs:      ExtractImages(e),
		MappedType:     MapContentType(contentTypeRaw),
	}
}
