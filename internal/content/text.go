package content

import (
	"regexp"
	"strings"
)

const (
	// MaxTextLength caps extracted text, in characters, before cleaning.
	MaxTextLength = 8000

	// MinTextLength is the shortest cleaned text worth embedding.
	MinTextLength = 10
)

var (
	leadingFields  = []string{"title", "description", "summary"}
	richTextFields = []string{"body", "content", "rich_text_editor"}
	extraFields    = []string{"excerpt", "overview", "introduction", "subtitle"}

	htmlTagRe      = regexp.MustCompile(`<[^>]*>`)
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	markdownMarkRe = regexp.MustCompile("[#*_`]")
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// ExtractText concatenates an entry's searchable fields into one string,
// capped at MaxTextLength characters. The result is not cleaned.
func ExtractText(e Entry) string {
	var parts []string
	add := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}

	for _, name := range leadingFields {
		if s, ok := e.Field(name).Scalar(); ok {
			add(s)
		}
	}
	for _, name := range richTextFields {
		add(richText(e.Field(name)))
	}
	for _, name := range extraFields {
		add(e.String(name))
	}
	add(strings.Join(Tags(e), " "))
	add(labelOf(e.Field("category")))

	return truncateRunes(strings.Join(parts, " "), MaxTextLength)
}

// richText returns a plain string as is, or the space-joined text leaves of a
// rich-text tree in document order. Trees decoded from JSON cannot contain
// cycles, so no visited set is kept.
func richText(v Value) string {
	var texts []string
	var walk func(Value)
	walk = func(v Value) {
		switch v.Kind() {
		case KindString:
			s, _ := v.Str()
			texts = append(texts, s)
		case KindArray:
			items, _ := v.Array()
			for _, item := range items {
				walk(item)
			}
		case KindObject:
			node, _ := v.Object()
			if s := node.String("text"); s != "" {
				texts = append(texts, s)
			}
			if children := node.Field("children"); children.Kind() == KindArray {
				walk(children)
			}
		}
	}
	walk(v)
	return strings.Join(texts, " ")
}

// Tags flattens the tags field. Strings are split on commas; object items
// contribute their name, title or uid.
func Tags(e Entry) []string {
	v := e.Field("tags")
	var out []string
	switch v.Kind() {
	case KindString:
		s, _ := v.Str()
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	case KindArray:
		items, _ := v.Array()
		for _, item := range items {
			if t := strings.TrimSpace(labelOf(item)); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

// Label renders the named field as a scalar, or the name/title/uid of an
// object such as a referenced entry. Returns "" otherwise.
func (e Entry) Label(name string) string {
	return strings.TrimSpace(labelOf(e.Field(name)))
}

// labelOf renders a scalar, or the name/title/uid of an object.
func labelOf(v Value) string {
	if s, ok := v.Scalar(); ok {
		return s
	}
	if obj, ok := v.Object(); ok {
		for _, key := range []string{"name", "title", "uid"} {
			if s := obj.String(key); s != "" {
				return s
			}
		}
	}
	return ""
}

// CleanText strips HTML tags and markdown syntax and collapses whitespace.
func CleanText(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = markdownLinkRe.ReplaceAllString(s, "$1")
	s = markdownMarkRe.ReplaceAllString(s, "")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Snippet truncates text to n characters, appending an ellipsis when cut.
func Snippet(text string, n int) string {
	if len([]rune(text)) <= n {
		return text
	}
	return truncateRunes(text, n) + "..."
}

func truncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
