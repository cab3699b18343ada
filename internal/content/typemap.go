package content

import (
	"sort"
	"strings"
)

// Category is one of the four display categories used for search filters.
type Category string

const (
	Article Category = "article"
	Product Category = "product"
	Media   Category = "media"
	Video   Category = "video"
)

// Categories lists every display category.
var Categories = []Category{Article, Product, Media, Video}

// typeDictionary maps known CMS content-type names to a category. Generic
// names such as "content" and "page" fall to the Article default instead,
// so they never shadow a more specific key.
var typeDictionary = map[string]Category{
	"article":       Article,
	"blog":          Article,
	"blog_post":     Article,
	"news":          Article,
	"post":          Article,
	"story":         Article,
	"guide":         Article,
	"tutorial":      Article,
	"faq":           Article,
	"landing_page":  Article,
	"product":       Product,
	"item":          Product,
	"goods":         Product,
	"merchandise":   Product,
	"smartphone":    Product,
	"electronics":   Product,
	"watch":         Product,
	"apparel":       Product,
	"shoe":          Product,
	"sku":           Product,
	"media":         Media,
	"image":         Media,
	"asset":         Media,
	"gallery":       Media,
	"photo":         Media,
	"picture":       Media,
	"illustration":  Media,
	"video":         Video,
	"movie":         Video,
	"film":          Video,
	"clip":          Video,
	"episode":       Video,
	"webinar":       Video,
	"trailer":       Video,
	"video_gallery": Video,
}

// substringKeys are dictionary keys ordered longest first, then
// alphabetically, so overlapping matches resolve the same way every time.
var substringKeys = func() []string {
	keys := make([]string, 0, len(typeDictionary))
	for k := range typeDictionary {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

var typeHeuristics = []struct {
	fragment string
	category Category
}{
	{"vid", Video},
	{"img", Media},
	{"pic", Media},
	{"prod", Product},
	{"shop", Product},
	{"buy", Product},
}

// MapContentType maps a raw content-type identifier to a display category:
// exact dictionary match, then dictionary substring match, then coarse
// keyword heuristics, then Article. It is total and pure.
func MapContentType(raw string) Category {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return Article
	}
	if c, ok := typeDictionary[id]; ok {
		return c
	}
	for _, key := range substringKeys {
		if strings.Contains(id, key) {
			return typeDictionary[key]
		}
	}
	for _, h := range typeHeuristics {
		if strings.Contains(id, h.fragment) {
			return h.category
		}
	}
	return Article
}

// ParseCategory returns the category named s, if it is one.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}
