package content

import (
	"strings"
)

// imageFields are checked in order; earlier fields win the primary slot.
var imageFields = []string{
	"image", "featured_image", "banner_image", "thumbnail", "photo", "picture",
	"media", "product_image", "media_file", "asset", "file",
}

// imageArrayFields hold lists of asset references.
var imageArrayFields = []string{"images", "gallery"}

// assetHosts mark a bare string as a CMS asset URL. Other bare strings
// must be absolute URLs with an image extension.
var assetHosts = []string{"contentstack.io", "contentstack.com"}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".svg"}

// ExtractImages returns the entry's image URLs, normalized to HTTPS and
// de-duplicated case-insensitively in first-seen order. Element 0 is the
// primary image.
func ExtractImages(e Entry) []string {
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(url string) {
		if url == "" {
			return
		}
		url = NormalizeURL(url)
		key := strings.ToLower(url)
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, url)
	}

	for _, name := range imageFields {
		add(assetURL(e.Field(name)))
	}
	for _, name := range imageArrayFields {
		items, ok := e.Field(name).Array()
		if !ok {
			continue
		}
		for _, item := range items {
			add(assetURL(item))
		}
	}
	return out
}

// assetURL returns the image URL referenced by a field value, or "".
func assetURL(v Value) string {
	switch v.Kind() {
	case KindString:
		s, _ := v.Str()
		s = strings.TrimSpace(s)
		if isAssetHost(s) || (isAbsoluteURL(s) && hasImageExtension(s)) {
			return s
		}
	case KindObject:
		obj, _ := v.Object()
		if u := obj.String("url"); u != "" {
			if IsImageURL(u) {
				return u
			}
			return ""
		}
		if h := obj.String("href"); h != "" && IsImageURL(h) {
			return h
		}
	}
	return ""
}

func isAssetHost(s string) bool {
	lower := strings.ToLower(s)
	for _, host := range assetHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// isAbsoluteURL accepts http, https and protocol-relative URLs.
func isAbsoluteURL(s string) bool {
	return hasPrefixFold(s, "https://") || hasPrefixFold(s, "http://") || strings.HasPrefix(s, "//")
}

func hasImageExtension(url string) bool {
	lower := strings.ToLower(url)
	for _, ext := range imageExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// IsImageURL reports whether a URL looks like an image rather than a
// document: a known image extension, an /images/ path, or "image" anywhere.
func IsImageURL(url string) bool {
	if url == "" {
		return false
	}
	if hasImageExtension(url) {
		return true
	}
	lower := strings.ToLower(url)
	return strings.Contains(lower, "/images/") || strings.Contains(lower, "image")
}

// NormalizeURL upgrades http:// and protocol-relative URLs to https://.
// It is idempotent.
func NormalizeURL(url string) string {
	url = strings.TrimSpace(url)
	switch {
	case hasPrefixFold(url, "https://"):
		return url
	case hasPrefixFold(url, "http://"):
		return "https://" + url[len("http://"):]
	case strings.HasPrefix(url, "//"):
		return "https:" + url
	}
	return url
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}
