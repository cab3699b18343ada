package search

import "strings"

// visualKeywords are words that suggest the user is searching by appearance.
var visualKeywords = []string{
	// colors
	"red", "blue", "green", "yellow", "black", "white", "brown", "pink", "purple", "orange", "gray", "grey",
	"silver", "gold", "navy", "maroon", "crimson", "scarlet", "burgundy",
	// descriptors
	"color", "colored", "bright", "dark", "light",
	"stripe", "striped", "pattern", "design", "logo", "symbol",
	"round", "square", "circular", "rectangular",
	"texture", "material", "fabric", "leather", "metal",
	// objects
	"shoe", "shoes", "sneaker", "sneakers", "boot", "boots",
	"container", "bottle", "packaging", "box",
	"clothing", "shirt", "dress", "pants", "jacket",
	"appearance", "look", "style", "visual",
}

// Classification is the visual-query verdict for one query.
type Classification struct {
	IsVisual   bool     `json:"isVisualQuery"`
	Confidence float64  `json:"visualConfidence"`
	Keywords   []string `json:"matchedVisualKeywords"`
}

// Classify reports whether query reads as a visual search. Keywords are
// matched as lowercase substrings. A keyword whose every occurrence sits
// inside an occurrence of a longer matched keyword is folded into it, so
// "sneakers" counts once rather than also matching "sneaker". Confidence is
// the match count over three, capped at one.
func Classify(query string) Classification {
	q := strings.ToLower(query)

	type hit struct {
		keyword string
		spans   [][2]int
	}
	var hits []hit
	for _, kw := range visualKeywords {
		if spans := occurrences(q, kw); len(spans) > 0 {
			hits = append(hits, hit{keyword: kw, spans: spans})
		}
	}

	keywords := []string{}
	for i, h := range hits {
		folded := true
		for _, s := range h.spans {
			covered := false
			for j, other := range hits {
				if j == i || len(other.keyword) <= len(h.keyword) {
					continue
				}
				if coveredBy(s, other.spans) {
					covered = true
					break
				}
			}
			if !covered {
				folded = false
				break
			}
		}
		if !folded {
			keywords = append(keywords, h.keyword)
		}
	}

	return Classification{
		IsVisual:   len(keywords) > 0,
		Confidence: min(float64(len(keywords))/3, 1),
		Keywords:   keywords,
	}
}

// occurrences returns the [start, end) byte spans of every, possibly
// overlapping, occurrence of sub in s.
func occurrences(s, sub string) [][2]int {
	var spans [][2]int
	for from := 0; from <= len(s)-len(sub); {
		i := strings.Index(s[from:], sub)
		if i < 0 {
			break
		}
		start := from + i
		spans = append(spans, [2]int{start, start + len(sub)})
		from = start + 1
	}
	return spans
}

func coveredBy(span [2]int, spans [][2]int) bool {
	for _, o := range spans {
		if o[0] <= span[0] && span[1] <= o[1] {
			return true
		}
	}
	return false
}
