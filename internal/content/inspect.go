package content

import "sort"

// FieldReport describes one image-candidate field of an entry.
type FieldReport struct {
	Field      string `json:"field"`
	Kind       string `json:"kind"`
	Value      any    `json:"value,omitempty"`
	URL        string `json:"url,omitempty"`
	IsImageURL bool   `json:"isImageUrl"`
	Accepted   bool   `json:"accepted"`
}

// InspectImageFields reports, for every image-candidate field present on the
// entry, what it holds and whether the extractor accepts it.
func InspectImageFields(e Entry) []FieldReport {
	var out []FieldReport
	for _, name := range imageFields {
		v := e.Field(name)
		if !v.Present() {
			continue
		}
		out = append(out, reportField(name, v))
	}
	for _, name := range imageArrayFields {
		items, ok := e.Field(name).Array()
		if !ok {
			continue
		}
		for _, item := range items {
			out = append(out, reportField(name+"[]", item))
		}
	}
	return out
}

func reportField(name string, v Value) FieldReport {
	r := FieldReport{Field: name, Kind: v.Kind().String(), Value: v.Raw()}
	switch v.Kind() {
	case KindString:
		r.URL, _ = v.Str()
	case KindObject:
		obj, _ := v.Object()
		r.URL = obj.String("url")
		if r.URL == "" {
			r.URL = obj.String("href")
		}
	}
	r.IsImageURL = IsImageURL(r.URL)
	r.Accepted = assetURL(v) != ""
	return r
}

// SortedKeys returns Keys in lexical order.
func (e Entry) SortedKeys() []string {
	keys := e.Keys()
	sort.Strings(keys)
	return keys
}
