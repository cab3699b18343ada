package vectorstore

import (
	"fmt"
	"sort"
)

// Condition restricts a metadata field to a set of values.
type Condition struct {
	Field  string
	Values []string
}

// Filter is a conjunction of IN conditions. The zero value matches everything.
type Filter struct {
	Conditions []Condition
}

// In returns a copy of f with an added condition. Empty value lists are
// dropped so an empty selection means "no restriction".
func (f Filter) In(field string, values ...string) Filter {
	if len(values) == 0 {
		return f
	}
	out := Filter{Conditions: make([]Condition, 0, len(f.Conditions)+1)}
	out.Conditions = append(out.Conditions, f.Conditions...)
	out.Conditions = append(out.Conditions, Condition{Field: field, Values: append([]string(nil), values...)})
	return out
}

// Empty reports whether the filter has no conditions.
func (f Filter) Empty() bool {
	return len(f.Conditions) == 0
}

// Matches reports whether metadata satisfies every condition.
func (f Filter) Matches(metadata map[string]any) bool {
	for _, c := range f.Conditions {
		v, ok := metadata[c.Field]
		if !ok {
			return false
		}
		s := metadataString(v)
		found := false
		for _, want := range c.Values {
			if s == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// exact returns the filter as an equality map when every condition has a
// single value and fields do not repeat.
func (f Filter) exact() (map[string]string, bool) {
	where := make(map[string]string, len(f.Conditions))
	for _, c := range f.Conditions {
		if len(c.Values) != 1 {
			return nil, false
		}
		if _, dup := where[c.Field]; dup {
			return nil, false
		}
		where[c.Field] = c.Values[0]
	}
	return where, true
}

// String renders the filter for logs and span attributes.
func (f Filter) String() string {
	if f.Empty() {
		return "all"
	}
	parts := make([]string, len(f.Conditions))
	for i, c := range f.Conditions {
		parts[i] = fmt.Sprintf("%s IN %v", c.Field, c.Values)
	}
	sort.Strings(parts)
	return fmt.Sprint(parts)
}

func metadataString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
