package frame

import (
	"errors"
	"reflect"
	"regexp"
)

// TypeAny is the wildcard type. A filter whose Type is TypeAny matches every
// frame name.
const TypeAny = "*"

// ErrEmptyFilter is returned when a filter constrains nothing. Such a filter
// would match every frame, which is never what a waiter wants; callers that
// need the full stream subscribe to it directly instead of registering a
// filter.
var ErrEmptyFilter = errors.New("frame: filter constrains nothing")

// Filter is a conjunctive predicate over inbound frames. Populated fields must
// all hold for a frame to match: the name (exact, regexp, or wildcard), the
// nonce, and a subset requirement on the contents.
type Filter struct {
	Type       string
	TypeRegexp *regexp.Regexp
	Nonce      *int64
	Contents   map[string]any
}

// ByType returns a filter matching frames with the given name.
func ByType(name string) Filter {
	return Filter{Type: name}
}

// ByNonce returns a filter matching the frame correlated to the given nonce.
func ByNonce(nonce int64) Filter {
	return Filter{Nonce: &nonce}
}

// IsZero reports whether no field of the filter is populated.
func (f Filter) IsZero() bool {
	return f.Type == "" && f.TypeRegexp == nil && f.Nonce == nil && len(f.Contents) == 0
}

// Validate rejects filters that constrain nothing.
func (f Filter) Validate() error {
	if f.IsZero() {
		return ErrEmptyFilter
	}
	return nil
}

// Match reports whether the frame satisfies every populated field of the
// filter. Contents are compared with subset semantics: the frame may carry
// more keys than the filter names. A frame whose contents cannot be decoded
// does not match a contents filter.
func (f Filter) Match(fr *Frame) bool {
	if f.IsZero() {
		return false
	}
	switch {
	case f.Type == "" || f.Type == TypeAny:
	case f.Type != fr.Name:
		return false
	}
	if f.TypeRegexp != nil && !f.TypeRegexp.MatchString(fr.Name) {
		return false
	}
	if f.Nonce != nil {
		if fr.Nonce == nil || *fr.Nonce != *f.Nonce {
			return false
		}
	}
	if len(f.Contents) > 0 {
		got, err := fr.ContentsMap()
		if err != nil {
			return false
		}
		if !IsSubset(f.Contents, got) {
			return false
		}
	}
	return true
}

// IsSubset reports whether every key of sub is present in super with an equal
// value. Nested maps recurse with subset semantics; arrays compare by length
// and element equality; numbers compare numerically so literals written as Go
// ints match JSON-decoded float64 values.
func IsSubset(sub, super map[string]any) bool {
	for k, want := range sub {
		got, ok := super[k]
		if !ok || !equalValue(want, got) {
			return false
		}
	}
	return true
}

func equalValue(want, got any) bool {
	if want == nil || got == nil {
		return want == nil && got == nil
	}
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		return ok && IsSubset(w, g)
	case string:
		g, ok := got.(string)
		return ok && w == g
	case bool:
		g, ok := got.(bool)
		return ok && w == g
	}
	if wf, ok := asFloat(want); ok {
		gf, gok := asFloat(got)
		return gok && wf == gf
	}
	if ws, ok := asSlice(want); ok {
		gs, gok := asSlice(got)
		if !gok || len(gs) != len(ws) {
			return false
		}
		for i := range ws {
			if !equalValue(ws[i], gs[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(want, got)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// asSlice widens typed slices so filters written with []int64 and friends
// compare against JSON-decoded []any values.
func asSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
