package rest

import (
	"fmt"
	"net/url"
	"reflect"
	"time"
)

// TimeFormat is the ISO 8601 shape the chat API uses for timestamps, with
// millisecond precision and an explicit Z zone.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Query holds request parameters. Nested maps encode with bracket notation,
// so Query{"filter": Query{"updatedAfter": t}} becomes
// filter[updatedAfter]=…; slices repeat the key with a [] suffix. Nil values
// are skipped entirely.
type Query map[string]any

// Values flattens the query into url.Values ready for encoding.
func (q Query) Values() url.Values {
	values := make(url.Values)
	for key, v := range q {
		addQueryValue(values, key, v)
	}
	return values
}

func addQueryValue(values url.Values, key string, v any) {
	if v == nil {
		return
	}
	switch tv := v.(type) {
	case Query:
		for sub, sv := range tv {
			addQueryValue(values, key+"["+sub+"]", sv)
		}
		return
	case map[string]any:
		for sub, sv := range tv {
			addQueryValue(values, key+"["+sub+"]", sv)
		}
		return
	case time.Time:
		values.Add(key, tv.UTC().Format(TimeFormat))
		return
	case *time.Time:
		if tv != nil {
			values.Add(key, tv.UTC().Format(TimeFormat))
		}
		return
	case string:
		values.Add(key, tv)
		return
	case bool:
		values.Add(key, fmt.Sprintf("%t", tv))
		return
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			addQueryValue(values, key+"[]", rv.Index(i).Interface())
		}
	case reflect.Ptr:
		if !rv.IsNil() {
			addQueryValue(values, key, rv.Elem().Interface())
		}
	default:
		values.Add(key, fmt.Sprint(v))
	}
}
