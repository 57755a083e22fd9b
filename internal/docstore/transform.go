package docstore

import (
	"reflect"
)

// ArrayUnion appends each value not already present in the array field.
type ArrayUnion struct {
	Values []any
}

// ArrayRemove removes every occurrence of each value from the array field.
type ArrayRemove struct {
	Values []any
}

// Union builds an ArrayUnion transform.
func Union(values ...any) ArrayUnion { return ArrayUnion{Values: values} }

// Remove builds an ArrayRemove transform.
func Remove(values ...any) ArrayRemove { return ArrayRemove{Values: values} }

// Apply merges update into doc and returns the result. doc is not modified.
// Backends that cannot express transforms natively read, Apply, and write
// back inside their own transaction.
func Apply(doc, update Document) Document {
	out := make(Document, len(doc)+len(update))
	for k, v := range doc {
		out[k] = v
	}
	for field, v := range update {
		switch t := v.(type) {
		case ArrayUnion:
			arr := toSlice(out[field])
			for _, val := range t.Values {
				if !containsValue(arr, val) {
					arr = append(arr, val)
				}
			}
			out[field] = arr
		case ArrayRemove:
			arr := toSlice(out[field])
			kept := make([]any, 0, len(arr))
			for _, el := range arr {
				if !containsValue(t.Values, el) {
					kept = append(kept, el)
				}
			}
			out[field] = kept
		default:
			out[field] = v
		}
	}
	return out
}

// Contains reports whether the array field of doc holds value.
func Contains(doc Document, field string, value any) bool {
	return containsValue(toSlice(doc[field]), value)
}

// Matches reports whether doc satisfies every filter.
func Matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if f.ArrayContains != nil && !Contains(doc, f.Field, f.ArrayContains) {
			return false
		}
	}
	return true
}

func toSlice(v any) []any {
	switch arr := v.(type) {
	case nil:
		return []any{}
	case []any:
		out := make([]any, len(arr))
		copy(out, arr)
		return out
	case []string:
		out := make([]any, len(arr))
		for i, s := range arr {
			out[i] = s
		}
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func containsValue(arr []any, value any) bool {
	for _, el := range arr {
		if reflect.DeepEqual(el, value) {
			return true
		}
	}
	return false
}
