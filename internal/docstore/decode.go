package docstore

import (
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Decode copies doc into out (a pointer to a struct) using json tags.
// Decoding is weakly typed: backends hand back JSON numbers as float64,
// timestamps as strings and bitmasks as decimal strings, and all of them
// land in their typed fields.
func Decode(doc Document, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
			unixMillisToTimeHook(),
		),
	})
	if err != nil {
		return errors.Wrap(err, "creating decoder")
	}
	if err := dec.Decode(map[string]any(doc)); err != nil {
		return errors.Wrap(err, "decoding document")
	}
	return nil
}

// unixMillisToTimeHook accepts timestamps some clients store as epoch
// milliseconds.
func unixMillisToTimeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Time{}) {
			return data, nil
		}
		switch v := data.(type) {
		case int64:
			return time.UnixMilli(v).UTC(), nil
		case float64:
			return time.UnixMilli(int64(v)).UTC(), nil
		}
		return data, nil
	}
}
