package acme

import (
	"encoding/json"
	"fmt"
	"time"
)

// JSON is a read-only navigable view over a decoded JSON object, used to
// parse ACME responses whose exact shape varies by CA (directory meta,
// problem document extensions, challenge objects) without forcing every
// caller to define a bespoke struct first.
//
// A zero JSON (nil map) is valid and behaves as an empty object: every
// accessor returns its zero value and ok=false.
type JSON struct {
	raw  json.RawMessage
	data map[string]interface{}
}

// ParseJSON decodes raw into a JSON view. raw must be a JSON object; any
// other top-level shape (array, scalar) is an error.
func ParseJSON(raw []byte) (JSON, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return JSON{}, fmt.Errorf("acme: not a json object: %w", err)
	}
	return JSON{raw: append(json.RawMessage(nil), raw...), data: data}, nil
}

// Raw returns the original bytes this view was parsed from.
func (j JSON) Raw() json.RawMessage { return j.raw }

// Has reports whether key is present in the object.
func (j JSON) Has(key string) bool {
	_, ok := j.data[key]
	return ok
}

// String returns the string value of key, or "" if absent or not a string.
func (j JSON) String(key string) string {
	s, _ := j.data[key].(string)
	return s
}

// StringOK returns the string value of key and whether it was present and
// of string type.
func (j JSON) StringOK(key string) (string, bool) {
	s, ok := j.data[key].(string)
	return s, ok
}

// Bool returns the bool value of key, or false if absent or not a bool.
func (j JSON) Bool(key string) bool {
	b, _ := j.data[key].(bool)
	return b
}

// Int returns the int value of key, truncating any fractional part. Returns
// 0 if absent or not a number.
func (j JSON) Int(key string) int {
	f, _ := j.data[key].(float64)
	return int(f)
}

// Time parses the string value of key as RFC 3339, returning the zero
// time.Time if absent or unparsable.
func (j JSON) Time(key string) time.Time {
	s, ok := j.data[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Array returns the array value of key as a slice of JSON views. Non-object
// elements are skipped. Returns nil if absent or not an array.
func (j JSON) Array(key string) []JSON {
	raw, ok := j.data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]JSON, 0, len(raw))
	for _, elem := range raw {
		m, ok := elem.(map[string]interface{})
		if !ok {
			continue
		}
		b, err := json.Marshal(m)
		if err != nil {
			continue
		}
		out = append(out, JSON{raw: b, data: m})
	}
	return out
}

// StringArray returns the array value of key as a slice of strings.
// Non-string elements are skipped. Returns nil if absent or not an array.
func (j JSON) StringArray(key string) []string {
	raw, ok := j.data[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, elem := range raw {
		if s, ok := elem.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Object returns the object value of key as a nested JSON view. Returns a
// zero JSON, ok=false if absent or not an object.
func (j JSON) Object(key string) (JSON, bool) {
	m, ok := j.data[key].(map[string]interface{})
	if !ok {
		return JSON{}, false
	}
	b, err := json.Marshal(m)
	if err != nil {
		return JSON{}, false
	}
	return JSON{raw: b, data: m}, true
}

// Into unmarshals the raw bytes of this view into v, for callers that want
// to drop from the navigable view back into a concrete struct.
func (j JSON) Into(v interface{}) error {
	return json.Unmarshal(j.raw, v)
}

// Keys returns the object's member names in no particular order.
func (j JSON) Keys() []string {
	keys := make([]string, 0, len(j.data))
	for k := range j.data {
		keys = append(keys, k)
	}
	return keys
}
