package core

import (
	"fmt"
	"strconv"
	"strings"
)

// Spec is the caller-supplied configuration payload of one tunnel. Its keys
// are backend specific; adapters validate only the fields they need.
type Spec map[string]any

// Lookup returns the value stored under key. Nil values and empty strings are
// reported as absent.
func (s Spec) Lookup(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s[key]
	if !ok || v == nil {
		return nil, false
	}
	if str, isStr := v.(string); isStr && str == "" {
		return nil, false
	}
	return v, true
}

// String returns the value under key as a trimmed string, or "" if absent.
func (s Spec) String(key string) string {
	v, ok := s.Lookup(key)
	if !ok {
		return ""
	}
	if str, isStr := v.(string); isStr {
		return strings.TrimSpace(str)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// FirstString returns the first non-empty string among keys.
func (s Spec) FirstString(keys ...string) string {
	for _, key := range keys {
		if v := s.String(key); v != "" {
			return v
		}
	}
	return ""
}

// Bool interprets the value under key as a flag. Strings are parsed with
// strconv.ParseBool and numbers are true when non-zero.
func (s Spec) Bool(key string) bool {
	v, ok := s.Lookup(key)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case int:
		return t != 0
	case int64:
		return t != 0
	case uint64:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}

// Sub returns the nested mapping stored under key, or nil.
func (s Spec) Sub(key string) Spec {
	v, ok := s.Lookup(key)
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case Spec:
		return t
	case map[string]any:
		return Spec(t)
	case map[any]any:
		out := make(Spec, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = val
		}
		return out
	}
	return nil
}

// Clone returns a shallow copy of s.
func (s Spec) Clone() Spec {
	if s == nil {
		return nil
	}
	out := make(Spec, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
