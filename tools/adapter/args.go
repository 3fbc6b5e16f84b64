package adapter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Args wraps a call's argument map with typed accessors. Accessors return the
// zero value when a key is absent or has an incompatible type.
type Args map[string]interface{}

// MissingArgumentError lists required arguments that were absent or empty.
type MissingArgumentError struct {
	Names []string
}

func (e *MissingArgumentError) Error() string {
	if len(e.Names) == 1 {
		return fmt.Sprintf("missing required argument: %s", e.Names[0])
	}
	return fmt.Sprintf("missing required arguments: %s", strings.Join(e.Names, ", "))
}

// Require checks that every key is present and not an empty string.
func (a Args) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		v, ok := a[k]
		if !ok || v == nil {
			missing = append(missing, k)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return &MissingArgumentError{Names: missing}
	}
	return nil
}

func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

func (a Args) String(key string) string {
	if v, ok := a[key]; ok {
		switch s := v.(type) {
		case string:
			return s
		case float64:
			return strconv.FormatFloat(s, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(s)
		}
	}
	return ""
}

func (a Args) StringOr(key, def string) string {
	if s := a.String(key); s != "" {
		return s
	}
	return def
}

func (a Args) Int(key string) int {
	if v, ok := a[key]; ok {
		switch f := v.(type) {
		case float64:
			return int(f)
		case int:
			return f
		case int64:
			return int(f)
		case json.Number:
			i, _ := f.Int64()
			return int(i)
		case string:
			i, _ := strconv.Atoi(strings.TrimSpace(f))
			return i
		}
	}
	return 0
}

func (a Args) IntOr(key string, def int) int {
	if !a.Has(key) {
		return def
	}
	return a.Int(key)
}

func (a Args) Float(key string) float64 {
	if v, ok := a[key]; ok {
		switch f := v.(type) {
		case float64:
			return f
		case int:
			return float64(f)
		case json.Number:
			x, _ := f.Float64()
			return x
		case string:
			x, _ := strconv.ParseFloat(strings.TrimSpace(f), 64)
			return x
		}
	}
	return 0
}

func (a Args) Bool(key string) bool {
	if v, ok := a[key]; ok {
		switch b := v.(type) {
		case bool:
			return b
		case string:
			parsed, _ := strconv.ParseBool(b)
			return parsed
		}
	}
	return false
}

// Strings accepts a JSON array of strings or a single comma-separated string.
func (a Args) Strings(key string) []string {
	v, ok := a[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, p := range strings.Split(list, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

func (a Args) Map(key string) map[string]interface{} {
	if m, ok := a[key].(map[string]interface{}); ok {
		return m
	}
	return nil
}

func (a Args) Slice(key string) []interface{} {
	if s, ok := a[key].([]interface{}); ok {
		return s
	}
	return nil
}

// Decode copies the arguments into v through JSON.
func (a Args) Decode(v interface{}) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// MissingCredentialError reports an unset configuration key a tool needs.
type MissingCredentialError struct {
	Key string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("%s is not configured", e.Key)
}

// RequireCredential returns a MissingCredentialError when value is empty.
func RequireCredential(key, value string) error {
	if strings.TrimSpace(value) == "" {
		return &MissingCredentialError{Key: key}
	}
	return nil
}
