package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// GetByPath retrieves a config value by dot-notation path, as the JSON file
// spells it (e.g. "translation.batchSize", "translation.failoverChain.0").
// Numbers come back as float64.
func GetByPath(cfg *Config, path string) (any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	r := gjson.GetBytes(data, path)
	if !r.Exists() {
		return nil, fmt.Errorf("key not found: %s", path)
	}
	return r.Value(), nil
}

// SetByPath sets a config value by dot-notation path. String values are
// coerced to bool or number when they parse as one. The parent of path must
// already exist, so typos fail instead of adding dead keys. On error cfg is
// left unchanged.
func SetByPath(cfg *Config, path string, value any) error {
	if path == "" {
		return fmt.Errorf("empty path")
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}

	if i := strings.LastIndexByte(path, '.'); i > 0 {
		if parent := gjson.GetBytes(data, path[:i]); !parent.IsObject() {
			return fmt.Errorf("key not found: %s", path[:i])
		}
	} else if !gjson.GetBytes(data, path).Exists() {
		return fmt.Errorf("key not found: %s", path)
	}

	updated, err := sjson.SetBytes(data, path, parseValue(value))
	if err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	var next Config
	if err := json.Unmarshal(updated, &next); err != nil {
		return fmt.Errorf("set %s: %w", path, err)
	}
	*cfg = next
	return nil
}

// parseValue tries to convert string values to appropriate Go types.
func parseValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}

	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// Sanitize returns a copy of the config with API keys and the redis password
// masked. Unexpanded ${VAR} references are shown as written.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var out Config
	if err := json.Unmarshal(data, &out); err != nil {
		return cfg
	}

	for name, prov := range out.Providers {
		if prov.APIKey != "" && !strings.HasPrefix(prov.APIKey, "${") {
			prov.APIKey = maskString(prov.APIKey)
		}
		out.Providers[name] = prov
	}

	if u, err := url.Parse(out.Storage.RedisURL); err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); hasPassword {
			u.User = url.UserPassword(u.User.Username(), "***")
			out.Storage.RedisURL = u.String()
		}
	}

	return &out
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every leaf path with its current value. Arrays are
// leaves.
func ListPaths(cfg *Config) map[string]any {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	result := make(map[string]any)
	collectLeaves("", gjson.ParseBytes(data), result)
	return result
}

func collectLeaves(prefix string, node gjson.Result, result map[string]any) {
	node.ForEach(func(key, val gjson.Result) bool {
		path := key.String()
		if prefix != "" {
			path = prefix + "." + path
		}
		if val.IsObject() {
			collectLeaves(path, val, result)
		} else {
			result[path] = val.Value()
		}
		return true
	})
}
