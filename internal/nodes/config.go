package nodes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rendis/autoflow/pkg/schema"
)

// configError reports a bad node config at load time.
func configError(spec schema.NodeSpec, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, format, args...).WithNode(spec.ID)
}

func str(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func boolean(cfg map[string]any, key string, def bool) bool {
	if b, ok := cfg[key].(bool); ok {
		return b
	}
	return def
}

func strMap(cfg map[string]any, key string) map[string]any {
	m, _ := cfg[key].(map[string]any)
	return m
}

// duration accepts a Go duration string or a number of milliseconds.
func duration(cfg map[string]any, key string) (time.Duration, error) {
	switch v := cfg[key].(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		return time.ParseDuration(v)
	case int:
		return time.Duration(v) * time.Millisecond, nil
	case int64:
		return time.Duration(v) * time.Millisecond, nil
	case float64:
		return time.Duration(v * float64(time.Millisecond)), nil
	default:
		return 0, fmt.Errorf("%s: expected duration string or milliseconds, got %T", key, v)
	}
}

// decode converts a config value into a typed value through JSON.
func decode(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
