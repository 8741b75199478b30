package refine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

func toInt(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case uint32:
		return int64(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d out of range", n)
		}
		return int64(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("expected an integer, got %v", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expected an integer, got %q", n)
		}
		return i, nil
	case nil:
		return 0, errors.New("value is required")
	default:
		return 0, fmt.Errorf("expected an integer, got %T", v)
	}
}

func toString(v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case nil:
		return "", errors.New("value is required")
	case bool:
		return strconv.FormatBool(s), nil
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), nil
	case int, int32, int64, uint, uint32, uint64, json.Number:
		return fmt.Sprint(s), nil
	default:
		return "", fmt.Errorf("expected a string, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return false, fmt.Errorf("expected a boolean, got %q", b)
		}
		return parsed, nil
	case nil:
		return false, errors.New("value is required")
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}

// toPair accepts "KEY=value" or an object with name/key and value fields.
func toPair(v any) (string, string, error) {
	switch p := v.(type) {
	case string:
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return "", "", fmt.Errorf("expected KEY=value, got %q", p)
		}
		return key, value, nil
	case map[string]any:
		key, _ := p["name"].(string)
		if key == "" {
			key, _ = p["key"].(string)
		}
		if strings.TrimSpace(key) == "" {
			return "", "", errors.New("expected an object with name and value")
		}
		value, err := toString(p["value"])
		if err != nil {
			value = ""
		}
		return strings.TrimSpace(key), value, nil
	case map[string]string:
		key := p["name"]
		if key == "" {
			key = p["key"]
		}
		if strings.TrimSpace(key) == "" {
			return "", "", errors.New("expected an object with name and value")
		}
		return strings.TrimSpace(key), p["value"], nil
	case nil:
		return "", "", errors.New("value is required")
	default:
		return "", "", fmt.Errorf("expected KEY=value, got %T", v)
	}
}

// toKey accepts a bare key, "KEY=value" or a pair object and returns the key.
func toKey(v any) (string, error) {
	if s, ok := v.(string); ok {
		key, _, _ := strings.Cut(s, "=")
		if key = strings.TrimSpace(key); key != "" {
			return key, nil
		}
		return "", errors.New("key is required")
	}
	key, _, err := toPair(v)
	return key, err
}
