package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lherron/channelport/internal/id"
)

// Coerce converts a source value to the Go type the destination column
// expects. Catalogs written by older tools store booleans as integers and
// JSON payloads decode every number as float64; both are normalised here,
// as are dashed or upper-case UUIDs.
// nil passes through unchanged.
func Coerce(col Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}

	var (
		out any
		err error
	)
	switch col.Type {
	case Text:
		out, err = toText(v)
	case Integer:
		out, err = toInteger(v)
	case Bool:
		out, err = toBool(v)
	case Real:
		out, err = toReal(v)
	case UUID:
		out, err = toUUID(v)
	default:
		err = fmt.Errorf("unknown column type %d", col.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("column %s: %w", col.Name, err)
	}
	return out, nil
}

func toText(v any) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(x), nil
	case time.Time:
		// SQLite drivers hand DATETIME columns back as time.Time.
		return x.UTC().Format(time.RFC3339), nil
	default:
		return fmt.Sprint(x), nil
	}
}

func toUUID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("cannot store %T as uuid", v)
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return id.Normalize(s)
}

func toInteger(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", x)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, fmt.Errorf("non-integral value %v", x)
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", x)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("cannot store %T as integer", v)
	}
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case uint64:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "t", "true", "yes":
			return true, nil
		case "", "0", "f", "false", "no":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", x)
	default:
		return nil, fmt.Errorf("cannot store %T as boolean", v)
	}
}

func toReal(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case string:
		if strings.TrimSpace(x) == "" {
			return nil, nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("cannot store %T as real", v)
	}
}
