package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order when a date arrives as text.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ConvertDateTime parses the date shapes relational drivers hand back:
// time values, text in a handful of layouts, and epoch milliseconds.
func ConvertDateTime(val interface{}) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return time.Time{}, fmt.Errorf("unable to parse datetime: %s", v)
	case []byte:
		return ConvertDateTime(string(v))
	case int64:
		return time.UnixMilli(v).UTC(), nil
	case float64:
		return time.UnixMilli(int64(v)).UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to datetime", val)
	}
}

// ConvertToInt converts numeric and textual values to int64. Fractional
// numbers are rejected rather than truncated.
func ConvertToInt(val interface{}) (int64, error) {
	switch v := val.(type) {
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("cannot convert %v to int without loss", v)
		}
		return int64(v), nil
	case json.Number:
		return ConvertToInt(string(v))
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	case []byte:
		return ConvertToInt(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to int", val)
	}
}

// ConvertToFloat converts numeric and textual values to float64.
func ConvertToFloat(val interface{}) (float64, error) {
	switch v := val.(type) {
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	case []byte:
		return ConvertToFloat(string(v))
	default:
		return 0, fmt.Errorf("cannot convert %T to float", val)
	}
}

// ConvertToBool accepts booleans, 0/1 and the usual textual spellings.
func ConvertToBool(val interface{}) (bool, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case int64:
		return convertIntToBool(v)
	case int:
		return convertIntToBool(int64(v))
	case float64:
		if v != math.Trunc(v) {
			return false, fmt.Errorf("cannot convert %v to bool", v)
		}
		return convertIntToBool(int64(v))
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, fmt.Errorf("cannot convert %q to bool", v)
		}
		return b, nil
	default:
		return false, fmt.Errorf("cannot convert %T to bool", val)
	}
}

func convertIntToBool(v int64) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("cannot convert %d to bool", v)
}
