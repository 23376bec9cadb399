package storage

import "time"

// Row column accessors. Adapters produce driver-typed values (string, []byte,
// int64, float64, nil); these helpers normalize them.

func rowString(r Row, col string) string {
	switch v := r[col].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

func rowBytes(r Row, col string) []byte {
	switch v := r[col].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}

func rowInt(r Row, col string) int {
	switch v := r[col].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// parseRowTime parses an RFC 3339 column. Missing, NULL, or malformed values
// yield the zero time.
func parseRowTime(r Row, col string) time.Time {
	s := rowString(r, col)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
