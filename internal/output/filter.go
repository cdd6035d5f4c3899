package output

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// ApplyFilter runs a gojq expression over data and returns the results.
// A single result is returned as-is; multiple results come back as a slice.
func ApplyFilter(expr string, data any) (any, error) {
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, ErrUsageHint("Invalid jq expression", err.Error())
	}

	// Normalize to the generic types gojq operates on.
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}

	var results []any
	iter := query.Run(generic)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, ErrUsageHint("jq evaluation failed", err.Error())
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// FilterString is a convenience wrapper that renders filter results as a
// compact JSON string.
func FilterString(expr string, data any) (string, error) {
	v, err := ApplyFilter(expr, data)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode filter result: %w", err)
	}
	return string(raw), nil
}
