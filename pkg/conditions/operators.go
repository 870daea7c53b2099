package conditions

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/dukex/engageflow/pkg/template"
)

func equal(actual, expected any) bool {
	left, leftOK := number(actual)
	right, rightOK := number(expected)

	if leftOK && rightOK {
		return left == right
	}

	if actualBool, ok := actual.(bool); ok {
		expectedBool, ok := boolean(expected)

		return ok && actualBool == expectedBool
	}

	if actual == nil || expected == nil {
		return actual == nil && expected == nil
	}

	return template.Stringify(actual) == template.Stringify(expected)
}

// contains reports list membership for slices and a case-insensitive
// substring match for everything else.
func contains(actual, expected any) bool {
	if items, ok := list(actual); ok {
		for _, item := range items {
			if equal(item, expected) {
				return true
			}
		}

		return false
	}

	if actual == nil {
		return false
	}

	return strings.Contains(
		strings.ToLower(template.Stringify(actual)),
		strings.ToLower(template.Stringify(expected)),
	)
}

func in(actual, expected any) (bool, error) {
	items, ok := list(expected)
	if !ok {
		return false, fmt.Errorf("%w: in needs a list value", ErrMalformedClause)
	}

	for _, item := range items {
		if equal(actual, item) {
			return true, nil
		}
	}

	return false, nil
}

func compare(operator string, actual, expected any) (bool, error) {
	left, ok := number(actual)
	if !ok {
		return false, fmt.Errorf("%w: %v is not a number", ErrMalformedClause, actual)
	}

	right, ok := number(expected)
	if !ok {
		return false, fmt.Errorf("%w: %v is not a number", ErrMalformedClause, expected)
	}

	switch operator {
	case OperatorGreaterThan:
		return left > right, nil
	case OperatorGreaterOrEqual:
		return left >= right, nil
	case OperatorLessThan:
		return left < right, nil
	default:
		return left <= right, nil
	}
}

func number(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int32:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		f, err := typed.Float64()

		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)

		return f, err == nil
	default:
		return 0, false
	}
}

func boolean(value any) (bool, bool) {
	switch typed := value.(type) {
	case bool:
		return typed, true
	case string:
		b, err := strconv.ParseBool(typed)

		return b, err == nil
	default:
		return false, false
	}
}

func list(value any) ([]any, bool) {
	switch typed := value.(type) {
	case []any:
		return typed, true
	case []string:
		items := make([]any, len(typed))
		for i, item := range typed {
			items[i] = item
		}

		return items, true
	case nil, string:
		return nil, false
	}

	reflected := reflect.ValueOf(value)
	if reflected.Kind() != reflect.Slice && reflected.Kind() != reflect.Array {
		return nil, false
	}

	items := make([]any, reflected.Len())
	for i := range items {
		items[i] = reflected.Index(i).Interface()
	}

	return items, true
}

func stringList(value any) ([]string, error) {
	if single, ok := value.(string); ok {
		return []string{single}, nil
	}

	items, ok := list(value)
	if !ok {
		return nil, fmt.Errorf("%w: expected a string or a list of strings", ErrMalformedClause)
	}

	keywords := make([]string, 0, len(items))
	for _, item := range items {
		keywords = append(keywords, template.Stringify(item))
	}

	return keywords, nil
}
