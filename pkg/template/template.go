// Package template renders {{path}} placeholders in action configuration
// against an execution context.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`{{\s*([A-Za-z0-9_.\-]+)\s*}}`)

// Render substitutes every {{path}} placeholder in input. A placeholder that
// spans the whole input returns the resolved value with its type intact;
// otherwise values are formatted into the string. Unresolvable placeholders
// render as empty strings.
func Render(input string, data any) any {
	trimmed := strings.TrimSpace(input)
	if match := placeholder.FindStringSubmatch(trimmed); match != nil && match[0] == trimmed {
		value, err := Resolve(data, match[1])
		if err != nil {
			return ""
		}

		return value
	}

	return placeholder.ReplaceAllStringFunc(input, func(token string) string {
		path := placeholder.FindStringSubmatch(token)[1]

		value, err := Resolve(data, path)
		if err != nil {
			return ""
		}

		return Stringify(value)
	})
}

// RenderString renders input and always returns a string.
func RenderString(input string, data any) string {
	return Stringify(Render(input, data))
}

// RenderValue renders every string found inside maps and slices of value.
func RenderValue(value any, data any) any {
	switch typed := value.(type) {
	case string:
		return Render(typed, data)
	case map[string]any:
		rendered := make(map[string]any, len(typed))
		for key, item := range typed {
			rendered[key] = RenderValue(item, data)
		}

		return rendered
	case []any:
		rendered := make([]any, len(typed))
		for i, item := range typed {
			rendered[i] = RenderValue(item, data)
		}

		return rendered
	case []string:
		rendered := make([]any, len(typed))
		for i, item := range typed {
			rendered[i] = Render(item, data)
		}

		return rendered
	default:
		return value
	}
}

// RenderMap renders a configuration map.
func RenderMap(config map[string]any, data any) map[string]any {
	if config == nil {
		return map[string]any{}
	}

	rendered, _ := RenderValue(config, data).(map[string]any)

	return rendered
}

// Stringify formats a resolved value for string interpolation. Maps and
// slices are rendered as JSON.
func Stringify(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case float64:
		if typed == float64(int64(typed)) {
			return fmt.Sprintf("%d", int64(typed))
		}

		return fmt.Sprintf("%g", typed)
	case map[string]any, []any, []string:
		data, err := json.Marshal(typed)
		if err != nil {
			return fmt.Sprintf("%v", typed)
		}

		return string(data)
	default:
		return fmt.Sprintf("%v", typed)
	}
}
