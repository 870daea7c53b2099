package template

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// ErrPathNotFound is returned when a dot path does not resolve against the data.
var ErrPathNotFound = errors.New("path not found")

// Resolve walks a dot-notation path ("event.data.content", "tags.0") through
// nested maps and slices.
func Resolve(data any, path string) (any, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty path: %w", ErrPathNotFound)
	}

	current := data

	for _, segment := range strings.Split(path, ".") {
		next, ok := step(current, segment)
		if !ok {
			return nil, fmt.Errorf("%s: %w", path, ErrPathNotFound)
		}

		current = next
	}

	return current, nil
}

func step(current any, segment string) (any, bool) {
	switch value := current.(type) {
	case map[string]any:
		next, ok := value[segment]

		return next, ok
	case []any:
		return index(len(value), segment, func(i int) any { return value[i] })
	case []string:
		return index(len(value), segment, func(i int) any { return value[i] })
	case nil:
		return nil, false
	}

	reflected := reflect.ValueOf(current)
	switch reflected.Kind() {
	case reflect.Map:
		if reflected.Type().Key().Kind() != reflect.String {
			return nil, false
		}

		next := reflected.MapIndex(reflect.ValueOf(segment).Convert(reflected.Type().Key()))
		if !next.IsValid() {
			return nil, false
		}

		return next.Interface(), true
	case reflect.Slice, reflect.Array:
		return index(reflected.Len(), segment, func(i int) any { return reflected.Index(i).Interface() })
	default:
		return nil, false
	}
}

func index(length int, segment string, at func(int) any) (any, bool) {
	i, err := strconv.Atoi(segment)
	if err != nil || i < 0 || i >= length {
		return nil, false
	}

	return at(i), true
}
