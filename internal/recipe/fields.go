package recipe

import (
	"fmt"
	"time"

	"github.com/ipkmk/ipkmk/internal/bash"
	"github.com/ipkmk/ipkmk/internal/version"
)

// popFieldString consumes a required or defaulted scalar field from a
// variable map. A nil defaultValue marks the field as required.
func popFieldString(path string, variables *bash.Variables, name string, defaultValue *string) (string, error) {
	value, ok := variables.Pop(name)
	if !ok {
		if defaultValue == nil {
			return "", &RecipeError{Path: path, Message: fmt.Sprintf("Missing required field '%s'", name)}
		}
		return *defaultValue, nil
	}

	if value.IsIndexed() {
		return "", &RecipeError{
			Path:    path,
			Message: fmt.Sprintf("Field '%s' must be a string, got an indexed array", name),
		}
	}

	return value.Str(), nil
}

// popFieldIndexed consumes a required or defaulted indexed field from a
// variable map. A nil defaultValue marks the field as required.
func popFieldIndexed(path string, variables *bash.Variables, name string, defaultValue []*string) ([]*string, error) {
	value, ok := variables.Pop(name)
	if !ok {
		if defaultValue == nil {
			return nil, &RecipeError{Path: path, Message: fmt.Sprintf("Missing required field '%s'", name)}
		}
		return defaultValue, nil
	}

	if !value.IsIndexed() {
		return nil, &RecipeError{
			Path:    path,
			Message: fmt.Sprintf("Field '%s' must be an indexed array, got a string", name),
		}
	}

	return value.List(), nil
}

// Layouts accepted for the timestamp field, most specific first
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTimestamp parses an ISO-8601 date and normalizes it to UTC.
func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse '%s' as an ISO-8601 date", value)
}

// parseDependencies parses a list of dependency tokens, deduplicating
// structurally equal entries while keeping declaration order. When
// hostOnly is set, build dependencies are rejected with an error naming
// the field.
func parseDependencies(path, field string, entries []*string, hostOnly bool) ([]*version.Dependency, error) {
	deps := make([]*version.Dependency, 0, len(entries))
	seen := map[string]bool{}

	for _, entry := range entries {
		token := ""
		if entry != nil {
			token = *entry
		}

		dep, err := version.ParseDependency(token)
		if err != nil {
			return nil, &RecipeError{
				Path:    path,
				Message: fmt.Sprintf("Invalid dependency '%s' in the '%s' field: %v", token, field, err),
			}
		}

		if hostOnly && dep.Kind != version.HostDependency {
			return nil, &RecipeError{
				Path:    path,
				Message: fmt.Sprintf("Only host packages are supported in the '%s' field", field),
			}
		}

		if seen[dep.Key()] {
			continue
		}

		seen[dep.Key()] = true
		deps = append(deps, dep)
	}

	return deps, nil
}
