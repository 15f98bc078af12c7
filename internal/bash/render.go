package bash

import (
	"fmt"
	"regexp"
	"strings"
)

// Words that can be rendered without quoting
var safeWordRegex = regexp.MustCompile(`^[A-Za-z0-9_@%+=:,./~^-]+$`)

// Quote renders a string as a Bash word.
func Quote(s string) string {
	if s == "" {
		return "''"
	}

	if safeWordRegex.MatchString(s) {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// PutVariables renders a variable map back into Bash source, one
// `declare` statement per variable in declaration order. Evaluating the
// result yields the same variable map.
func PutVariables(variables *Variables) string {
	var out strings.Builder

	for _, name := range variables.Names() {
		value, _ := variables.Get(name)

		if !value.IsIndexed() {
			fmt.Fprintf(&out, "declare %s=%s\n", name, Quote(value.Str()))
			continue
		}

		entries := make([]string, 0, len(value.List()))
		for i, entry := range value.List() {
			if entry == nil {
				continue
			}
			entries = append(entries, fmt.Sprintf("[%d]=%s", i, Quote(*entry)))
		}

		fmt.Fprintf(&out, "declare -a %s=(%s)\n", name, strings.Join(entries, " "))
	}

	return out.String()
}

// PutFunctions renders a function map back into Bash source in
// declaration order.
func PutFunctions(functions *Functions) string {
	var out strings.Builder

	for _, name := range functions.Names() {
		body, _ := functions.Get(name)

		if !strings.HasPrefix(body, "\n") {
			body = "\n" + body
		}
		if !strings.HasSuffix(body, "\n") {
			body += "\n"
		}

		fmt.Fprintf(&out, "%s() {%s}\n", name, body)
	}

	return out.String()
}
