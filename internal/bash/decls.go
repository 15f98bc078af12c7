package bash

import (
	"context"
	"io"
	"os"
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// Variables managed by the shell itself, never part of a declaration dump.
var shellManagedVars = map[string]bool{
	"BASHPID": true, "DIRSTACK": true, "EUID": true, "GID": true,
	"GROUPS": true, "HOME": true, "HOSTNAME": true, "IFS": true,
	"LINENO": true, "OLDPWD": true, "OPTIND": true, "PATH": true,
	"PPID": true, "PWD": true, "RANDOM": true, "SECONDS": true,
	"SHELL": true, "SHELLOPTS": true, "UID": true,
}

// GetDeclarations executes a Bash source fragment in an embedded
// interpreter and returns the final state of its variable and function
// declarations.
//
// Variables are reported in the order of their first assignment in the
// source, with dynamically-created names appended in lexical order.
// Functions are the ones declared at the top level of the fragment, with
// their body text taken verbatim from the source.
func GetDeclarations(ctx context.Context, text string) (*Variables, *Functions, error) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))

	file, err := parser.Parse(strings.NewReader(text), "package")
	if err != nil {
		return nil, nil, &ScriptError{Message: "Failed to parse script", Err: err}
	}

	functions := NewFunctions()
	assignOrder := collectAssignOrder(file, text, functions)

	runner, err := interp.New(
		interp.Env(expand.ListEnviron(os.Environ()...)),
		interp.StdIO(strings.NewReader(""), io.Discard, io.Discard),
	)
	if err != nil {
		return nil, nil, &ScriptError{Message: "Failed to create interpreter", Err: err}
	}

	if err := runner.Run(ctx, file); err != nil {
		return nil, nil, &ScriptError{Message: "Failed to evaluate script", Err: err}
	}

	environ := map[string]bool{}
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq != -1 {
			environ[entry[:eq]] = true
		}
	}

	variables := NewVariables()

	// First the names assigned in the source, in source order
	for _, name := range assignOrder {
		if value, ok := convertVariable(runner.Vars[name]); ok {
			variables.Set(name, value)
		}
	}

	// Then any name created dynamically during evaluation
	remaining := make([]string, 0, len(runner.Vars))
	for name := range runner.Vars {
		if variables.Has(name) || shellManagedVars[name] || environ[name] {
			continue
		}
		remaining = append(remaining, name)
	}

	for _, name := range sortedNames(remaining) {
		if value, ok := convertVariable(runner.Vars[name]); ok {
			variables.Set(name, value)
		}
	}

	return variables, functions, nil
}

// convertVariable narrows a shell variable into a scalar or indexed
// declaration value. Unset variables and kinds that cannot appear in a
// recipe declaration (name references, associative arrays) are skipped.
func convertVariable(v expand.Variable) (Value, bool) {
	if !v.IsSet() {
		return Value{}, false
	}

	switch v.Kind {
	case expand.Indexed:
		return IndexedValueOf(v.List...), true
	case expand.String:
		return ScalarValue(v.Str), true
	default:
		return Value{}, false
	}
}

// collectAssignOrder walks the top level of a parsed file, recording the
// order of variable assignments and the declared functions. Function
// bodies are not descended into: their assignments only take effect if the
// function runs.
func collectAssignOrder(file *syntax.File, text string, functions *Functions) []string {
	var order []string
	seen := map[string]bool{}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch x := node.(type) {
		case *syntax.FuncDecl:
			functions.Set(x.Name.Value, functionBody(x, text))
			return false
		case *syntax.Assign:
			if x.Name != nil && !seen[x.Name.Value] {
				seen[x.Name.Value] = true
				order = append(order, x.Name.Value)
			}
		}
		return true
	})

	return order
}

// functionBody extracts the body text of a function declaration, without
// the surrounding braces.
func functionBody(decl *syntax.FuncDecl, text string) string {
	if block, ok := decl.Body.Cmd.(*syntax.Block); ok {
		start := block.Lbrace.Offset() + 1
		end := block.Rbrace.Offset()
		if start <= end && end <= uint(len(text)) {
			return text[start:end]
		}
	}

	// Non-block function bodies are reprinted from the syntax tree
	var out strings.Builder
	printer := syntax.NewPrinter()
	_ = printer.Print(&out, decl.Body)
	return "\n" + out.String() + "\n"
}
