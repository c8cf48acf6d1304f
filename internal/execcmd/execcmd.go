// Package execcmd turns configured command lines into argv slices for the
// exec-backed engines.
package execcmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Vars maps placeholder names to values. A placeholder is written {name}
// anywhere inside an argument.
type Vars map[string]string

// Parse splits command with shell quoting rules and substitutes vars in every
// argument. Substitution happens after splitting, so values containing
// spaces stay a single argument.
func Parse(command string, vars Vars) ([]string, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse command %q: %w", command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("command is empty")
	}
	if len(vars) == 0 {
		return args, nil
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	r := strings.NewReplacer(pairs...)
	for i, a := range args {
		args[i] = r.Replace(a)
	}
	return args, nil
}

// HasPlaceholder reports whether command references {name}.
func HasPlaceholder(command, name string) bool {
	return strings.Contains(command, "{"+name+"}")
}
