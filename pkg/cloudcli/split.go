package cloudcli

import (
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// SplitCommand turns LLM-proposed command text into an argv using a real
// shell grammar, without ever handing the text to a shell. Quoting is
// honored, so a metacharacter sequence inside quotes survives as one literal
// argument. Anything that would need a shell to evaluate — pipes, && / || /
// ; chains, redirects, command substitution, variable expansion — is
// rejected outright, because the text comes from a model that may echo
// attacker-controlled substrings.
func SplitCommand(command string) ([]string, error) {
	command = strings.TrimSpace(command)
	if command == "" {
		return nil, fmt.Errorf("empty command")
	}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		return nil, fmt.Errorf("could not parse command: %w", err)
	}

	if len(file.Stmts) != 1 {
		return nil, fmt.Errorf("compound commands are not allowed")
	}

	stmt := file.Stmts[0]
	if stmt.Background || stmt.Coprocess {
		return nil, fmt.Errorf("background execution is not allowed")
	}
	if len(stmt.Redirs) > 0 {
		return nil, fmt.Errorf("redirects are not allowed")
	}

	call, ok := stmt.Cmd.(*syntax.CallExpr)
	if !ok {
		// BinaryCmd (pipes, chains), subshells, loops, and the rest.
		return nil, fmt.Errorf("compound commands are not allowed")
	}
	if len(call.Assigns) > 0 {
		return nil, fmt.Errorf("environment assignments are not allowed")
	}
	if len(call.Args) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	argv := make([]string, 0, len(call.Args))
	for _, word := range call.Args {
		lit, err := literalWord(word)
		if err != nil {
			return nil, err
		}
		argv = append(argv, lit)
	}
	return argv, nil
}

// literalWord flattens a parsed word into its literal text, rejecting any
// part that a shell would evaluate.
func literalWord(word *syntax.Word) (string, error) {
	var b strings.Builder
	for _, part := range word.Parts {
		if err := appendLiteralPart(&b, part); err != nil {
			return "", err
		}
	}
	return b.String(), nil
}

func appendLiteralPart(b *strings.Builder, part syntax.WordPart) error {
	switch p := part.(type) {
	case *syntax.Lit:
		b.WriteString(p.Value)
	case *syntax.SglQuoted:
		b.WriteString(p.Value)
	case *syntax.DblQuoted:
		for _, inner := range p.Parts {
			if err := appendLiteralPart(b, inner); err != nil {
				return err
			}
		}
	case *syntax.ParamExp:
		return fmt.Errorf("variable expansion is not allowed")
	case *syntax.CmdSubst:
		return fmt.Errorf("command substitution is not allowed")
	case *syntax.ArithmExp:
		return fmt.Errorf("arithmetic expansion is not allowed")
	case *syntax.ProcSubst:
		return fmt.Errorf("process substitution is not allowed")
	case *syntax.ExtGlob:
		return fmt.Errorf("glob patterns are not allowed")
	default:
		return fmt.Errorf("unsupported shell syntax")
	}
	return nil
}
