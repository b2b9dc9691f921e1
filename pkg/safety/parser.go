// Package safety classifies command risk using shell AST parsing and derives
// the confirmation strength required before execution.
package safety

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// Invocation is one parsed command invocation. A compound command line
// (pipes, && chains) yields several invocations.
type Invocation struct {
	Program      string            // e.g. "kubectl", "helm"
	Verb         string            // first non-flag argument
	Resource     string            // second non-flag argument (e.g. "deployment")
	ResourceName string            // third non-flag argument (e.g. "nginx")
	Namespace    string            // from -n/--namespace
	Args         []string
	Flags        map[string]string // "--force" => "", "--replicas" => "0"
}

// HasFlag reports whether the invocation carries the given flag.
func (inv *Invocation) HasFlag(flag string) bool {
	_, ok := inv.Flags[flag]
	return ok
}

// FlagValue returns the value of a flag, empty when absent or bare.
func (inv *Invocation) FlagValue(flag string) string {
	return inv.Flags[flag]
}

// ParsedCommand is the result of parsing a full command line.
type ParsedCommand struct {
	Raw         string
	Invocations []*Invocation
	IsPiped     bool
	IsChained   bool
	HasRedirect bool
	ParseError  error // non-nil when the AST parse failed and a lexical fallback was used
}

// First returns the first invocation, or nil for an empty line.
func (p *ParsedCommand) First() *Invocation {
	if len(p.Invocations) == 0 {
		return nil
	}
	return p.Invocations[0]
}

// Parse parses a command line into its invocations using a shell AST,
// falling back to whitespace splitting when the line does not parse.
func Parse(cmd string) *ParsedCommand {
	result := &ParsedCommand{Raw: cmd}

	parser := syntax.NewParser()
	file, err := parser.Parse(strings.NewReader(cmd), "")
	if err != nil {
		result.ParseError = err
		result.parseLexical(cmd)
		return result
	}

	syntax.Walk(file, func(node syntax.Node) bool {
		switch n := node.(type) {
		case *syntax.CallExpr:
			if inv := invocationFromCall(n); inv != nil {
				result.Invocations = append(result.Invocations, inv)
			}
		case *syntax.BinaryCmd:
			switch n.Op {
			case syntax.Pipe, syntax.PipeAll:
				result.IsPiped = true
			case syntax.AndStmt, syntax.OrStmt:
				result.IsChained = true
			}
		case *syntax.Redirect:
			result.HasRedirect = true
		}
		return true
	})

	return result
}

func invocationFromCall(expr *syntax.CallExpr) *Invocation {
	if len(expr.Args) == 0 {
		return nil
	}

	inv := &Invocation{
		Program: wordText(expr.Args[0]),
		Flags:   make(map[string]string),
	}

	for i := 1; i < len(expr.Args); i++ {
		arg := wordText(expr.Args[i])
		inv.Args = append(inv.Args, arg)

		if strings.HasPrefix(arg, "--") {
			if name, val, found := strings.Cut(arg, "="); found {
				inv.Flags[name] = val
			} else {
				inv.Flags[arg] = ""
			}
		} else if strings.HasPrefix(arg, "-") && len(arg) > 1 {
			inv.Flags[arg] = ""
		}
	}

	inv.fillPositional()
	return inv
}

// fillPositional extracts verb, resource and resource name from the
// positional arguments, resolving "-n ns", "--replicas 0" style value flags
// and "deployment/nginx" shorthand.
func (inv *Invocation) fillPositional() {
	valueFlags := map[string]bool{
		"-n": true, "--namespace": true,
		"-f": true, "--filename": true,
		"-o": true, "--output": true,
		"-l": true, "--selector": true,
		"--replicas": true, "--context": true, "--timeout": true,
		"-c": true, "--container": true, "--image": true,
	}

	var positional []string
	skipNext := false
	for i, arg := range inv.Args {
		if skipNext {
			skipNext = false
			continue
		}
		if strings.HasPrefix(arg, "-") {
			if name, _, found := strings.Cut(arg, "="); !found && valueFlags[name] && i+1 < len(inv.Args) {
				// Separated flag value form: record it on the flag.
				inv.Flags[name] = inv.Args[i+1]
				skipNext = true
			}
			continue
		}
		positional = append(positional, arg)
	}

	if len(positional) > 0 {
		inv.Verb = positional[0]
	}
	if len(positional) > 1 {
		if kind, name, found := strings.Cut(positional[1], "/"); found {
			inv.Resource = kind
			inv.ResourceName = name
		} else {
			inv.Resource = positional[1]
		}
	}
	if inv.ResourceName == "" && len(positional) > 2 {
		inv.ResourceName = positional[2]
	}

	if ns := inv.Flags["-n"]; ns != "" {
		inv.Namespace = ns
	}
	if ns := inv.Flags["--namespace"]; ns != "" {
		inv.Namespace = ns
	}
}

// parseLexical is the fallback for unparseable lines.
func (p *ParsedCommand) parseLexical(cmd string) {
	p.IsPiped = strings.Contains(cmd, "|")
	p.IsChained = strings.Contains(cmd, "&&") || strings.Contains(cmd, "||")
	p.HasRedirect = strings.ContainsAny(cmd, "<>")

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return
	}

	inv := &Invocation{
		Program: fields[0],
		Args:    fields[1:],
		Flags:   make(map[string]string),
	}
	for _, arg := range inv.Args {
		if strings.HasPrefix(arg, "-") {
			if name, val, found := strings.Cut(arg, "="); found {
				inv.Flags[name] = val
			} else {
				inv.Flags[arg] = ""
			}
		}
	}
	inv.fillPositional()
	p.Invocations = append(p.Invocations, inv)
}

func wordText(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch w := part.(type) {
		case *syntax.Lit:
			sb.WriteString(w.Value)
		case *syntax.SglQuoted:
			sb.WriteString(w.Value)
		case *syntax.DblQuoted:
			for _, qp := range w.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$")
			sb.WriteString(w.Param.Value)
		case *syntax.CmdSubst:
			sb.WriteString("$(...)")
		}
	}
	return sb.String()
}
