package safety

import (
	"strings"

	"github.com/kubenl/kubenl/pkg/config"
	"github.com/kubenl/kubenl/pkg/kube"
)

// RiskLevel grades a command's potential for irreversible side effects.
type RiskLevel int

const (
	// RiskLow covers read-only inspection commands.
	RiskLow RiskLevel = iota
	// RiskMedium covers state-mutating but reversible commands.
	RiskMedium
	// RiskHigh covers destructive or irreversible commands, including
	// scale-to-zero, which is a semantic delete.
	RiskHigh
)

// String returns the display name of the level.
func (r RiskLevel) String() string {
	switch r {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "low"
	}
}

func maxRisk(a, b RiskLevel) RiskLevel {
	if a > b {
		return a
	}
	return b
}

// Classifier maps a command string to a RiskLevel. Verb catalogs are
// configuration data merged over built-in defaults. Classification is pure:
// no I/O, no allowlist consultation (that happens one layer up).
type Classifier struct {
	readVerbs        map[string]bool
	mutatingVerbs    map[string]bool
	destructiveVerbs map[string]bool
	dangerousFlags   []string
}

var defaultReadVerbs = []string{
	"get", "describe", "logs", "explain", "top", "version",
	"api-resources", "api-versions", "cluster-info", "diff", "auth",
	// helm read verbs
	"list", "status", "show", "search", "history",
}

var defaultMutatingVerbs = []string{
	"apply", "create", "patch", "scale", "edit", "label", "annotate",
	"set", "rollout", "replace", "expose", "run", "cp", "restart",
	// helm mutating verbs
	"install", "upgrade", "rollback",
}

var defaultDestructiveVerbs = []string{
	"delete", "drain", "cordon", "taint", "evict",
	// helm destructive verbs
	"uninstall", "purge",
}

var defaultDangerousFlags = []string{
	"--all", "--all-namespaces", "-A", "--force",
	"--grace-period=0", "--cascade=orphan", "--now",
}

// NewClassifier builds a classifier from the given catalogs. Config entries
// extend the built-in defaults; ambiguous verbs listed in more than one
// catalog resolve to the higher tier.
func NewClassifier(cfg config.RiskConfig) *Classifier {
	c := &Classifier{
		readVerbs:        verbSet(defaultReadVerbs, cfg.ReadVerbs),
		mutatingVerbs:    verbSet(defaultMutatingVerbs, cfg.MutatingVerbs),
		destructiveVerbs: verbSet(defaultDestructiveVerbs, cfg.DestructiveVerbs),
		dangerousFlags:   append(append([]string{}, defaultDangerousFlags...), cfg.DangerousFlags...),
	}
	return c
}

func verbSet(defaults, extra []string) map[string]bool {
	set := make(map[string]bool, len(defaults)+len(extra))
	for _, v := range defaults {
		set[strings.ToLower(v)] = true
	}
	for _, v := range extra {
		set[strings.ToLower(v)] = true
	}
	return set
}

// Classify maps a command to its risk level. The function is total and
// deterministic: every input yields exactly one level. Compound commands
// (pipes, chains) classify at the highest risk present anywhere in the
// string. The environment class does not change the level itself - it
// scales confirmation strictness one layer up - but it is part of the
// signature so callers cannot forget to resolve it first.
func (c *Classifier) Classify(command string, _ kube.EnvironmentClass) RiskLevel {
	parsed := Parse(command)

	level := RiskLow
	for _, inv := range parsed.Invocations {
		level = maxRisk(level, c.classifyInvocation(inv))
	}

	// Fail-safe for lines the parser could not decompose: a lexical sweep
	// over the raw string catches risk-indicating verbs hidden in syntax
	// we did not model.
	if parsed.ParseError != nil || len(parsed.Invocations) == 0 {
		level = maxRisk(level, c.classifyLexical(command))
	}

	return level
}

func (c *Classifier) classifyInvocation(inv *Invocation) RiskLevel {
	verb := strings.ToLower(inv.Verb)

	level := RiskLow
	switch {
	case c.destructiveVerbs[verb]:
		level = RiskHigh
	case c.mutatingVerbs[verb]:
		level = RiskMedium
	case c.readVerbs[verb]:
		level = RiskLow
	default:
		// Unmatched verbs stay Low unless a risk-indicating lexical
		// pattern appears below.
	}

	if isScaleToZero(inv) {
		level = RiskHigh
	}

	// Dangerous flags escalate mutating commands to High.
	if level >= RiskMedium {
		for _, flag := range c.dangerousFlags {
			if flagMatches(inv, flag) {
				level = RiskHigh
				break
			}
		}
	}

	return level
}

// isScaleToZero detects "scale ... --replicas=0" in either flag form.
func isScaleToZero(inv *Invocation) bool {
	if !strings.EqualFold(inv.Verb, "scale") {
		return false
	}
	return strings.TrimSpace(inv.FlagValue("--replicas")) == "0"
}

// flagMatches handles value-carrying dangerous flags like --grace-period=0:
// the flag name alone is not enough, the value must match too.
func flagMatches(inv *Invocation, flag string) bool {
	name, want, hasValue := strings.Cut(flag, "=")
	if !hasValue {
		return inv.HasFlag(name)
	}
	return inv.FlagValue(name) == want
}

// classifyLexical is the fail-safe sweep for unparseable input. It biases
// toward the higher tier on any destructive token.
func (c *Classifier) classifyLexical(command string) RiskLevel {
	lower := strings.ToLower(command)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ';' || r == '|' || r == '&' || r == '(' || r == ')'
	})

	level := RiskLow
	for _, f := range fields {
		switch {
		case c.destructiveVerbs[f]:
			return RiskHigh
		case c.mutatingVerbs[f]:
			level = RiskMedium
		}
	}
	if level == RiskMedium && c.lexicalFlagHit(fields) {
		level = RiskHigh
	}
	if strings.Contains(lower, "--replicas=0") || strings.Contains(lower, "--replicas 0") {
		return RiskHigh
	}
	return level
}

// lexicalFlagHit scans raw tokens for dangerous flags, accepting both the
// "--flag=value" and "--flag value" spellings. Fields are already
// lowercased by the caller.
func (c *Classifier) lexicalFlagHit(fields []string) bool {
	for _, flag := range c.dangerousFlags {
		name, want, hasValue := strings.Cut(strings.ToLower(flag), "=")
		for i, f := range fields {
			if !hasValue {
				if f == name {
					return true
				}
				continue
			}
			if f == name+"="+want {
				return true
			}
			if f == name && i+1 < len(fields) && fields[i+1] == want {
				return true
			}
		}
	}
	return false
}
