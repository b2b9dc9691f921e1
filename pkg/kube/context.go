// Package kube resolves the active kubeconfig context into an immutable
// environment snapshot used for risk weighting.
package kube

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/client-go/tools/clientcmd"
)

// EnvironmentClass is the coarse deployment tier derived from a context name.
type EnvironmentClass int

const (
	EnvUnknown EnvironmentClass = iota
	EnvDevelopment
	EnvStaging
	EnvProduction
)

// String returns the display name of the class.
func (c EnvironmentClass) String() string {
	switch c {
	case EnvDevelopment:
		return "development"
	case EnvStaging:
		return "staging"
	case EnvProduction:
		return "production"
	default:
		return "unknown"
	}
}

// IsProduction reports whether the class requires the strictest confirmation.
func (c EnvironmentClass) IsProduction() bool {
	return c == EnvProduction
}

// EnvironmentContext is an immutable per-session snapshot of the active
// kubeconfig context. It is created once at session start and replaced
// wholesale on context switch.
type EnvironmentContext struct {
	Name      string // context name from kubeconfig
	Cluster   string
	Namespace string // empty means cluster default
	User      string
	Class     EnvironmentClass
}

// ConfigurationError indicates the kubeconfig could not be resolved into a
// usable context. It is fatal to starting a translation session and carries
// a remediation hint instead of a raw parser error.
type ConfigurationError struct {
	Reason      string
	Remediation string
	Err         error
}

func (e *ConfigurationError) Error() string {
	if e.Remediation != "" {
		return fmt.Sprintf("%s (%s)", e.Reason, e.Remediation)
	}
	return e.Reason
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

var productionPatterns = []string{"prod", "production", "live"}
var stagingPatterns = []string{"stag", "staging", "preprod", "pre-prod", "qa", "uat"}
var developmentPatterns = []string{"dev", "development", "local", "minikube", "kind", "sandbox", "test"}

// ClassifyName derives the environment class from a context name by
// case-insensitive substring match. Production patterns win over staging,
// staging over development, so "prod-test" classifies as production.
// Unmatched names yield EnvUnknown, which is weighted as staging.
func ClassifyName(name string) EnvironmentClass {
	lower := strings.ToLower(name)
	for _, p := range productionPatterns {
		if strings.Contains(lower, p) {
			return EnvProduction
		}
	}
	for _, p := range stagingPatterns {
		if strings.Contains(lower, p) {
			return EnvStaging
		}
	}
	for _, p := range developmentPatterns {
		if strings.Contains(lower, p) {
			return EnvDevelopment
		}
	}
	return EnvUnknown
}

// Resolver loads kubeconfig contexts. The zero value uses the default
// discovery chain (KUBECONFIG, then ~/.kube/config).
type Resolver struct {
	// KubeconfigPath overrides the discovery chain when set.
	KubeconfigPath string
}

// Resolve loads the kubeconfig and snapshots the named context, or the
// current context when name is empty.
func (r *Resolver) Resolve(name string) (*EnvironmentContext, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if r.KubeconfigPath != "" {
		loadingRules.ExplicitPath = r.KubeconfigPath
	}

	cfg, err := loadingRules.Load()
	if err != nil {
		return nil, &ConfigurationError{
			Reason:      "could not read kubeconfig",
			Remediation: "check that the file exists and is valid YAML, or set KUBECONFIG",
			Err:         err,
		}
	}

	if len(cfg.Contexts) == 0 {
		return nil, &ConfigurationError{
			Reason:      "kubeconfig contains no contexts",
			Remediation: "run 'kubectl config set-context' or point KUBECONFIG at a populated file",
		}
	}

	if name == "" {
		name = cfg.CurrentContext
	}
	if name == "" {
		return nil, &ConfigurationError{
			Reason:      "no active kubeconfig context",
			Remediation: "run 'kubectl config use-context <name>' to select one",
		}
	}

	kctx, ok := cfg.Contexts[name]
	if !ok {
		return nil, &ConfigurationError{
			Reason:      fmt.Sprintf("context %q not found in kubeconfig", name),
			Remediation: "run 'kubectl config get-contexts' to list available contexts",
		}
	}

	return &EnvironmentContext{
		Name:      name,
		Cluster:   kctx.Cluster,
		Namespace: kctx.Namespace,
		User:      kctx.AuthInfo,
		Class:     ClassifyName(name),
	}, nil
}

// ListContexts returns the available context names, sorted, plus the
// current one.
func (r *Resolver) ListContexts() ([]string, string, error) {
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	if r.KubeconfigPath != "" {
		loadingRules.ExplicitPath = r.KubeconfigPath
	}

	cfg, err := loadingRules.Load()
	if err != nil {
		return nil, "", &ConfigurationError{
			Reason:      "could not read kubeconfig",
			Remediation: "check that the file exists and is valid YAML, or set KUBECONFIG",
			Err:         err,
		}
	}

	names := make([]string, 0, len(cfg.Contexts))
	for name := range cfg.Contexts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, cfg.CurrentContext, nil
}
