package kube

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyName(t *testing.T) {
	tests := []struct {
		name string
		want EnvironmentClass
	}{
		{"prod-us-east", EnvProduction},
		{"PRODUCTION", EnvProduction},
		{"live-cluster", EnvProduction},
		{"staging-eu", EnvStaging},
		{"preprod", EnvStaging},
		{"qa-cluster", EnvStaging},
		{"dev", EnvDevelopment},
		{"minikube", EnvDevelopment},
		{"kind-kind", EnvDevelopment},
		{"my-sandbox", EnvDevelopment},
		{"cluster-42", EnvUnknown},
		{"", EnvUnknown},
		// Higher tier wins when patterns overlap.
		{"prod-test", EnvProduction},
		{"staging-dev", EnvStaging},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyName(tt.name); got != tt.want {
				t.Errorf("ClassifyName(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}

func TestClassifyNameIdempotent(t *testing.T) {
	for _, name := range []string{"prod-a", "dev-b", "weird"} {
		first := ClassifyName(name)
		for i := 0; i < 10; i++ {
			if got := ClassifyName(name); got != first {
				t.Fatalf("ClassifyName(%q) not deterministic: %v then %v", name, first, got)
			}
		}
	}
}

const testKubeconfig = `
apiVersion: v1
kind: Config
current-context: prod-us
contexts:
- name: prod-us
  context:
    cluster: prod-cluster
    namespace: payments
    user: alice
- name: dev-local
  context:
    cluster: kind
    user: alice
clusters:
- name: prod-cluster
  cluster:
    server: https://prod.example.com
- name: kind
  cluster:
    server: https://127.0.0.1:6443
users:
- name: alice
  user: {}
`

func writeKubeconfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kubeconfig")
	if err := os.WriteFile(path, []byte(testKubeconfig), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}
	return path
}

func TestResolveCurrentContext(t *testing.T) {
	r := &Resolver{KubeconfigPath: writeKubeconfig(t)}

	env, err := r.Resolve("")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if env.Name != "prod-us" {
		t.Errorf("Name = %q, want prod-us", env.Name)
	}
	if env.Cluster != "prod-cluster" {
		t.Errorf("Cluster = %q, want prod-cluster", env.Cluster)
	}
	if env.Namespace != "payments" {
		t.Errorf("Namespace = %q, want payments", env.Namespace)
	}
	if env.User != "alice" {
		t.Errorf("User = %q, want alice", env.User)
	}
	if env.Class != EnvProduction {
		t.Errorf("Class = %v, want EnvProduction", env.Class)
	}
}

func TestResolveNamedContext(t *testing.T) {
	r := &Resolver{KubeconfigPath: writeKubeconfig(t)}

	env, err := r.Resolve("dev-local")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if env.Class != EnvDevelopment {
		t.Errorf("Class = %v, want EnvDevelopment", env.Class)
	}
	if env.Namespace != "" {
		t.Errorf("Namespace = %q, want empty", env.Namespace)
	}
}

func TestResolveMissingContext(t *testing.T) {
	r := &Resolver{KubeconfigPath: writeKubeconfig(t)}

	_, err := r.Resolve("nonexistent")
	if err == nil {
		t.Fatal("expected error for missing context")
	}
	cfgErr, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("error type = %T, want *ConfigurationError", err)
	}
	if cfgErr.Remediation == "" {
		t.Error("ConfigurationError should carry a remediation hint")
	}
}

func TestResolveEmptyKubeconfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kubeconfig")
	if err := os.WriteFile(path, []byte("apiVersion: v1\nkind: Config\n"), 0o600); err != nil {
		t.Fatalf("write kubeconfig: %v", err)
	}

	r := &Resolver{KubeconfigPath: path}
	if _, err := r.Resolve(""); err == nil {
		t.Fatal("expected ConfigurationError for empty kubeconfig")
	}
}

func TestListContexts(t *testing.T) {
	r := &Resolver{KubeconfigPath: writeKubeconfig(t)}

	names, current, err := r.ListContexts()
	if err != nil {
		t.Fatalf("ListContexts: %v", err)
	}
	if current != "prod-us" {
		t.Errorf("current = %q, want prod-us", current)
	}
	if len(names) != 2 || names[0] != "dev-local" || names[1] != "prod-us" {
		t.Errorf("names = %v, want [dev-local prod-us]", names)
	}
}
