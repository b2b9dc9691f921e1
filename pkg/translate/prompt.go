package translate

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/kubenl/kubenl/pkg/kube"
	"github.com/kubenl/kubenl/pkg/translate/providers"
)

// defaultVerbCatalog is the closed set of operation verbs the backend may
// use. Keeping the catalog in the prompt constrains the model to commands
// the risk classifier knows how to grade.
var defaultVerbCatalog = []string{
	"get", "describe", "logs", "top", "explain", "diff",
	"apply", "create", "patch", "scale", "label", "annotate",
	"set", "rollout", "expose", "delete", "drain", "cordon",
	"uncordon", "taint",
}

const systemPromptTemplate = `You are a Kubernetes command translator.
Convert the operator's request into exactly one {{.Tool}} command.

Rules:
- Respond with a single JSON object: {"command": string, "confidence": integer 0-100, "rationale": string}.
- "command" must start with "{{.Tool}} " and use only these verbs: {{.Verbs}}.
- "confidence" reflects how certain you are the command matches the request.
- If the request is ambiguous, set a low confidence and begin "rationale" with "{{.ClarifyMarker}}" followed by the question you need answered.
- Never invent resource names that were not mentioned.

Target environment:
- Context: {{.Context}}
- Cluster: {{.Cluster}}
{{- if .Namespace}}
- Namespace: {{.Namespace}} (add "-n {{.Namespace}}" unless the request names another namespace)
{{- end}}
- Tier: {{.Tier}}`

type promptData struct {
	Tool          string
	Verbs         string
	ClarifyMarker string
	Context       string
	Cluster       string
	Namespace     string
	Tier          string
}

// buildMessages renders the system prompt for the environment and pairs it
// with the operator's request.
func buildMessages(tool string, verbs []string, text string, env *kube.EnvironmentContext) ([]providers.ChatMessage, error) {
	if len(verbs) == 0 {
		verbs = defaultVerbCatalog
	}

	data := promptData{
		Tool:          tool,
		Verbs:         strings.Join(verbs, ", "),
		ClarifyMarker: ClarifyMarker,
		Context:       env.Name,
		Cluster:       env.Cluster,
		Namespace:     env.Namespace,
		Tier:          env.Class.String(),
	}

	tmpl, err := template.New("system").Parse(systemPromptTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}

	return []providers.ChatMessage{
		{Role: "system", Content: buf.String()},
		{Role: "user", Content: text},
	}, nil
}
