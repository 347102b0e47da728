// Package analysis produces security review reports for architecture diagrams.
//
// With a Generator configured, the diagram is rendered into a prompt and sent
// to an external text-generation service. Without one, a deterministic report
// is built from simple structural heuristics.
package analysis

import (
	"fmt"
	"strings"
)

// Diagram is the client-side graph submitted for analysis. Nodes and edges are
// kept loosely typed because the editor attaches arbitrary data to them.
type Diagram struct {
	Nodes []map[string]any `json:"nodes"`
	Edges []map[string]any `json:"edges"`
}

// Format renders the diagram as the component/connection listing sent to the
// generator.
func Format(d Diagram) string {
	var b strings.Builder
	b.WriteString("## Nodes (Components):\n")
	for _, node := range d.Nodes {
		fmt.Fprintf(&b, "- [%s] %s (id: %s)\n", nodeType(node), nodeLabel(node), stringField(node, "id", "unknown"))
	}

	b.WriteString("\n## Edges (Connections):\n")
	for _, edge := range d.Edges {
		fmt.Fprintf(&b, "- %s --%s--> %s\n",
			stringField(edge, "source", "?"),
			stringField(edge, "label", "connects to"),
			stringField(edge, "target", "?"),
		)
	}
	if len(d.Edges) == 0 {
		b.WriteString("- No connections defined\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

func nodeType(node map[string]any) string {
	return stringField(node, "type", "default")
}

func nodeLabel(node map[string]any) string {
	data, ok := node["data"].(map[string]any)
	if !ok {
		return "Unnamed"
	}
	return stringField(data, "label", "Unnamed")
}

// stringField returns m[key] as text, or fallback when the key is absent.
func stringField(m map[string]any, key, fallback string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return fallback
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
