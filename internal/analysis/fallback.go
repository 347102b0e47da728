package analysis

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Risk is the overall rating in a fallback report.
type Risk string

const (
	RiskHigh   Risk = "HIGH"
	RiskMedium Risk = "MEDIUM"
	RiskLow    Risk = "LOW"
)

// RateRisk rates a diagram by its shape alone: components without any
// connection are HIGH, small diagrams MEDIUM, everything else LOW.
func RateRisk(nodes, edges int) Risk {
	switch {
	case nodes > 0 && edges == 0:
		return RiskHigh
	case nodes < 5:
		return RiskMedium
	default:
		return RiskLow
	}
}

type typeCount struct {
	name  string
	count int
}

// FallbackReport builds the deterministic report used when no generator is
// configured.
func FallbackReport(d Diagram) string {
	nodes, edges := len(d.Nodes), len(d.Edges)

	var b strings.Builder
	b.WriteString("## 🔒 Security Analysis Report\n\n")
	b.WriteString("**Architecture Overview:**\n")
	fmt.Fprintf(&b, "- Total Components: %d\n", nodes)
	fmt.Fprintf(&b, "- Total Connections: %d\n", edges)
	fmt.Fprintf(&b, "- Component Types: %s\n\n", componentTypes(d))
	b.WriteString("---\n\n### 1. Security Assessment\n\n")

	if nodes == 0 {
		b.WriteString("⚠️ **Empty Architecture**: No components to analyze. Add nodes to your diagram.\n\n")
	} else {
		if anyNodeMentions(d, "database", "db") {
			b.WriteString("✅ **Database Detected**: Ensure proper encryption at rest and in transit.\n" +
				"   - Recommendation: Use TLS 1.3 for connections\n" +
				"   - Enable audit logging for all database access\n\n")
		}
		if anyNodeMentions(d, "api", "gateway") {
			b.WriteString("✅ **API/Gateway Detected**: Implement proper authentication.\n" +
				"   - Recommendation: Use OAuth 2.0 or JWT tokens\n" +
				"   - Add rate limiting to prevent DDoS attacks\n\n")
		}
		if edges == 0 && nodes > 1 {
			b.WriteString("⚠️ **Isolated Components**: Multiple nodes without connections may indicate:\n" +
				"   - Incomplete architecture diagram\n" +
				"   - Potential security silos (can be good or bad)\n\n")
		}
	}

	b.WriteString(`### 2. Best Practices Recommendations

1. **Network Segmentation**: Ensure proper VPC/subnet isolation
2. **Authentication**: Implement MFA for all user-facing components
3. **Monitoring**: Add centralized logging (ELK/Splunk)
4. **Secrets Management**: Use HashiCorp Vault or AWS Secrets Manager

### 3. Compliance Notes

- **GDPR**: Ensure data processing consent and right to deletion
- **SOC2**: Implement access controls and audit trails
- **HIPAA**: If handling PHI, ensure encryption and access logging

### 4. Risk Rating

`)
	fmt.Fprintf(&b, "**Overall Risk: %s**\n\n", RateRisk(nodes, edges))

	switch {
	case edges == 0 && nodes > 1:
		b.WriteString("⚠️ Architecture appears incomplete. Add connections between components.\n")
	case edges > 0:
		b.WriteString("✅ Architecture shows proper component connectivity.\n")
	default:
		b.WriteString("\n")
	}

	b.WriteString("\n---\n*Note: This is a demo analysis. Connect your Google Gemini API key for AI-powered insights.*\n")
	return b.String()
}

// componentTypes lists node type counts in first-seen order.
func componentTypes(d Diagram) string {
	var counts []typeCount
	index := make(map[string]int)
	for _, node := range d.Nodes {
		t := nodeType(node)
		i, ok := index[t]
		if !ok {
			i = len(counts)
			index[t] = i
			counts = append(counts, typeCount{name: t})
		}
		counts[i].count++
	}

	if len(counts) == 0 {
		return "Default nodes"
	}
	parts := make([]string, len(counts))
	for i, c := range counts {
		parts[i] = fmt.Sprintf("%s: %d", c.name, c.count)
	}
	return strings.Join(parts, ", ")
}

// anyNodeMentions reports whether any node, serialized as a whole, contains
// one of the keywords case-insensitively.
func anyNodeMentions(d Diagram, keywords ...string) bool {
	for _, node := range d.Nodes {
		raw, err := json.Marshal(node)
		if err != nil {
			continue
		}
		text := strings.ToLower(string(raw))
		for _, kw := range keywords {
			if strings.Contains(text, kw) {
				return true
			}
		}
	}
	return false
}
