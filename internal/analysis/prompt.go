package analysis

const promptTemplate = `You are a senior security architect reviewing a system architecture diagram.

Analyze the following architecture and provide:
1. **Security Assessment**: Identify potential vulnerabilities and security concerns
2. **Best Practices**: Recommend security improvements
3. **Compliance Notes**: Mention any compliance considerations (GDPR, SOC2, etc.)
4. **Risk Rating**: Provide an overall risk rating (Low/Medium/High)

Keep your response concise but actionable. Format with clear sections.

Architecture Diagram:
`

// BuildPrompt returns the security review prompt for d.
func BuildPrompt(d Diagram) string {
	return promptTemplate + Format(d) + "\n"
}
