package ai

import (
	"fmt"
	"strings"

	"github.com/huntrelay/huntrelay/internal/domain"
)

// SystemPrompt renders the fixed instruction text sent to every
// Driver ahead of the hunt's observations. The contract (role,
// output shape, refusal-to-speculate rule) is spec.md §3's
// "supplemented feature" for the AI system prompt: the distilled
// spec names the AI Pipeline's inputs and outputs but not its exact
// wording, so this is written in the teacher's register for
// operator-facing generated text (terse, declarative, no hedging).
func SystemPrompt(moduleName string, osTag domain.OSTag, evictedCount int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a security analyst reviewing the output of the hunt module %q run against a %s host.\n", moduleName, osTag)
	b.WriteString("Write a narrative report describing what was observed, step by step, in the order the steps ran.\n")
	b.WriteString("State only what the command output shows. Do not speculate about systems or data you were not shown.\n")
	b.WriteString("Call out anything that looks like a security finding, but do not fabricate indicators that aren't present in the output.\n")
	if evictedCount > 0 {
		fmt.Fprintf(&b, "%d earlier step(s) were omitted from this prompt to stay within the context budget; do not assume they succeeded or failed.\n", evictedCount)
	}
	return b.String()
}

// FindingsPrompt renders the instruction sent to ExtractFindings,
// asking the model to re-read a completed report and return
// structured findings rather than prose.
func FindingsPrompt(reportText string) string {
	var b strings.Builder
	b.WriteString("Re-read the following hunt report and extract a list of findings.\n")
	b.WriteString("Each finding needs: a short title, a severity (critical/high/medium/low/info), ")
	b.WriteString("a confidence between 0 and 1, zero or more MITRE ATT&CK technique IDs, and a remediation plan ")
	b.WriteString("split into immediate, short-term, and long-term actions.\n")
	b.WriteString("If the report describes no actionable security observation, return an empty list — do not invent a finding to fill the response.\n\n")
	b.WriteString("Report:\n")
	b.WriteString(reportText)
	return b.String()
}

// SummaryPrompt renders the instruction sent to SummarizeReport.
func SummaryPrompt(reportText string) string {
	return "Summarize the following hunt report in one paragraph, suitable for a dashboard tile. " +
		"No headers, no bullet points.\n\nReport:\n" + reportText
}
