package triage

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/medroute/internal/retrieval"
)

// MaxPromptExamples caps how many retrieved cases are shown to the model.
const MaxPromptExamples = 3

func buildSystemPrompt(clinics []string) string {
	return fmt.Sprintf(`You are a hospital triage assistant. You read a patient's complaint and
recommend which outpatient clinic they should book. You do not diagnose.

Choose clinics only from this list:
%s

Answer with a single JSON object and nothing else:
{
  "primary_clinic": {"name": "<clinic>", "reason": "<one sentence>", "confidence": <0..1>},
  "secondary_clinics": [{"name": "<clinic>", "reason": "<one sentence>", "confidence": <0..1>}]
}
secondary_clinics may be empty. Keep reasons short and in the patient's language.`,
		"- "+strings.Join(clinics, "\n- "))
}

func buildPrompt(complaint string, hits []retrieval.Hit) string {
	var b strings.Builder

	if n := min(len(hits), MaxPromptExamples); n > 0 {
		b.WriteString("Similar past cases and where they were routed:\n")
		for _, h := range hits[:n] {
			fmt.Fprintf(&b, "- %q -> %s\n", h.Complaint, h.Clinic)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Patient complaint:\n%s\n", strings.TrimSpace(complaint))
	return b.String()
}
