package core

// prompts.go defines the prompts sent to the model and the clean-up applied
// to its answers.  Keeping the wording in one file makes it easy to tweak
// without touching the services.

import (
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"patient-summary-agent/pkg"
)

const (
	// NoCarePlanPrompt is used when the summary carries no care plans.
	NoCarePlanPrompt = "You are a helpful medical assistant. No care plan information is available. " +
		"Respond with general healthy living advice.\n\nAdvice:"

	// CarePlanHeader opens the prompt built from a care plan record.
	CarePlanHeader = "You are a helpful medical assistant. Based on the following care plan:"

	// AdviceInstruction closes the care plan prompt and asks for two or three
	// short pieces of advice.
	AdviceInstruction = "\nProvide 2–3 short and practical pieces of plain-English medical advice.\n\nAdvice:"

	// SOAPTemplate asks for a four-section clinical note for one recorded
	// conversation.
	SOAPTemplate = "You are a clinical documentation assistant. Read the following doctor-patient " +
		"conversation and write a concise SOAP note with four labelled sections: Subjective, " +
		"Objective, Assessment and Plan. Only use information stated in the conversation.\n\n" +
		"Conversation:\n{{.conversation}}\n\nSOAP Note:"

	adviceMarker  = "Advice:"
	soapMarker    = "SOAP Note:"
	noneSpecified = "None specified"
	maxAdvice     = 3
)

var soapPrompt = prompts.NewPromptTemplate(SOAPTemplate, []string{"conversation"})

// BuildAdvicePrompt lists the issues and goals of every care plan in the
// summary.  Goals recorded as "_" are placeholders and are skipped.
func BuildAdvicePrompt(summary *pkg.PatientSummary) string {
	if summary == nil || len(summary.InpatientCarePlansRecord) == 0 {
		return NoCarePlanPrompt
	}

	lines := []string{CarePlanHeader}
	for _, plan := range summary.InpatientCarePlansRecord {
		issues := strings.Join(plan.Addresses, ", ")
		if issues == "" {
			issues = noneSpecified
		}
		goals := make([]string, 0, len(plan.Goal))
		for _, g := range plan.Goal {
			if g != "_" {
				goals = append(goals, g)
			}
		}
		goalText := strings.Join(goals, "; ")
		if goalText == "" {
			goalText = noneSpecified
		}
		lines = append(lines, "- Issues: "+issues, "  Goals: "+goalText)
	}
	lines = append(lines, AdviceInstruction)
	return strings.Join(lines, "\n")
}

// CleanAdvice keeps the text after the last "Advice:" marker and reduces it
// to at most three distinct bullet lines.
func CleanAdvice(raw string) string {
	text := raw
	if i := strings.LastIndex(text, adviceMarker); i >= 0 {
		text = text[i+len(adviceMarker):]
	}

	seen := make(map[string]struct{})
	final := make([]string, 0, maxAdvice)
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		line = strings.TrimSpace(strings.Trim(line, "- "))
		if line == "" {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		final = append(final, "- "+line)
		if len(final) == maxAdvice {
			break
		}
	}
	return strings.Join(final, "\n")
}

// BuildSOAPPrompt renders the SOAP note prompt for one conversation.
func BuildSOAPPrompt(conversation string) (string, error) {
	return soapPrompt.Format(map[string]any{"conversation": conversation})
}

// CleanSOAPNote strips the echoed prompt and markdown emphasis from a
// generated note.
func CleanSOAPNote(raw string) string {
	text := raw
	if i := strings.LastIndex(text, soapMarker); i >= 0 {
		text = text[i+len(soapMarker):]
	}
	text = strings.ReplaceAll(text, "*", "")
	text = strings.ReplaceAll(text, `"}]`, "")
	return strings.TrimSpace(text)
}
