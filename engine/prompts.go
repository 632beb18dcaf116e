package engine

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const reasoningSystemInstruction = `You are a senior Romanian litigation lawyer reviewing a client matter.
Decide whether the facts are sufficient to prepare a legal document.
Answer ONLY with a JSON object matching this shape:
{"verdict": "need-more-info" | "plan-ready",
 "questions": ["..."],
 "lookups": [{"query": "...", "source": "regulation|case_law|doctrine", "limit": 3}],
 "steps": [{"title": "...", "detail": "..."}],
 "document_type": "...",
 "rationale": "..."}
Use "need-more-info" with concrete follow-up questions or lookups when a material fact is missing.
Use "plan-ready" with ordered steps when the document can be drafted.`

const draftingSystemInstruction = `You are a Romanian litigation lawyer drafting court documents.
Use formal legal language. Avoid flowery adjectives. Use objective descriptors only.
Write the complete document in Markdown, starting with a level-1 heading holding the document title.
Use EXACT facts from CLIENT FACTS. Do NOT invent dates, amounts or names; leave [__] placeholders instead.
Cite only the legal references provided.`

func reasoningPrompt(p *ReasoningPayload) (string, error) {
	if p == nil {
		return "", fmt.Errorf("missing reasoning payload")
	}
	snapshot, err := json.MarshalIndent(p.Snapshot, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	var b strings.Builder
	b.WriteString("CASE CONTEXT:\n")
	b.Write(snapshot)
	b.WriteString("\n\n")
	if p.PriorPlan != nil {
		b.WriteString("PREVIOUS PLAN (a draft was produced from it; the client asked for changes):\n")
		for i, step := range p.PriorPlan.Steps {
			fmt.Fprintf(&b, "%d. %s\n", i+1, step.Title)
		}
		b.WriteString("\n")
	}
	if p.Instructions != "" {
		b.WriteString("INSTRUCTIONS:\n")
		b.WriteString(p.Instructions)
		b.WriteString("\n")
	}
	return b.String(), nil
}

func draftingPrompt(p *DraftingPayload) (string, error) {
	if p == nil {
		return "", fmt.Errorf("missing drafting payload")
	}

	var b strings.Builder
	if p.Plan.DocumentType != "" {
		fmt.Fprintf(&b, "DOCUMENT TYPE: %s\n\n", p.Plan.DocumentType)
	}

	b.WriteString("PLAN:\n")
	for i, step := range p.Plan.Steps {
		fmt.Fprintf(&b, "%d. %s", i+1, step.Title)
		if step.Detail != "" {
			fmt.Fprintf(&b, " - %s", step.Detail)
		}
		b.WriteString("\n")
	}

	b.WriteString("\nCLIENT FACTS:\n")
	for _, key := range sortedKeys(p.Snapshot.Facts) {
		fmt.Fprintf(&b, "- %s: %s\n", key, p.Snapshot.Facts[key])
	}
	for _, line := range p.Snapshot.Narrative {
		fmt.Fprintf(&b, "- %s\n", line)
	}

	if len(p.Snapshot.References) > 0 {
		b.WriteString("\nLEGAL REFERENCES:\n")
		for _, ref := range p.Snapshot.References {
			citation := ref.Citation
			if citation == "" {
				citation = ref.Source
			}
			fmt.Fprintf(&b, "[%s] %s\n", citation, ref.Excerpt)
		}
	}

	if p.Instructions != "" {
		b.WriteString("\nINSTRUCTIONS:\n")
		b.WriteString(p.Instructions)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite the document now:")
	return b.String(), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
