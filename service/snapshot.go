package service

import (
	"fmt"
	"strings"
	"time"

	"casedraft-backend/engine"
	"casedraft-backend/models"
)

// feedbackPrefix marks inputs that came from draft feedback so the snapshot
// can present them apart from the narrative
const feedbackPrefix = "fb_"

// buildSnapshot derives the engine context from the full case details. It is
// recomputed for every consult and never stored.
func buildSnapshot(c *models.Case, now time.Time) engine.Snapshot {
	snap := engine.Snapshot{
		CaseID:        c.ID,
		CaseVersion:   c.Version,
		Title:         c.Title,
		Tier:          c.Tier,
		Facts:         make(map[string]string, len(c.Details.Facts)),
		References:    append([]models.Reference(nil), c.Details.References...),
		OpenQuestions: append([]string(nil), c.OpenQuestions...),
		BuiltAt:       now,
	}
	for k, v := range c.Details.Facts {
		snap.Facts[k] = v
	}
	for _, n := range c.Details.Narrative {
		if strings.HasPrefix(n.EventID, feedbackPrefix) {
			snap.Feedback = append(snap.Feedback, n.Text)
			continue
		}
		snap.Narrative = append(snap.Narrative, n.Text)
	}
	return snap
}

func reasoningInstructions(c *models.Case) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Case tier: %s. ", c.Tier)
	b.WriteString("Decide whether the facts are sufficient to draft a document. ")
	b.WriteString("If not, ask only the questions that block drafting and request lookups for the legal sources you need. ")
	b.WriteString("If they are, return an ordered resolution plan.")
	if c.LatestPlan != nil {
		fmt.Fprintf(&b, " A plan (version %d) already exists; revise it in light of new facts and feedback.", c.LatestPlan.Version)
	}
	if c.ReplanCount > 0 {
		fmt.Fprintf(&b, " Drafting failed %d time(s) with the previous plan; simplify it.", c.ReplanCount)
	}
	return b.String()
}

func draftingInstructions(c *models.Case) string {
	switch c.Tier {
	case models.TierAdministrative:
		return "Draft a concise administrative document. Keep it to the essential grounds and requests."
	case models.TierComplex:
		return "Draft a thorough document. Address every plan step, cite the references, and anticipate counterarguments."
	default:
		return "Draft a complete document following the plan steps in order and citing the references where relevant."
	}
}
