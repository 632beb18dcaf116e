// Package classification assigns a complexity tier to a case from a
// data-driven keyword and case-type table.
package classification

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"casedraft-backend/models"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// CaseTypeFact is the fact key holding an explicit case type
const CaseTypeFact = "case_type"

// TierRule maps keyword phrases and case types to one tier
type TierRule struct {
	Tier        models.Tier `yaml:"tier"`
	Description string      `yaml:"description"`
	CaseTypes   []string    `yaml:"case_types"`
	Keywords    []string    `yaml:"keywords"`
}

// Rules is the full classification table
type Rules struct {
	DefaultTier models.Tier `yaml:"default_tier"`
	Tiers       []TierRule  `yaml:"tiers"`
}

// Validate checks the table is usable
func (r Rules) Validate() error {
	if !r.DefaultTier.IsValid() {
		return errors.New("default_tier must be administrative, standard or complex")
	}
	if len(r.Tiers) == 0 {
		return errors.New("at least one tier rule is required")
	}
	for i, rule := range r.Tiers {
		if !rule.Tier.IsValid() {
			return fmt.Errorf("tiers[%d]: invalid tier", i)
		}
		if len(rule.Keywords) == 0 && len(rule.CaseTypes) == 0 {
			return fmt.Errorf("tiers[%d]: keywords or case_types required", i)
		}
	}
	return nil
}

// Match explains why a tier was chosen
type Match struct {
	Tier    models.Tier `json:"tier"`
	Matched []string    `json:"matched,omitempty"`
	Default bool        `json:"default"`
}

type compiledRule struct {
	tier      models.Tier
	phrases   []string // normalised and space padded
	raw       []string
	caseTypes map[string]bool
}

// Classifier evaluates case details against the rule table
type Classifier struct {
	defaultTier models.Tier
	rules       []compiledRule
}

// ParseRules decodes a YAML rule table
func ParseRules(data []byte) (Rules, error) {
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("failed to parse classification rules: %w", err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, fmt.Errorf("invalid classification rules: %w", err)
	}
	return rules, nil
}

// New compiles a classifier from rules
func New(rules Rules) (*Classifier, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{defaultTier: rules.DefaultTier}
	for _, rule := range rules.Tiers {
		cr := compiledRule{
			tier:      rule.Tier,
			caseTypes: make(map[string]bool, len(rule.CaseTypes)),
		}
		for _, kw := range rule.Keywords {
			n := normalize(kw)
			if n == "" {
				continue
			}
			cr.phrases = append(cr.phrases, " "+n+" ")
			cr.raw = append(cr.raw, kw)
		}
		for _, ct := range rule.CaseTypes {
			cr.caseTypes[strings.ToLower(strings.TrimSpace(ct))] = true
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

// Default returns a classifier over the embedded rule table
func Default() (*Classifier, error) {
	rules, err := ParseRules(defaultRules)
	if err != nil {
		return nil, err
	}
	return New(rules)
}

// FromFile loads the rule table from path, or the embedded table when path is empty
func FromFile(path string) (*Classifier, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classification rules: %w", err)
	}
	rules, err := ParseRules(data)
	if err != nil {
		return nil, err
	}
	return New(rules)
}

// ClassifyText assigns a tier to free text
func (c *Classifier) ClassifyText(text string) Match {
	return c.classify(text, "")
}

// Classify assigns a tier to the full case details
func (c *Classifier) Classify(details models.CaseDetails) Match {
	return c.classify(details.Text(), details.Facts[CaseTypeFact])
}

func (c *Classifier) classify(text, caseType string) Match {
	haystack := " " + normalize(text) + " "
	caseType = strings.ToLower(strings.TrimSpace(caseType))

	best := Match{Tier: models.TierUnknown}
	for _, rule := range c.rules {
		var hits []string
		if caseType != "" && rule.caseTypes[caseType] {
			hits = append(hits, "case_type:"+caseType)
		}
		for i, phrase := range rule.phrases {
			if strings.Contains(haystack, phrase) {
				hits = append(hits, rule.raw[i])
			}
		}
		if len(hits) == 0 {
			continue
		}
		if rule.tier > best.Tier {
			best = Match{Tier: rule.tier, Matched: hits}
		} else if rule.tier == best.Tier {
			best.Matched = append(best.Matched, hits...)
		}
	}

	if best.Tier == models.TierUnknown {
		return Match{Tier: c.defaultTier, Default: true}
	}
	return best
}
