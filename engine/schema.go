package engine

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"casedraft-backend/models"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/verdict.schema.json
var verdictSchemaJSON string

const verdictSchemaURL = "https://casedraft.local/schemas/verdict.schema.json"

var verdictSchema = mustCompileVerdictSchema()

func mustCompileVerdictSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(verdictSchemaURL, strings.NewReader(verdictSchemaJSON)); err != nil {
		panic(fmt.Sprintf("verdict schema load failed: %v", err))
	}
	schema, err := c.Compile(verdictSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("verdict schema compile failed: %v", err))
	}
	return schema
}

// ParseVerdict validates raw engine output against the verdict schema and
// decodes it. Markdown code fences around the JSON are tolerated.
func ParseVerdict(raw []byte) (*models.Verdict, error) {
	raw = stripFences(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty verdict")
	}

	var doc interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("verdict is not valid JSON: %w", err)
	}
	if err := verdictSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("verdict schema validation failed: %w", err)
	}

	var v models.Verdict
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode verdict: %w", err)
	}
	return &v, nil
}

func stripFences(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return []byte(strings.TrimSpace(s))
}
