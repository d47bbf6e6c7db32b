package oracle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// RuleJSONSchema describes an acceptable rule reply. Unknown keys are allowed
// and kept for auditing.
func RuleJSONSchema() map[string]any {
	optional := map[string]any{"type": []string{"string", "null"}}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"job_item_selector":   map[string]any{"type": "string", "minLength": 1},
			"title_selector":      map[string]any{"type": "string", "minLength": 1},
			"location_selector":   optional,
			"department_selector": optional,
			"link_selector":       optional,
			"confidence_score":    map[string]any{"type": "number"},
		},
		"required": []string{"job_item_selector", "title_selector"},
	}
}

var (
	ruleSchemaOnce sync.Once
	ruleSchema     *jsonschema.Schema
	ruleSchemaErr  error
)

func compiledRuleSchema() (*jsonschema.Schema, error) {
	ruleSchemaOnce.Do(func() {
		b, err := json.Marshal(RuleJSONSchema())
		if err != nil {
			ruleSchemaErr = fmt.Errorf("marshal schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("rule.json", bytes.NewReader(b)); err != nil {
			ruleSchemaErr = fmt.Errorf("add schema: %w", err)
			return
		}
		ruleSchema, ruleSchemaErr = compiler.Compile("rule.json")
		if ruleSchemaErr != nil {
			ruleSchemaErr = fmt.Errorf("compile schema: %w", ruleSchemaErr)
		}
	})
	return ruleSchema, ruleSchemaErr
}

func validateRule(obj []byte) error {
	schema, err := compiledRuleSchema()
	if err != nil {
		return err
	}
	v, err := decodeForValidation(obj)
	if err != nil {
		return err
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("reply does not match rule schema: %w", err)
	}
	return nil
}
