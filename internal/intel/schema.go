package intel

import "encoding/json"

// Schema is a provider-neutral subset of JSON Schema. It is sent natively
// as a response schema where the API supports one and embedded in the
// prompt otherwise.
type Schema struct {
	Type       string             `json:"type"`
	Properties map[string]*Schema `json:"properties,omitempty"`
	Items      *Schema            `json:"items,omitempty"`
	Required   []string           `json:"required,omitempty"`
	Enum       []string           `json:"enum,omitempty"`
}

func str() *Schema { return &Schema{Type: "string"} }
func num() *Schema { return &Schema{Type: "number"} }
func arr(items *Schema) *Schema { return &Schema{Type: "array", Items: items} }
func enum(vals ...string) *Schema { return &Schema{Type: "string", Enum: vals} }

func obj(props map[string]*Schema, required ...string) *Schema {
	return &Schema{Type: "object", Properties: props, Required: required}
}

// AnalysisSchema returns the schema of a meeting report. Every call returns
// a fresh copy.
func AnalysisSchema() *Schema {
	return obj(map[string]*Schema{
		"executiveSummary": str(),
		"conclusions":      arr(str()),
		"nextSteps": arr(obj(map[string]*Schema{
			"action":   str(),
			"owner":    str(),
			"date":     str(),
			"context":  str(),
			"priority": enum("High", "Medium", "Low"),
			"effort":   num(),
			"impact":   num(),
		}, "action", "owner", "date", "context", "priority", "effort", "impact")),
		"topics": arr(obj(map[string]*Schema{
			"title":             str(),
			"duration_estimate": str(),
			"key_takeaway":      str(),
		}, "title", "key_takeaway")),
		"mindMap": obj(map[string]*Schema{
			"center": str(),
			"branches": arr(obj(map[string]*Schema{
				"label": str(),
				"items": arr(str()),
			}, "label", "items")),
		}, "center", "branches"),
		"sentiment": obj(map[string]*Schema{
			"type":           enum("Positive", "Neutral", "Negative", "Tense"),
			"score":          num(),
			"interpretation": str(),
		}, "type", "score", "interpretation"),
		"productivityScore": num(),
		"alignmentScore":    num(),
		"detectedRisks":     arr(str()),
		"advisors": arr(obj(map[string]*Schema{
			"role":     str(),
			"critique": str(),
			"advice":   str(),
		}, "role", "critique", "advice")),
	},
		"executiveSummary", "conclusions", "nextSteps", "topics",
		"mindMap", "sentiment", "productivityScore", "alignmentScore",
		"detectedRisks", "advisors",
	)
}

// SchemaPrompt renders the report schema as instructions for models without
// native structured output.
func SchemaPrompt() string {
	b, _ := json.Marshal(AnalysisSchema())
	return "Respond with a single JSON object and nothing else. It must conform to this JSON Schema; " +
		"effort and impact are integers from 1 to 5 and alignmentScore is between 0 and 100:\n" + string(b)
}
