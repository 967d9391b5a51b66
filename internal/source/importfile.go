package source

import (
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/shadowbook/internal/identity"
)

// contactSchema validates one entry of a user-supplied import file. Entries
// are validated individually so a single bad entry is skipped, not fatal.
const contactSchema = `{
	"type": "object",
	"properties": {
		"name":    {"type": "string"},
		"phones":  {"type": "array", "items": {"type": "string"}},
		"emails":  {"type": "array", "items": {"type": "string"}},
		"company": {"type": "string"}
	},
	"anyOf": [
		{"required": ["name"]},
		{"required": ["phones"]},
		{"required": ["emails"]}
	],
	"additionalProperties": false
}`

// ImportValidator checks user-supplied import files against the contact
// schema. Compile once, reuse per file.
type ImportValidator struct {
	schema *jsonschema.Schema
}

func NewImportValidator() (*ImportValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(contactSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal contact schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("contact.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("contact.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile contact schema: %w", err)
	}
	return &ImportValidator{schema: schema}, nil
}

// ParseFile reads a JSON array of contacts, validating each entry. Valid
// entries are returned as raw records ready for resolution; invalid entries
// come back as per-entry errors for the caller to log. Only an unreadable or
// structurally broken file is a hard error.
func (v *ImportValidator) ParseFile(path string) ([]identity.RawContact, []error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()

	doc, err := jsonschema.UnmarshalJSON(f)
	if err != nil {
		return nil, nil, fmt.Errorf("parse import file %s: %w", path, err)
	}
	entries, ok := doc.([]any)
	if !ok {
		return nil, nil, fmt.Errorf("import file %s: top level must be a JSON array", path)
	}

	var records []identity.RawContact
	var skipped []error
	for i, entry := range entries {
		if err := v.schema.Validate(entry); err != nil {
			skipped = append(skipped, fmt.Errorf("entry %d: %v", i, err))
			continue
		}
		records = append(records, rawFromEntry(entry.(map[string]any)))
	}
	return records, skipped, nil
}

func rawFromEntry(m map[string]any) identity.RawContact {
	var r identity.RawContact
	if s, ok := m["name"].(string); ok {
		r.Name = s
	}
	if s, ok := m["company"].(string); ok {
		r.Company = s
	}
	r.Phones = stringList(m["phones"])
	r.Emails = stringList(m["emails"])
	return r
}

func stringList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
