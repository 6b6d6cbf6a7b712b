package workflow

import (
	"bytes"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/zulandar/listingdesk/internal/apperr"
)

// definitionSchema is the structural contract for workflow definitions.
// Variant-specific rules live in Definition.Validate.
const definitionSchema = `{
  "type": "object",
  "required": ["name", "trigger", "actions"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "isActive": {"type": "boolean"},
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["new_message", "new_lead", "stage_change", "field_change",
                          "time_based", "no_activity", "date_approaching", "form_submitted"]},
        "from_stage": {"type": "string"},
        "to_stage": {"type": "string"},
        "source": {"type": "string"},
        "field": {"type": "string"},
        "schedule": {"type": "string"},
        "days": {"type": "integer", "minimum": 1},
        "date_field": {"type": "string"},
        "days_before": {"type": "integer", "minimum": 0},
        "form_id": {"type": "string"},
        "channel": {"type": "string"}
      }
    },
    "conditions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["field", "operator"],
        "properties": {
          "field": {"type": "string", "minLength": 1},
          "operator": {"enum": ["equals", "not_equals", "contains", "greater_than",
                                "less_than", "is_empty", "is_not_empty"]}
        }
      }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["type"],
        "properties": {
          "type": {"enum": ["send_email", "send_sms", "create_task", "assign_contact",
                            "update_field", "add_tag", "notify_agent", "post_social",
                            "webhook", "wait", "create_follow_up"]},
          "due_in_days": {"type": "integer"},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}}
        }
      }
    }
  }
}`

const schemaURL = "listingdesk-workflow.json"

var compiledSchema = compileSchema()

func compileSchema() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchema))
	if err != nil {
		panic("workflow: schema: " + err.Error())
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		panic("workflow: schema: " + err.Error())
	}
	return c.MustCompile(schemaURL)
}

// validateSchema checks raw definition JSON and reports violations keyed
// by dotted instance path, e.g. "actions.0.type".
func validateSchema(data []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return apperr.Invalid("definition", "invalid JSON: "+err.Error())
	}
	err = compiledSchema.Validate(inst)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return apperr.Invalid("definition", err.Error())
	}
	ve := &apperr.ValidationError{}
	collectLeaves(*verr.DetailedOutput(), ve)
	if len(ve.Fields) == 0 {
		ve.Add("definition", verr.Error())
	}
	return ve
}

func collectLeaves(u jsonschema.OutputUnit, ve *apperr.ValidationError) {
	if len(u.Errors) == 0 {
		if u.Error != nil {
			ve.Add(instanceField(u.InstanceLocation), u.Error.String())
		}
		return
	}
	for _, c := range u.Errors {
		collectLeaves(c, ve)
	}
}

func instanceField(loc string) string {
	loc = strings.TrimPrefix(loc, "/")
	if loc == "" {
		return "definition"
	}
	return strings.ReplaceAll(loc, "/", ".")
}
