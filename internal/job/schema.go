package job

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

// ValidationError reports a payload that does not match the shape its job
// type requires.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// IsValidationError reports whether err is, or wraps, a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func newValidationError(err error) *ValidationError {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Reason: err.Error()}
	}

	leaves := make([]string, 0, 4)
	collectLeaves(ve, &leaves)
	if len(leaves) == 0 {
		return &ValidationError{Reason: ve.Message}
	}
	return &ValidationError{Reason: strings.Join(leaves, "; ")}
}

func collectLeaves(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		location := ve.InstanceLocation
		if location == "" {
			location = "/"
		}
		*out = append(*out, fmt.Sprintf("%s: %s", location, ve.Message))
		return
	}
	for _, cause := range ve.Causes {
		collectLeaves(cause, out)
	}
}

const commonProperties = `
    "projectId": {"type": "string", "minLength": 1},
    "sessionId": {"type": "string", "minLength": 1},
    "stageSlug": {"type": "string", "minLength": 1},
    "iterationNumber": {"type": "integer", "minimum": 0},
    "model_id": {"type": "string", "minLength": 1},
    "model_slug": {"type": "string"},
    "user_jwt": {"type": "string"},
    "walletId": {"type": "string"},
    "continueUntilComplete": {"type": "boolean"},
    "maxRetries": {"type": "integer", "minimum": 0},
    "continuation_count": {"type": "integer", "minimum": 0},
    "target_contribution_id": {"type": "string"}`

const commonRequired = `"projectId", "sessionId", "stageSlug", "iterationNumber", "model_id"`

const plannerMetadataSchema = `{
      "type": "object",
      "required": ["recipe_step_id"],
      "properties": {
        "recipe_step_id": {"type": "string", "minLength": 1},
        "recipe_template_id": {"type": "string"}
      }
    }`

const stepInfoSchema = `{
      "type": "object",
      "required": ["current_step", "total_steps"],
      "properties": {
        "current_step": {"type": "integer", "minimum": 1},
        "total_steps": {"type": "integer", "minimum": 1}
      }
    }`

var executeSchema = `{
  "type": "object",
  "required": [` + commonRequired + `, "output_type", "canonicalPathParams", "inputs"],
  "not": {"required": ["originalFileName"]},
  "properties": {` + commonProperties + `,
    "output_type": {"type": "string", "minLength": 1},
    "canonicalPathParams": {
      "type": "object",
      "required": ["contributionType"],
      "properties": {
        "contributionType": {"type": "string", "minLength": 1},
        "sourceAnchorModel": {"type": "string"},
        "branchKey": {"type": "string"},
        "parallelGroup": {"type": "integer"},
        "sourceGroupFragment": {"type": "string"}
      }
    },
    "inputs": {"type": "object"},
    "prompt_template_id": {"type": "string"},
    "document_key": {"type": "string"},
    "document_relationships": {"type": ["object", "null"]},
    "planner_metadata": ` + plannerMetadataSchema + `,
    "step_info": ` + stepInfoSchema + `,
    "sourceContributionId": {"type": ["string", "null"]}
  }
}`

var planSchema = `{
  "type": "object",
  "required": [` + commonRequired + `],
  "anyOf": [
    {"required": ["planner_metadata"]},
    {"required": ["step_info"]}
  ],
  "properties": {` + commonProperties + `,
    "planner_metadata": ` + plannerMetadataSchema + `,
    "step_info": ` + stepInfoSchema + `,
    "context_for_documents": {"type": "array", "items": {"type": "object"}}
  }
}`

var renderSchema = `{
  "type": "object",
  "required": [` + commonRequired + `, "documentIdentity", "documentKey", "sourceContributionId"],
  "properties": {` + commonProperties + `,
    "documentIdentity": {"type": "string", "minLength": 1},
    "documentKey": {"type": "string", "minLength": 1},
    "sourceContributionId": {"type": "string", "minLength": 1},
    "template_filename": {"type": "string"}
  }
}`

var schemas = map[models.JobType]*jsonschema.Schema{
	models.JobTypeExecute: jsonschema.MustCompileString("execute.json", executeSchema),
	models.JobTypePlan:    jsonschema.MustCompileString("plan.json", planSchema),
	models.JobTypeRender:  jsonschema.MustCompileString("render.json", renderSchema),
}
