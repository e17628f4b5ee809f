package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

// Kind names the processing strategy a payload dispatches to.
type Kind string

const (
	KindSimpleExecute Kind = "simple-execute"
	KindComplexPlan   Kind = "complex-plan"
	KindRender        Kind = "render"
)

// Payload is the sealed sum type of job payloads. The only implementations
// are *ExecutePayload, *PlanPayload and *RenderPayload.
type Payload interface {
	Kind() Kind
	JobType() models.JobType
	Common() *CommonFields
	sealed()
}

// CommonFields are carried by every payload variant.
type CommonFields struct {
	ProjectID             string `json:"projectId"`
	SessionID             string `json:"sessionId"`
	StageSlug             string `json:"stageSlug"`
	IterationNumber       int    `json:"iterationNumber"`
	ModelID               string `json:"model_id"`
	ModelSlug             string `json:"model_slug,omitempty"`
	UserJWT               string `json:"user_jwt,omitempty"`
	WalletID              string `json:"walletId,omitempty"`
	ContinueUntilComplete bool   `json:"continueUntilComplete,omitempty"`
	MaxRetries            *int   `json:"maxRetries,omitempty"`
	ContinuationCount     int    `json:"continuation_count,omitempty"`
	TargetContributionID  string `json:"target_contribution_id,omitempty"`
}

func (c *CommonFields) Common() *CommonFields { return c }

type CanonicalPathParams struct {
	ContributionType    string `json:"contributionType"`
	SourceAnchorModel   string `json:"sourceAnchorModel,omitempty"`
	BranchKey           string `json:"branchKey,omitempty"`
	ParallelGroup       *int   `json:"parallelGroup,omitempty"`
	SourceGroupFragment string `json:"sourceGroupFragment,omitempty"`
}

type PlannerMetadata struct {
	RecipeStepID     string `json:"recipe_step_id"`
	RecipeTemplateID string `json:"recipe_template_id,omitempty"`
}

type StepInfo struct {
	CurrentStep int `json:"current_step"`
	TotalSteps  int `json:"total_steps"`
}

// ExecutePayload asks one model to produce one artifact.
type ExecutePayload struct {
	CommonFields
	OutputType            string              `json:"output_type"`
	CanonicalPathParams   CanonicalPathParams `json:"canonicalPathParams"`
	Inputs                map[string]any      `json:"inputs"`
	PromptTemplateID      string              `json:"prompt_template_id,omitempty"`
	DocumentKey           string              `json:"document_key,omitempty"`
	DocumentRelationships map[string]any      `json:"document_relationships,omitempty"`
	PlannerMetadata       *PlannerMetadata    `json:"planner_metadata,omitempty"`
	StepInfo              *StepInfo           `json:"step_info,omitempty"`
	SourceContributionID  *string             `json:"sourceContributionId,omitempty"`
}

func (*ExecutePayload) Kind() Kind              { return KindSimpleExecute }
func (*ExecutePayload) JobType() models.JobType { return models.JobTypeExecute }
func (*ExecutePayload) sealed()                 {}

// PlanPayload decomposes a recipe step into child jobs.
type PlanPayload struct {
	CommonFields
	PlannerMetadata     *PlannerMetadata `json:"planner_metadata,omitempty"`
	StepInfo            *StepInfo        `json:"step_info,omitempty"`
	ContextForDocuments []map[string]any `json:"context_for_documents,omitempty"`
}

func (*PlanPayload) Kind() Kind              { return KindComplexPlan }
func (*PlanPayload) JobType() models.JobType { return models.JobTypePlan }
func (*PlanPayload) sealed()                 {}

// RecipeStepID returns the originating recipe step, if the planner recorded one.
func (p *PlanPayload) RecipeStepID() string {
	if p.PlannerMetadata == nil {
		return ""
	}
	return strings.TrimSpace(p.PlannerMetadata.RecipeStepID)
}

// RenderPayload assembles a document from a saved contribution.
type RenderPayload struct {
	CommonFields
	DocumentIdentity     string `json:"documentIdentity"`
	DocumentKey          string `json:"documentKey"`
	SourceContributionID string `json:"sourceContributionId"`
	TemplateFilename     string `json:"template_filename,omitempty"`
}

func (*RenderPayload) Kind() Kind              { return KindRender }
func (*RenderPayload) JobType() models.JobType { return models.JobTypeRender }
func (*RenderPayload) sealed()                 {}

// DecodePayload validates raw against the schema for jobType and decodes it
// into the matching variant. Every failure is a *ValidationError.
func DecodePayload(jobType models.JobType, raw []byte) (Payload, error) {
	schema, ok := schemas[jobType]
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("unknown job_type %q", jobType)}
	}

	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ValidationError{Reason: "payload is empty"}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("payload is not valid JSON: %v", err)}
	}

	if err := schema.Validate(doc); err != nil {
		return nil, newValidationError(err)
	}

	var payload Payload
	switch jobType {
	case models.JobTypeExecute:
		payload = &ExecutePayload{}
	case models.JobTypePlan:
		payload = &PlanPayload{}
	case models.JobTypeRender:
		payload = &RenderPayload{}
	}

	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("decode %s payload: %v", jobType, err)}
	}

	return payload, nil
}

// Encode marshals a payload for persistence.
func Encode(p Payload) ([]byte, error) {
	return json.Marshal(p)
}
