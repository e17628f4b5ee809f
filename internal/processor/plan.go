package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// PlanProcessor decomposes a recipe step into one EXECUTE child per output
// for the job's model.
type PlanProcessor struct{}

func (PlanProcessor) Process(ctx context.Context, req Request) (Result, error) {
	p, ok := req.Payload.(*job.PlanPayload)
	if !ok {
		return Result{}, &Error{Code: CodeUnexpectedPayload, Err: fmt.Errorf("plan processor got %T", req.Payload)}
	}
	deps := req.Deps
	if deps.Steps == nil || deps.Jobs == nil {
		return Result{}, errors.New("plan processor requires recipe steps and a job writer")
	}

	step, err := planStep(ctx, deps.Steps, req.Job.StageSlug, p)
	if err != nil {
		return Result{}, err
	}

	prerequisite, err := firstBlocker(ctx, req, p, step)
	if err != nil {
		return Result{}, &Error{Code: CodePrerequisiteLookupError, Err: err}
	}

	outputs := step.Outputs
	if len(outputs) == 0 && strings.TrimSpace(step.OutputType) != "" {
		outputs = []recipe.Output{{DocumentKey: step.OutputType}}
	}
	if len(outputs) == 0 {
		log.Info("plan produced no children", "job_id", req.Job.ID, "recipe_step_id", step.ID)
		return Result{Status: models.JobStatusCompleted, Results: map[string]any{"planned": 0}}, nil
	}

	children := make([]*models.Job, 0, len(outputs))
	for _, out := range outputs {
		child, err := planChild(req, p, step, out, prerequisite)
		if err != nil {
			return Result{}, err
		}
		children = append(children, child)
	}

	if err := deps.Jobs.InsertJobs(ctx, children...); err != nil {
		return Result{}, &Error{Code: CodeChildEnqueueFailed, Err: err}
	}

	ids := make([]string, 0, len(children))
	for _, c := range children {
		ids = append(ids, c.ID.String())
	}

	results := map[string]any{
		"planned":        len(children),
		"child_job_ids":  ids,
		"recipe_step_id": step.ID,
	}
	if prerequisite != nil {
		results["prerequisite_job_id"] = prerequisite.String()
	}

	log.Info("plan enqueued children",
		"job_id", req.Job.ID,
		"recipe_step_id", step.ID,
		"children", len(children),
		"blocked", prerequisite != nil)

	return Result{Status: models.JobStatusWaitingForChildren, Results: results}, nil
}

// planStep finds the recipe step by planner metadata, falling back to the
// step number within the job's stage.
func planStep(ctx context.Context, steps RecipeSteps, stage string, p *job.PlanPayload) (*recipe.Step, error) {
	if id := p.RecipeStepID(); id != "" {
		step, err := steps.GetRecipeStep(ctx, id)
		if err != nil {
			return nil, &Error{Code: CodeRecipeStepLookupFailed, Err: err}
		}
		if step == nil {
			return nil, &Error{Code: CodeRecipeStepNotFound, Err: fmt.Errorf("recipe step %q", id)}
		}
		return step, nil
	}

	if p.StepInfo != nil {
		if step, ok := steps.StepByNumber(stage, p.StepInfo.CurrentStep); ok {
			return step, nil
		}
		return nil, &Error{Code: CodeRecipeStepNotFound, Err: fmt.Errorf("stage %s step %d", stage, p.StepInfo.CurrentStep)}
	}

	return nil, &Error{Code: CodeRecipeStepNotFound, Err: errors.New("payload names no recipe step")}
}

// firstBlocker returns the first job still producing a required input of
// step. The planning job itself never blocks its children.
func firstBlocker(ctx context.Context, req Request, p *job.PlanPayload, step *recipe.Step) (*uuid.UUID, error) {
	if req.Deps.Blocker == nil {
		return nil, nil
	}

	for _, in := range step.InputsRequired {
		if !in.Required {
			continue
		}
		stage := in.Stage
		if stage == "" {
			stage = req.Job.StageSlug
		}

		blocker, err := req.Deps.Blocker.ResolveNextBlocker(ctx, job.ArtifactIdentity{
			ProjectID:       p.ProjectID,
			SessionID:       req.Job.SessionID,
			StageSlug:       stage,
			IterationNumber: req.Job.IterationNumber,
			ModelID:         p.ModelID,
			DocumentKey:     in.DocumentKey,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve blocker for %s: %w", in.DocumentKey, err)
		}
		if blocker == nil || blocker.ID == req.Job.ID {
			continue
		}

		id := blocker.ID
		log.Info("plan children blocked on prerequisite",
			"job_id", req.Job.ID,
			"prerequisite_job_id", id,
			"document_key", in.DocumentKey)
		return &id, nil
	}
	return nil, nil
}

func planChild(req Request, p *job.PlanPayload, step *recipe.Step, out recipe.Output, prerequisite *uuid.UUID) (*models.Job, error) {
	common := p.CommonFields
	common.ContinuationCount = 0
	common.TargetContributionID = ""

	required := make([]string, 0, len(step.InputsRequired))
	for _, in := range step.InputsRequired {
		required = append(required, in.DocumentKey)
	}
	inputs := map[string]any{"required_documents": required}
	for _, doc := range p.ContextForDocuments {
		if key, _ := doc["document_key"].(string); key == out.DocumentKey {
			inputs["document_context"] = doc
		}
	}

	raw, err := job.Encode(&job.ExecutePayload{
		CommonFields: common,
		OutputType:   out.DocumentKey,
		CanonicalPathParams: job.CanonicalPathParams{
			ContributionType: out.ContributionTypeOr(req.Job.StageSlug),
		},
		Inputs:           inputs,
		PromptTemplateID: step.PromptTemplateID,
		DocumentKey:      out.DocumentKey,
		PlannerMetadata:  &job.PlannerMetadata{RecipeStepID: step.ID},
		StepInfo:         p.StepInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("encode child payload: %w", err)
	}

	parent := req.Job.ID
	child := &models.Job{
		ID:              uuid.New(),
		UserID:          req.Job.UserID,
		SessionID:       req.Job.SessionID,
		StageSlug:       req.Job.StageSlug,
		IterationNumber: req.Job.IterationNumber,
		JobType:         models.JobTypeExecute,
		Payload:         raw,
		Status:          models.JobStatusPending,
		MaxRetries:      req.Job.MaxRetries,
		ParentJobID:     &parent,
	}
	if prerequisite != nil {
		id := *prerequisite
		child.Status = models.JobStatusWaitingForPrerequisite
		child.PrerequisiteJobID = &id
	}
	return child, nil
}
