package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/model"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
	"github.com/tsylvester/paynless-framework-sub003/internal/retry"
	"github.com/tsylvester/paynless-framework-sub003/internal/storage"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// ExecuteProcessor asks one model for one artifact and saves the output.
type ExecuteProcessor struct{}

func (ExecuteProcessor) Process(ctx context.Context, req Request) (Result, error) {
	p, ok := req.Payload.(*job.ExecutePayload)
	if !ok {
		return Result{}, &Error{Code: CodeUnexpectedPayload, Err: fmt.Errorf("execute processor got %T", req.Payload)}
	}
	deps := req.Deps
	if deps.Model == nil || deps.Files == nil {
		return Result{}, errors.New("execute processor requires a model caller and a file manager")
	}

	step, err := executeStep(ctx, deps.Steps, p)
	if err != nil {
		return Result{}, err
	}

	data := eventData(req, &p.CommonFields)
	data.DocumentKey = p.DocumentKey
	if step != nil {
		data.Step = step.Slug
	}
	emit(ctx, req, notify.TypeExecuteStarted, data)

	assembler := deps.Assembler
	if assembler == nil {
		assembler = PassthroughAssembler{Files: deps.Files}
	}
	prompt, err := assembler.Assemble(ctx, AssembleRequest{Job: req.Job, Payload: p, Step: step})
	if err != nil {
		return Result{}, &Error{Code: CodeContextAssemblyFailed, Err: err}
	}

	resp, err := deps.Model.Call(ctx, model.Request{
		ModelID:      p.ModelID,
		ModelSlug:    p.ModelSlug,
		Prompt:       prompt.Prompt,
		ContinueFrom: prompt.ContinueFrom,
		AuthToken:    req.AuthToken,
	})
	if err != nil {
		return retryOrFail(ctx, req, p, data, err)
	}

	contributionType := strings.TrimSpace(p.CanonicalPathParams.ContributionType)
	if contributionType == "" {
		contributionType = p.OutputType
	}
	var target *string
	if root := strings.TrimSpace(p.TargetContributionID); root != "" {
		target = &root
	}

	contribution, err := deps.Files.SaveContribution(ctx, storage.SaveRequest{
		SessionID:            req.Job.SessionID,
		StageSlug:            req.Job.StageSlug,
		IterationNumber:      req.Job.IterationNumber,
		ModelID:              p.ModelID,
		ContributionType:     contributionType,
		DocumentKey:          documentKeyOf(p),
		Content:              []byte(resp.Content),
		TargetContributionID: target,
		TokensUsedInput:      resp.Usage.InputTokens,
		TokensUsedOutput:     resp.Usage.OutputTokens,
	})
	if err != nil {
		return Result{}, &Error{Code: CodeContributionSaveFailed, Err: err}
	}
	data.ContributionID = contribution.ID

	continued := false
	if resp.Truncated() && p.ContinueUntilComplete {
		if deps.Retrier == nil {
			return Result{}, &Error{Code: CodeContinuationFailed, Err: errors.New("no retrier configured")}
		}
		continued, err = deps.Retrier.ContinueJob(ctx, req.Job, p, contribution.ID)
		if err != nil {
			return Result{}, &Error{Code: CodeContinuationFailed, Err: err}
		}
	}

	var renderID string
	if !continued && strings.TrimSpace(p.DocumentKey) != "" {
		renderID, err = enqueueRender(ctx, req, p, step, contribution.ID)
		if err != nil {
			return Result{}, &Error{Code: CodeRenderEnqueueFailed, Err: err}
		}
	}

	emit(ctx, req, notify.TypeExecuteCompleted, data)
	log.Info("execute job produced contribution",
		"job_id", req.Job.ID,
		"contribution_id", contribution.ID,
		"finish_reason", resp.FinishReason,
		"continued", continued)

	results := map[string]any{
		"contribution_id": contribution.ID,
		"finish_reason":   resp.FinishReason,
		"continued":       continued,
	}
	if renderID != "" {
		results["render_job_id"] = renderID
	}
	return Result{Status: models.JobStatusCompleted, Results: results}, nil
}

func executeStep(ctx context.Context, steps RecipeSteps, p *job.ExecutePayload) (*recipe.Step, error) {
	if steps == nil || p.PlannerMetadata == nil || strings.TrimSpace(p.PlannerMetadata.RecipeStepID) == "" {
		return nil, nil
	}
	step, err := steps.GetRecipeStep(ctx, p.PlannerMetadata.RecipeStepID)
	if err != nil {
		return nil, &Error{Code: CodeRecipeStepLookupFailed, Err: err}
	}
	return step, nil
}

func documentKeyOf(p *job.ExecutePayload) string {
	if key := strings.TrimSpace(p.DocumentKey); key != "" {
		return key
	}
	return p.OutputType
}

// retryOrFail schedules another attempt for a failed model call. Rejected
// requests and exhausted retries fail the job.
func retryOrFail(ctx context.Context, req Request, p *job.ExecutePayload, data notify.JobEventData, callErr error) (Result, error) {
	var status *model.StatusError
	if errors.As(callErr, &status) && !status.Retryable() {
		emit(ctx, req, notify.TypeJobFailed, data)
		return Result{}, &Error{Code: CodeModelRequestRejected, Err: callErr}
	}
	if req.Deps.Retrier == nil {
		return Result{}, callErr
	}

	err := req.Deps.Retrier.RetryJob(ctx, req.Job, retry.FailedAttempt{
		ModelID: p.ModelID,
		Attempt: req.Job.AttemptCount + 1,
		Error:   callErr.Error(),
	})
	switch {
	case err == nil:
		log.Warn("model call failed; job will be retried", "job_id", req.Job.ID, "error", callErr)
		return Result{Status: models.JobStatusRetrying}, nil
	case errors.Is(err, retry.ErrRetriesExhausted):
		emit(ctx, req, notify.TypeJobFailed, data)
		return Result{}, &Error{Code: notify.CodeRetryLoopFailed, Err: fmt.Errorf("%v: %w", callErr, err)}
	default:
		return Result{}, fmt.Errorf("schedule retry after %v: %w", callErr, err)
	}
}

// enqueueRender inserts the RENDER job for the document rooted at this
// contribution chain.
func enqueueRender(ctx context.Context, req Request, p *job.ExecutePayload, step *recipe.Step, contributionID string) (string, error) {
	if req.Deps.Jobs == nil {
		return "", errors.New("no job writer configured")
	}

	root := strings.TrimSpace(p.TargetContributionID)
	if root == "" {
		root = contributionID
	}

	common := p.CommonFields
	common.ContinuationCount = 0
	common.TargetContributionID = ""

	raw, err := job.Encode(&job.RenderPayload{
		CommonFields:         common,
		DocumentIdentity:     root,
		DocumentKey:          p.DocumentKey,
		SourceContributionID: contributionID,
		TemplateFilename:     templateFor(step, p.DocumentKey),
	})
	if err != nil {
		return "", err
	}

	render := &models.Job{
		UserID:          req.Job.UserID,
		SessionID:       req.Job.SessionID,
		StageSlug:       req.Job.StageSlug,
		IterationNumber: req.Job.IterationNumber,
		JobType:         models.JobTypeRender,
		Payload:         raw,
		Status:          models.JobStatusPending,
		MaxRetries:      req.Job.MaxRetries,
		ParentJobID:     req.Job.ParentJobID,
	}
	if err := req.Deps.Jobs.InsertJobs(ctx, render); err != nil {
		return "", err
	}
	return render.ID.String(), nil
}

func templateFor(step *recipe.Step, documentKey string) string {
	if step == nil {
		return ""
	}
	for _, out := range step.Outputs {
		if out.DocumentKey == documentKey {
			return out.TemplateFilename
		}
	}
	return ""
}
