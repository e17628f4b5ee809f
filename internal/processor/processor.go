package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/model"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/notify"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
	"github.com/tsylvester/paynless-framework-sub003/internal/retry"
	"github.com/tsylvester/paynless-framework-sub003/internal/storage"
)

// Processor-specific failure codes.
const (
	CodeRecipeStepNotFound      = "RECIPE_STEP_NOT_FOUND"
	CodeRecipeStepLookupFailed  = "RECIPE_STEP_LOOKUP_FAILED"
	CodeContextAssemblyFailed   = "CONTEXT_ASSEMBLY_FAILED"
	CodeModelRequestRejected    = "MODEL_REQUEST_REJECTED"
	CodeContributionSaveFailed  = "CONTRIBUTION_SAVE_FAILED"
	CodeContinuationFailed      = "CONTINUATION_FAILED"
	CodeRenderEnqueueFailed     = "RENDER_ENQUEUE_FAILED"
	CodePrerequisiteLookupError = "PREREQUISITE_RESOLUTION_FAILED"
	CodeChildEnqueueFailed      = "CHILD_ENQUEUE_FAILED"
	CodeRenderSourceMissing     = "RENDER_SOURCE_MISSING"
	CodeRenderSaveFailed        = "RENDER_SAVE_FAILED"
	CodeUnexpectedPayload       = "UNEXPECTED_PAYLOAD"
)

// Error carries a failure code the orchestrator reports in place of
// UNHANDLED_EXCEPTION.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, or
// UNHANDLED_EXCEPTION.
func CodeOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) && perr.Code != "" {
		return perr.Code
	}
	return notify.CodeUnhandledException
}

// ModelCaller sends one prompt to a model.
type ModelCaller interface {
	Call(ctx context.Context, req model.Request) (*model.Response, error)
}

// FileManager persists contributions and rendered documents.
type FileManager interface {
	SaveContribution(ctx context.Context, req storage.SaveRequest) (*models.Contribution, error)
	LoadContribution(ctx context.Context, id string) (*models.Contribution, []byte, error)
	DocumentChunks(ctx context.Context, rootID string) ([]*models.Contribution, [][]byte, error)
	SaveRendered(ctx context.Context, doc storage.RenderedDocument) (string, error)
}

// ContextAssembler builds the prompt an EXECUTE job sends.
type ContextAssembler interface {
	Assemble(ctx context.Context, req AssembleRequest) (Assembled, error)
}

type RecipeSteps interface {
	GetRecipeStep(ctx context.Context, id string) (*recipe.Step, error)
	StepByNumber(stage string, n int) (*recipe.Step, bool)
}

type BlockerResolver interface {
	ResolveNextBlocker(ctx context.Context, identity job.ArtifactIdentity) (*models.Job, error)
}

// JobWriter enqueues child jobs.
type JobWriter interface {
	InsertJobs(ctx context.Context, jobs ...*models.Job) error
}

type Retrier interface {
	RetryJob(ctx context.Context, j models.Job, failed ...retry.FailedAttempt) error
	ContinueJob(ctx context.Context, j models.Job, payload *job.ExecutePayload, contributionID string) (bool, error)
}

// Deps are the collaborators handed to every processor.
type Deps struct {
	Model     ModelCaller
	Files     FileManager
	Assembler ContextAssembler
	Steps     RecipeSteps
	Blocker   BlockerResolver
	Jobs      JobWriter
	Retrier   Retrier
	Notifier  notify.Emitter
}

// Request is one dispatch of a claimed job.
type Request struct {
	Job       models.Job
	Payload   job.Payload
	AuthToken string
	Deps      Deps
}

// Result is the status a processor leaves the job in. Results is stored as
// JSON on the row.
type Result struct {
	Status  models.JobStatus
	Results any
}

type Processor interface {
	Process(ctx context.Context, req Request) (Result, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, req Request) (Result, error)

func (f ProcessorFunc) Process(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// Override replaces the processor for one kind on a single dispatch.
type Override struct {
	Kind      job.Kind
	Processor Processor
}

// Dispatcher routes a payload to the processor registered for its kind.
type Dispatcher struct {
	processors map[job.Kind]Processor
}

// NewDispatcher returns a dispatcher with the default processor for every
// kind.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		processors: map[job.Kind]Processor{
			job.KindSimpleExecute: ExecuteProcessor{},
			job.KindComplexPlan:   PlanProcessor{},
			job.KindRender:        RenderProcessor{},
		},
	}
}

// Register replaces the processor for kind.
func (d *Dispatcher) Register(kind job.Kind, p Processor) {
	d.processors[kind] = p
}

// Dispatch runs the processor for req.Payload's kind. Overrides win over
// registered processors.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, overrides ...Override) (Result, error) {
	if req.Payload == nil {
		return Result{}, &Error{Code: CodeUnexpectedPayload, Err: errors.New("payload is nil")}
	}

	kind := req.Payload.Kind()
	p, ok := d.processors[kind]
	for _, o := range overrides {
		if o.Kind == kind && o.Processor != nil {
			p, ok = o.Processor, true
		}
	}
	if !ok || p == nil {
		return Result{}, fmt.Errorf("no processor registered for kind %q", kind)
	}

	return p.Process(ctx, req)
}

// emit sends a user-facing job event when the job has an owner.
func emit(ctx context.Context, req Request, t notify.Type, data any) {
	if req.Job.UserID == "" {
		return
	}
	notify.Deliver(ctx, req.Deps.Notifier, notify.Notification{
		TargetUserID: req.Job.UserID,
		Type:         t,
		Data:         data,
	})
}

func eventData(req Request, common *job.CommonFields) notify.JobEventData {
	return notify.JobEventData{
		JobID:        req.Job.ID,
		SessionID:    req.Job.SessionID,
		StageSlug:    req.Job.StageSlug,
		IterationNum: req.Job.IterationNumber,
		ModelID:      common.ModelID,
	}
}
