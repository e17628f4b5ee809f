package blocker

import (
	"context"
	"fmt"
	"strings"

	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// priority is the order job types are consulted in. A job earlier in the
// list is closer to producing the artifact.
var priority = []models.JobType{
	models.JobTypeRender,
	models.JobTypeExecute,
	models.JobTypePlan,
}

// RecipeStepLookup resolves a recipe step by id. It returns nil, nil when
// the step is unknown.
type RecipeStepLookup interface {
	GetRecipeStep(ctx context.Context, id string) (*recipe.Step, error)
}

// Resolver finds the in-progress job that must finish before an artifact
// can be produced. It holds no state across calls.
type Resolver struct {
	store store.Reader
	steps RecipeStepLookup
}

// New returns a resolver. steps may be nil, in which case PLAN jobs never
// block.
func New(reader store.Reader, steps RecipeStepLookup) *Resolver {
	if reader == nil {
		panic("blocker resolver requires a job reader")
	}
	return &Resolver{store: reader, steps: steps}
}

// ResolveNextBlocker returns the highest priority in-progress job producing
// the artifact named by identity, or nil when there is none.
func (r *Resolver) ResolveNextBlocker(ctx context.Context, identity job.ArtifactIdentity) (*models.Job, error) {
	if !identity.Named() {
		log.Debug("blocker resolution skipped: document key is empty")
		metrics.BlockerResolutionsTotal.WithLabelValues("short_circuit", "").Inc()
		return nil, nil
	}
	if !identity.Scoped() {
		log.Debug("blocker resolution skipped: identity is missing scope",
			"document_key", identity.DocumentKey,
			"session_id", identity.SessionID,
			"stage_slug", identity.StageSlug,
			"model_id", identity.ModelID)
		metrics.BlockerResolutionsTotal.WithLabelValues("short_circuit", "").Inc()
		return nil, nil
	}

	for _, jobType := range priority {
		found, err := r.firstProducer(ctx, jobType, identity)
		if err != nil {
			return nil, err
		}
		if found != nil {
			log.Info("found blocking job",
				"job_id", found.ID,
				"job_type", found.JobType,
				"status", found.Status,
				"document_key", identity.DocumentKey)
			metrics.BlockerResolutionsTotal.WithLabelValues("found", string(jobType)).Inc()
			return found, nil
		}
	}

	log.Debug("no blocking job",
		"document_key", identity.DocumentKey,
		"model_id", identity.ModelID)
	metrics.BlockerResolutionsTotal.WithLabelValues("none", "").Inc()
	return nil, nil
}

func (r *Resolver) firstProducer(ctx context.Context, jobType models.JobType, identity job.ArtifactIdentity) (*models.Job, error) {
	iteration := identity.IterationNumber
	candidates, err := r.store.SelectJobs(ctx, store.Filter{
		SessionID:       identity.SessionID,
		StageSlug:       identity.StageSlug,
		IterationNumber: &iteration,
		JobType:         jobType,
		Statuses:        models.InProgressStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("query %s jobs: %w", jobType, err)
	}

	for _, candidate := range candidates {
		// the query already filters on status
		if !candidate.Status.InProgress() {
			continue
		}

		payload, err := job.DecodePayload(candidate.JobType, candidate.Payload)
		if err != nil {
			log.Debug("skipping candidate with undecodable payload", "job_id", candidate.ID, "error", err)
			continue
		}

		produced, _ := job.IdentityOf(payload)
		if !inScope(produced, identity) {
			continue
		}

		produces, err := r.produces(ctx, payload, produced, identity)
		if err != nil {
			return nil, err
		}
		if produces {
			return candidate, nil
		}
	}

	return nil, nil
}

// inScope compares the project and model of the candidate's own artifact
// with the wanted one. Every payload schema requires a non-empty model_id.
func inScope(produced, wanted job.ArtifactIdentity) bool {
	return produced.ProjectID == wanted.ProjectID &&
		strings.TrimSpace(produced.ModelID) == wanted.ModelID
}

func (r *Resolver) produces(ctx context.Context, payload job.Payload, produced, wanted job.ArtifactIdentity) (bool, error) {
	key := wanted.DocumentKey

	switch p := payload.(type) {
	case *job.RenderPayload:
		return produced.DocumentKey == key, nil

	case *job.ExecutePayload:
		if produced.DocumentKey != key && p.CanonicalPathParams.ContributionType != key {
			return false, nil
		}
		return discriminatorsMatch(produced, wanted), nil

	case *job.PlanPayload:
		stepID := p.RecipeStepID()
		if r.steps == nil || stepID == "" {
			return false, nil
		}
		step, err := r.steps.GetRecipeStep(ctx, stepID)
		if err != nil {
			return false, fmt.Errorf("lookup recipe step %s: %w", stepID, err)
		}
		return step != nil && step.OutputType == key, nil
	}

	return false, nil
}

// discriminatorsMatch compares the optional branch and group fields only
// when both sides carry them.
func discriminatorsMatch(produced, wanted job.ArtifactIdentity) bool {
	if wanted.BranchKey != "" && produced.BranchKey != "" && wanted.BranchKey != produced.BranchKey {
		return false
	}
	if wanted.ParallelGroup != nil && produced.ParallelGroup != nil && *wanted.ParallelGroup != *produced.ParallelGroup {
		return false
	}
	if wanted.SourceGroupFragment != "" && produced.SourceGroupFragment != "" && wanted.SourceGroupFragment != produced.SourceGroupFragment {
		return false
	}
	return true
}
