package blocker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/recipe"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
	"github.com/tsylvester/paynless-framework-sub003/internal/testutil"
	"gorm.io/gorm"
)

type stepLookup map[string]*recipe.Step

func (l stepLookup) GetRecipeStep(_ context.Context, id string) (*recipe.Step, error) {
	return l[id], nil
}

type countingReader struct {
	inner   store.Reader
	queries int
	err     error
}

func (c *countingReader) SelectJobs(ctx context.Context, filter store.Filter) (models.Jobs, error) {
	c.queries++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.SelectJobs(ctx, filter)
}

func identity(documentKey string) job.ArtifactIdentity {
	return job.ArtifactIdentity{
		ProjectID:       "project-1",
		SessionID:       "session-1",
		StageSlug:       "thesis",
		IterationNumber: 1,
		ModelID:         "m1",
		DocumentKey:     documentKey,
	}
}

func setup(t *testing.T) (*gorm.DB, *countingReader) {
	t.Helper()
	db := testutil.OpenTestDB(t)
	t.Cleanup(func() {
		testutil.CloseDB(db)
	})
	return db, &countingReader{inner: store.New(db)}
}

func matchingSteps() stepLookup {
	return stepLookup{
		"step-draft": {ID: "step-draft", OutputType: "draft"},
		"step-other": {ID: "step-other", OutputType: "outline"},
	}
}

// seedProducers seeds a RENDER, an EXECUTE and a PLAN job all producing
// "draft" for model m1.
func seedProducers(t *testing.T, db *gorm.DB, status models.JobStatus) (render, execute, plan *models.Job) {
	t.Helper()
	now := time.Now().UTC()
	plan = testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypePlan, Status: status,
		Payload:   testutil.PlanPayload("m1", "step-draft"),
		CreatedAt: now.Add(-3 * time.Minute),
	})
	execute = testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypeExecute, Status: status,
		Payload:   testutil.ExecutePayload("m1", "draft"),
		CreatedAt: now.Add(-2 * time.Minute),
	})
	render = testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypeRender, Status: status,
		Payload:   testutil.RenderPayload("m1", "draft"),
		CreatedAt: now.Add(-time.Minute),
	})
	return render, execute, plan
}

func setStatus(t *testing.T, db *gorm.DB, row *models.Job, status models.JobStatus) {
	t.Helper()
	require.NoError(t, db.Model(&models.Job{}).Where("id = ?", row.ID).Update("status", string(status)).Error)
}

func TestResolveNextBlockerPrefersRender(t *testing.T) {
	db, reader := setup(t)
	render, _, _ := seedProducers(t, db, models.JobStatusPending)

	got, err := New(reader, matchingSteps()).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, render.ID, got.ID)
	require.Equal(t, models.JobTypeRender, got.JobType)
	require.Equal(t, 1, reader.queries, "render match must stop the search")
}

func TestResolveNextBlockerFallsBackToExecuteThenPlan(t *testing.T) {
	db, reader := setup(t)
	render, execute, plan := seedProducers(t, db, models.JobStatusPending)
	resolver := New(reader, matchingSteps())

	setStatus(t, db, render, models.JobStatusCompleted)
	got, err := resolver.ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, execute.ID, got.ID, "a completed render is skipped in favour of a pending execute")

	setStatus(t, db, execute, models.JobStatusFailed)
	got, err = resolver.ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, plan.ID, got.ID)
}

func TestResolveNextBlockerPlanRequiresMatchingRecipeStep(t *testing.T) {
	db, reader := setup(t)
	testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypePlan,
		Payload: testutil.PlanPayload("m1", "step-other"),
	})
	testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypePlan,
		Payload: testutil.PlanPayload("m1", "step-unknown"),
	})

	got, err := New(reader, matchingSteps()).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = New(reader, nil).ResolveNextBlocker(context.Background(), identity("outline"))
	require.NoError(t, err)
	require.Nil(t, got, "without a recipe lookup plan jobs never block")
}

func TestResolveNextBlockerNeverReturnsTerminalJobs(t *testing.T) {
	for _, status := range []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			db, reader := setup(t)
			seedProducers(t, db, status)

			got, err := New(reader, matchingSteps()).ResolveNextBlocker(context.Background(), identity("draft"))
			require.NoError(t, err)
			require.Nil(t, got)
			require.Equal(t, 3, reader.queries)
		})
	}
}

func TestResolveNextBlockerTreatsEveryInProgressStatusAsBlocking(t *testing.T) {
	for _, status := range models.InProgressStatuses {
		t.Run(string(status), func(t *testing.T) {
			db, reader := setup(t)
			execute := testutil.SeedJob(t, db, testutil.JobInput{
				UserID: "u1", JobType: models.JobTypeExecute, Status: status,
				Payload: testutil.ExecutePayload("m1", "draft"),
			})

			got, err := New(reader, matchingSteps()).ResolveNextBlocker(context.Background(), identity("draft"))
			require.NoError(t, err)
			require.NotNil(t, got)
			require.Equal(t, execute.ID, got.ID)
			require.Equal(t, status, got.Status)
		})
	}
}

func TestResolveNextBlockerIgnoresOtherScopes(t *testing.T) {
	db, reader := setup(t)

	otherModel := testutil.ExecutePayload("m2", "draft")
	otherProject := testutil.ExecutePayload("m1", "draft")
	otherProject["projectId"] = "project-2"

	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeRender, Payload: testutil.RenderPayload("m2", "draft")})
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: otherModel})
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: otherProject})
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", SessionID: "session-2", JobType: models.JobTypeExecute, Payload: testutil.ExecutePayload("m1", "draft")})
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", StageSlug: "antithesis", JobType: models.JobTypeExecute, Payload: testutil.ExecutePayload("m1", "draft")})
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", IterationNumber: 2, JobType: models.JobTypeExecute, Payload: testutil.ExecutePayload("m1", "draft")})
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: testutil.ExecutePayload("m1", "outline")})

	got, err := New(reader, matchingSteps()).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResolveNextBlockerScopesByPayloadModelOnly(t *testing.T) {
	db, reader := setup(t)
	derived := testutil.ExecutePayload("m2", "draft")
	derived["canonicalPathParams"] = map[string]any{"contributionType": "thesis", "sourceAnchorModel": "m1"}
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: derived})

	got, err := New(reader, nil).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestResolveNextBlockerMatchesContributionTypeFallback(t *testing.T) {
	db, reader := setup(t)
	payload := testutil.ExecutePayload("m1", "header_context")
	payload["canonicalPathParams"] = map[string]any{"contributionType": "draft"}
	execute := testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: payload})

	got, err := New(reader, nil).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, execute.ID, got.ID)
}

func TestResolveNextBlockerComparesDiscriminatorsWhenBothSet(t *testing.T) {
	db, reader := setup(t)
	payload := testutil.ExecutePayload("m1", "draft")
	payload["canonicalPathParams"] = map[string]any{"contributionType": "thesis", "branchKey": "branch-a"}
	execute := testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: payload})
	resolver := New(reader, nil)

	want := identity("draft")
	want.BranchKey = "branch-b"
	got, err := resolver.ResolveNextBlocker(context.Background(), want)
	require.NoError(t, err)
	require.Nil(t, got)

	want.BranchKey = "branch-a"
	got, err = resolver.ResolveNextBlocker(context.Background(), want)
	require.NoError(t, err)
	require.Equal(t, execute.ID, got.ID)

	want.BranchKey = ""
	got, err = resolver.ResolveNextBlocker(context.Background(), want)
	require.NoError(t, err)
	require.Equal(t, execute.ID, got.ID)
}

func TestResolveNextBlockerReturnsFirstInStoreOrder(t *testing.T) {
	db, reader := setup(t)
	now := time.Now().UTC()
	first := testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypeExecute, Status: models.JobStatusRetrying,
		Payload: testutil.ExecutePayload("m1", "draft"), CreatedAt: now.Add(-time.Hour),
	})
	testutil.SeedJob(t, db, testutil.JobInput{
		UserID: "u1", JobType: models.JobTypeExecute, Status: models.JobStatusPending,
		Payload: testutil.ExecutePayload("m1", "draft"), CreatedAt: now,
	})

	got, err := New(reader, nil).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID)
}

func TestResolveNextBlockerShortCircuitsWithoutQuery(t *testing.T) {
	db, reader := setup(t)
	seedProducers(t, db, models.JobStatusPending)
	resolver := New(reader, matchingSteps())

	for _, key := range []string{"", "   "} {
		got, err := resolver.ResolveNextBlocker(context.Background(), identity(key))
		require.NoError(t, err)
		require.Nil(t, got)
	}

	unscoped := identity("draft")
	unscoped.ModelID = ""
	got, err := resolver.ResolveNextBlocker(context.Background(), unscoped)
	require.NoError(t, err)
	require.Nil(t, got)

	require.Equal(t, 0, reader.queries)
}

func TestResolveNextBlockerPropagatesStoreErrors(t *testing.T) {
	boom := errors.New("connection reset")
	reader := &countingReader{err: boom}

	got, err := New(reader, nil).ResolveNextBlocker(context.Background(), identity("draft"))
	require.ErrorIs(t, err, boom)
	require.Nil(t, got)
}

func TestResolveNextBlockerSkipsUndecodablePayloads(t *testing.T) {
	db, reader := setup(t)
	broken := testutil.ExecutePayload("m1", "draft")
	delete(broken, "inputs")
	testutil.SeedJob(t, db, testutil.JobInput{UserID: "u1", JobType: models.JobTypeExecute, Payload: broken})

	got, err := New(reader, nil).ResolveNextBlocker(context.Background(), identity("draft"))
	require.NoError(t, err)
	require.Nil(t, got)
}
