package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/testutil"
	"gorm.io/gorm"
)

type WorkerStatusSuite struct {
	suite.Suite
	db *gorm.DB
}

func TestWorkerStatusSuite(t *testing.T) {
	suite.Run(t, new(WorkerStatusSuite))
}

func (s *WorkerStatusSuite) SetupTest() {
	s.db = testutil.OpenTestDB(s.T())
}

func (s *WorkerStatusSuite) TearDownTest() {
	testutil.CloseDB(s.db)
}

func (s *WorkerStatusSuite) TestStatusEmptyNode() {
	resp, err := New(context.Background(), s.db).Status("   ")
	s.Require().NoError(err)
	s.Empty(resp.NodeID)
	s.Equal(int64(0), resp.TotalClaimedJobs)
	s.Empty(resp.ClaimedByType)
	s.Empty(resp.ActiveClaims)
}

func (s *WorkerStatusSuite) TestStatusAggregatesClaimsAndExpirations() {
	now := time.Now().UTC()

	s.seedClaim("node-a", models.JobTypeExecute, models.JobStatusProcessing, now.Add(2*time.Minute))
	s.seedClaim("node-a", models.JobTypeExecute, models.JobStatusProcessing, now.Add(-2*time.Minute))
	s.seedClaim("node-a", models.JobTypeRender, models.JobStatusProcessing, now.Add(time.Minute))
	s.seedClaim("node-a", models.JobTypePlan, models.JobStatusPending, now.Add(time.Minute))
	s.seedClaim("node-b", models.JobTypeExecute, models.JobStatusProcessing, now.Add(time.Minute))

	resp, err := New(context.Background(), s.db).Status("node-a")
	s.Require().NoError(err)

	s.Equal("node-a", resp.NodeID)
	s.Equal(int64(3), resp.TotalClaimedJobs)
	s.Equal(int64(2), resp.ClaimedByType[string(models.JobTypeExecute)])
	s.Equal(int64(1), resp.ClaimedByType[string(models.JobTypeRender)])
	s.Equal(int64(1), resp.ExpiredLeases)

	s.Require().Len(resp.ActiveClaims, 3)
	s.True(resp.ActiveClaims[0].ClaimExpiresAt.Before(now), "expired leases sort first")
}

func (s *WorkerStatusSuite) seedClaim(node string, jobType models.JobType, status models.JobStatus, expiresAt time.Time) {
	var payload map[string]any
	switch jobType {
	case models.JobTypeRender:
		payload = testutil.RenderPayload("m1", "draft")
	case models.JobTypePlan:
		payload = testutil.PlanPayload("m1", "step-1")
	default:
		payload = testutil.ExecutePayload("m1", "draft")
	}

	row := testutil.NewJob(s.T(), testutil.JobInput{UserID: "u1", JobType: jobType, Status: status, Payload: payload})
	row.ClaimedBy = node
	row.ClaimExpiresAt = &expiresAt
	s.Require().NoError(s.db.Create(row).Error)
}
