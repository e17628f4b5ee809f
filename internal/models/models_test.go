package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
)

type ModelsTestSuite struct {
	suite.Suite
}

func (s *ModelsTestSuite) TestInProgressStatuses() {
	for _, status := range []JobStatus{
		JobStatusPending,
		JobStatusProcessing,
		JobStatusRetrying,
		JobStatusWaitingForChildren,
		JobStatusWaitingForPrerequisite,
	} {
		assert.True(s.T(), status.InProgress(), status)
		assert.False(s.T(), status.Terminal(), status)
	}

	for _, status := range []JobStatus{JobStatusCompleted, JobStatusFailed} {
		assert.False(s.T(), status.InProgress(), status)
		assert.True(s.T(), status.Terminal(), status)
	}
}

func (s *ModelsTestSuite) TestJobTypeValid() {
	assert.True(s.T(), JobTypePlan.Valid())
	assert.True(s.T(), JobTypeExecute.Valid())
	assert.True(s.T(), JobTypeRender.Valid())
	assert.False(s.T(), JobType("execute").Valid())
	assert.False(s.T(), JobType("").Valid())
}

func (s *ModelsTestSuite) TestTableNames() {
	assert.Equal(s.T(), "dialectic_generation_jobs", Job{}.TableName())
	assert.Equal(s.T(), "notifications", Notification{}.TableName())
	assert.Equal(s.T(), "dialectic_contributions", Contribution{}.TableName())
	assert.Len(s.T(), All, 3)
}

func TestModelsTestSuite(t *testing.T) {
	suite.Run(t, new(ModelsTestSuite))
}
