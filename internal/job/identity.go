package job

import (
	"strings"
)

// ArtifactIdentity names the document some job must ultimately produce. It
// is a query key and is never persisted.
type ArtifactIdentity struct {
	ProjectID           string `json:"projectId"`
	SessionID           string `json:"sessionId"`
	StageSlug           string `json:"stageSlug"`
	IterationNumber     int    `json:"iterationNumber"`
	ModelID             string `json:"model_id"`
	DocumentKey         string `json:"documentKey"`
	BranchKey           string `json:"branchKey,omitempty"`
	ParallelGroup       *int   `json:"parallelGroup,omitempty"`
	SourceGroupFragment string `json:"sourceGroupFragment,omitempty"`
}

// Named reports whether the identity carries a document key. Unnamed
// identities can have no blocker.
func (a ArtifactIdentity) Named() bool {
	return strings.TrimSpace(a.DocumentKey) != ""
}

// Scoped reports whether the identity carries every coordinate needed to
// scope a store query.
func (a ArtifactIdentity) Scoped() bool {
	return strings.TrimSpace(a.ProjectID) != "" &&
		strings.TrimSpace(a.SessionID) != "" &&
		strings.TrimSpace(a.StageSlug) != "" &&
		strings.TrimSpace(a.ModelID) != ""
}

// IdentityOf returns the identity of the artifact p produces, or false when
// the payload does not name a document.
func IdentityOf(p Payload) (ArtifactIdentity, bool) {
	c := p.Common()
	id := ArtifactIdentity{
		ProjectID:       c.ProjectID,
		SessionID:       c.SessionID,
		StageSlug:       c.StageSlug,
		IterationNumber: c.IterationNumber,
		ModelID:         c.ModelID,
	}

	switch v := p.(type) {
	case *RenderPayload:
		id.DocumentKey = v.DocumentKey
	case *ExecutePayload:
		id.DocumentKey = v.OutputType
		id.BranchKey = v.CanonicalPathParams.BranchKey
		id.ParallelGroup = v.CanonicalPathParams.ParallelGroup
		id.SourceGroupFragment = v.CanonicalPathParams.SourceGroupFragment
	case *PlanPayload:
		return id, false
	}

	return id, id.Named()
}
