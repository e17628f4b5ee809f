package job

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	jsvc "github.com/tsylvester/paynless-framework-sub003/api/rest/service/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

const submissionsYAML = `
user_id: u1
job_type: EXECUTE
max_retries: 2
payload:
  projectId: project-1
  sessionId: session-1
  stageSlug: thesis
  iterationNumber: 1
  model_id: m1
  output_type: draft
  canonicalPathParams:
    contributionType: thesis
  inputs: {}
---
---
user_id: u1
job_type: PLAN
payload:
  projectId: project-1
  sessionId: session-1
  stageSlug: thesis
  iterationNumber: 1
  model_id: m1
  planner_metadata:
    recipe_step_id: step-1
`

func TestParseSubmissionsReadsEveryDocument(t *testing.T) {
	reqs, err := parseSubmissions([]byte(submissionsYAML))
	require.NoError(t, err)
	require.Len(t, reqs, 2)

	require.Equal(t, models.JobTypeExecute, reqs[0].JobType)
	require.NotNil(t, reqs[0].MaxRetries)
	require.Equal(t, 2, *reqs[0].MaxRetries)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].Payload, &payload))
	require.Equal(t, "draft", payload["output_type"])
	require.Equal(t, map[string]any{"contributionType": "thesis"}, payload["canonicalPathParams"])

	require.Equal(t, models.JobTypePlan, reqs[1].JobType)
	require.Nil(t, reqs[1].MaxRetries)
}

func TestParseSubmissionsAcceptsJSON(t *testing.T) {
	reqs, err := parseSubmissions([]byte(`{"user_id":"u1","job_type":"RENDER","payload":{"documentKey":"draft"}}`))
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Equal(t, models.JobTypeRender, reqs[0].JobType)
}

func TestParseSubmissionsRejectsUnknownType(t *testing.T) {
	_, err := parseSubmissions([]byte("user_id: u1\njob_type: SUMMARIZE\npayload: {}\n"))
	require.ErrorContains(t, err, "SUMMARIZE")
}

func TestSubmitPostsEachJob(t *testing.T) {
	var received []jsvc.CreateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/jobs", r.URL.Path)
		var req jsvc.CreateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received = append(received, req)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Job{ID: uuid.New(), JobType: req.JobType, Status: models.JobStatusPending})
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "jobs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(submissionsYAML), 0o644))

	server, submitPaths = srv.URL, []string{path}
	t.Cleanup(func() { server, submitPaths = "", nil })

	var out bytes.Buffer
	submitCmd.SetOut(&out)
	require.NoError(t, submitCmd.RunE(submitCmd, nil))

	require.Len(t, received, 2)
	require.Equal(t, "u1", received[0].UserID)
	require.Contains(t, out.String(), "Submitted EXECUTE job")
	require.Contains(t, out.String(), "Submitted PLAN job")
}

func TestBlockerReportsNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/blockers", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	server = srv.URL
	identity.DocumentKey = "draft"
	t.Cleanup(func() { server = "" })

	var out bytes.Buffer
	blockerCmd.SetOut(&out)
	require.NoError(t, blockerCmd.RunE(blockerCmd, nil))
	require.Equal(t, "No job blocks draft\n", out.String())
}

func TestCallSurfacesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Invalid payload"}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	server = srv.URL
	t.Cleanup(func() { server = "" })

	status, err := call(http.MethodGet, "/v1/jobs/x", nil, nil)
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.ErrorContains(t, err, "Invalid payload")
}
