package job

import (
	"net/http"

	"github.com/spf13/cobra"
	jobpayload "github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

var identity jobpayload.ArtifactIdentity

var blockerCmd = &cobra.Command{
	Use:   "blocker",
	Short: "Show the in-progress job that must finish before a document exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		blocking := &models.Job{}
		status, err := call(http.MethodPost, "/v1/blockers", identity, blocking)
		if err != nil {
			return err
		}
		if status == http.StatusNoContent {
			return writeCmdOut(cmd, "No job blocks %s\n", identity.DocumentKey)
		}
		return writeCmdOut(cmd, "%s job %s is %s\n", blocking.JobType, blocking.ID, blocking.Status)
	},
}

func init() {
	f := blockerCmd.Flags()
	f.StringVar(&identity.ProjectID, "project", "", "Project id")
	f.StringVar(&identity.SessionID, "session", "", "Session id")
	f.StringVar(&identity.StageSlug, "stage", "", "Stage slug")
	f.IntVar(&identity.IterationNumber, "iteration", 1, "Iteration number")
	f.StringVar(&identity.ModelID, "model", "", "Model id")
	f.StringVar(&identity.DocumentKey, "document", "", "Document key")
	f.StringVar(&identity.BranchKey, "branch", "", "Branch key")
	f.StringVar(&identity.SourceGroupFragment, "source-group", "", "Source group fragment")
}
