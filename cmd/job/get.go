package job

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

var getChildren bool

var getCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Print a job, or the jobs it fanned out",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return err
		}

		if getChildren {
			var children models.Jobs
			if _, err := call(http.MethodGet, "/v1/jobs/"+id.String()+"/children", nil, &children); err != nil {
				return err
			}
			return writeJSON(cmd, children)
		}

		j := &models.Job{}
		if _, err := call(http.MethodGet, "/v1/jobs/"+id.String(), nil, j); err != nil {
			return err
		}
		return writeJSON(cmd, j)
	},
}

func init() {
	getCmd.Flags().BoolVar(&getChildren, "children", false, "List the child jobs instead")
}
