package job

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	jsvc "github.com/tsylvester/paynless-framework-sub003/api/rest/service/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"gopkg.in/yaml.v3"
)

var submitPaths []string

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit jobs described in YAML or JSON files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(submitPaths) == 0 {
			return errors.New("at least one --file is required")
		}

		var reqs []*jsvc.CreateRequest
		for _, path := range submitPaths {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			parsed, err := parseSubmissions(data)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			reqs = append(reqs, parsed...)
		}

		for _, req := range reqs {
			created := &models.Job{}
			if _, err := call(http.MethodPost, "/v1/jobs", req, created); err != nil {
				return err
			}
			if err := writeCmdOut(cmd, "Submitted %s job %s (%s)\n", created.JobType, created.ID, created.Status); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	submitCmd.Flags().StringSliceVarP(&submitPaths, "file", "f", nil, "Job files; each YAML document is one job")
}

// submission is the file form of a job. JSON is valid YAML, so one decoder
// reads both.
type submission struct {
	UserID     string         `yaml:"user_id"`
	JobType    models.JobType `yaml:"job_type"`
	MaxRetries *int           `yaml:"max_retries"`
	Payload    map[string]any `yaml:"payload"`
}

func parseSubmissions(data []byte) ([]*jsvc.CreateRequest, error) {
	var reqs []*jsvc.CreateRequest

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var s submission
		if err := dec.Decode(&s); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if s.JobType == "" && s.UserID == "" && len(s.Payload) == 0 {
			continue
		}
		if !s.JobType.Valid() {
			return nil, fmt.Errorf("unknown job_type %q", s.JobType)
		}

		payload, err := json.Marshal(s.Payload)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, &jsvc.CreateRequest{
			UserID:     s.UserID,
			JobType:    s.JobType,
			MaxRetries: s.MaxRetries,
			Payload:    payload,
		})
	}

	return reqs, nil
}
