package job

import (
	"net/http"

	"github.com/labstack/echo/v4"
	jsvc "github.com/tsylvester/paynless-framework-sub003/api/rest/service/job"
	jobpayload "github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// Post enqueues a job. Payloads that do not match their job type are
// rejected before anything is written.
func (ctrl *Controller) Post(c echo.Context) error {
	req := &jsvc.CreateRequest{}
	if err := c.Bind(req); err != nil {
		return err
	}

	log.Info("creating job", "user_id", req.UserID, "job_type", req.JobType)

	j, err := ctrl.service(c).Create(req)
	if err != nil {
		if jobpayload.IsValidationError(err) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error()).SetInternal(err)
		}
		log.Error("failed to create job", "error", err)
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusCreated, j)
}
