package job

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	jsvc "github.com/tsylvester/paynless-framework-sub003/api/rest/service/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/event"
	jobpayload "github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
)

// Controller serves the job table over REST.
type Controller struct {
	jobs store.JobStore
	bus  event.Bus
}

func New(jobs store.JobStore, bus event.Bus) *Controller {
	return &Controller{jobs: jobs, bus: bus}
}

func (ctrl *Controller) service(c echo.Context) jsvc.Job {
	svc := jsvc.Service(c.Request().Context(), ctrl.jobs)
	if ctrl.bus != nil {
		svc = svc.WithBus(ctrl.bus)
	}
	return svc
}

func (ctrl *Controller) List(c echo.Context) error {
	req, err := parseListRequest(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	jobs, err := ctrl.service(c).List(req)
	if err != nil {
		if jobpayload.IsValidationError(err) {
			return echo.ErrBadRequest.SetInternal(err)
		}
		return echo.ErrInternalServerError.SetInternal(err)
	}

	return c.JSON(http.StatusOK, jobs)
}

func parseListRequest(c echo.Context) (req *jsvc.ListRequest, err error) {
	req = &jsvc.ListRequest{
		UserID:    c.QueryParam("user_id"),
		SessionID: c.QueryParam("session_id"),
		StageSlug: c.QueryParam("stage_slug"),
		JobType:   models.JobType(strings.ToUpper(c.QueryParam("job_type"))),
	}

	if iteration := c.QueryParam("iteration_number"); iteration != "" {
		n, err := strconv.Atoi(iteration)
		if err != nil {
			return nil, err
		}
		req.IterationNumber = &n
	}

	if parent := c.QueryParam("parent_job_id"); parent != "" {
		id, err := uuid.Parse(parent)
		if err != nil {
			return nil, err
		}
		req.ParentJobID = &id
	}

	if status := c.QueryParam("status"); status != "" {
		for _, s := range strings.Split(status, ",") {
			req.Statuses = append(req.Statuses, models.JobStatus(strings.TrimSpace(s)))
		}
	}

	if limit := c.QueryParam("limit"); limit != "" {
		if req.Limit, err = strconv.Atoi(limit); err != nil {
			return nil, err
		}
	}

	return
}
