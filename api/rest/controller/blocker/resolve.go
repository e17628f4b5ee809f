package blocker

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

// Resolver finds the job blocking an artifact.
type Resolver interface {
	ResolveNextBlocker(ctx context.Context, identity job.ArtifactIdentity) (*models.Job, error)
}

type Controller struct {
	resolver Resolver
}

func New(resolver Resolver) *Controller {
	return &Controller{resolver: resolver}
}

// Resolve answers with the blocking job for the posted artifact identity,
// or 204 when nothing in progress produces it.
func (ctrl *Controller) Resolve(c echo.Context) error {
	identity := job.ArtifactIdentity{}
	if err := c.Bind(&identity); err != nil {
		return err
	}

	blocker, err := ctrl.resolver.ResolveNextBlocker(c.Request().Context(), identity)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}
	if blocker == nil {
		return c.NoContent(http.StatusNoContent)
	}

	return c.JSON(http.StatusOK, blocker)
}
