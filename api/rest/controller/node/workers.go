package node

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	workersvc "github.com/tsylvester/paynless-framework-sub003/api/rest/service/worker"
	"gorm.io/gorm"
)

type Controller struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Controller {
	return &Controller{db: db}
}

// Workers returns the claims a worker node currently holds.
func (ctrl *Controller) Workers(c echo.Context) error {
	nodeID := strings.TrimSpace(c.Param("id"))
	if nodeID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "node id is required")
	}

	status, err := workersvc.New(c.Request().Context(), ctrl.db).Status(nodeID)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}
	return c.JSON(http.StatusOK, status)
}
