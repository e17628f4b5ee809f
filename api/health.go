package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
)

var startedAt = time.Now()

// HealthResponse defines the data the health endpoint returns.
type HealthResponse struct {
	Status   Status        `json:"status"`
	Uptime   time.Duration `json:"uptime"`
	Database string        `json:"database,omitempty"`
}

// Health reports uptime and whether the job table is reachable. A failed
// ping answers 503 so load balancers stop routing to this node.
func Health(db *gorm.DB) echo.HandlerFunc {
	return func(c echo.Context) error {
		resp := HealthResponse{Status: Healthy, Uptime: time.Since(startedAt)}

		if db != nil {
			sqlDB, err := db.DB()
			if err == nil {
				err = sqlDB.PingContext(c.Request().Context())
			}
			if err != nil {
				resp.Status = Degraded
				resp.Database = err.Error()
				return c.JSON(http.StatusServiceUnavailable, resp)
			}
		}

		return c.JSON(http.StatusOK, resp)
	}
}

// Status enumerates the health statuses of the service.
type Status string

const (
	Healthy  Status = "healthy"
	Degraded Status = "degraded"
)
