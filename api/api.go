package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	rest "github.com/tsylvester/paynless-framework-sub003/api/rest/v1"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
	"gorm.io/gorm"
)

const shutdownTimeout = 10 * time.Second

// New builds the HTTP server. Metrics collectors register globally, so a
// process builds at most one.
func New(deps rest.Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// health
	var db *gorm.DB
	if deps.Jobs != nil {
		db = deps.Jobs.DB()
	}
	e.GET("/health", Health(db))

	// metrics
	prometheus.NewPrometheus("dialectic", nil).Use(e)

	// REST
	rest.Bind(e.Group("/v1"), deps)

	return e
}

// Start serves e on port until ctx is cancelled, then drains in-flight
// requests.
func Start(ctx context.Context, e *echo.Echo, port int) error {
	errs := make(chan error, 1)
	go func() {
		errs <- e.Start(fmt.Sprintf(":%v", port))
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
