package rest

import (
	"github.com/labstack/echo/v4"
	"github.com/tsylvester/paynless-framework-sub003/api/rest/controller/blocker"
	"github.com/tsylvester/paynless-framework-sub003/api/rest/controller/event"
	"github.com/tsylvester/paynless-framework-sub003/api/rest/controller/job"
	"github.com/tsylvester/paynless-framework-sub003/api/rest/controller/node"
	internalevent "github.com/tsylvester/paynless-framework-sub003/internal/event"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
)

// Deps are the handles the REST controllers read and write through.
type Deps struct {
	Jobs    *store.Store
	Blocker blocker.Resolver
	Bus     internalevent.Bus
}

// Bind the REST endpoints to the versioned endpoint group.
func Bind(group *echo.Group, deps Deps) {
	jobs := job.New(deps.Jobs, deps.Bus)
	group.GET("/jobs", jobs.List)
	group.POST("/jobs", jobs.Post)
	group.GET("/jobs/:id", jobs.Get)
	group.GET("/jobs/:id/children", jobs.Children)

	if deps.Blocker != nil {
		group.POST("/blockers", blocker.New(deps.Blocker).Resolve)
	}

	if deps.Bus != nil {
		group.GET("/events", event.New(deps.Bus).Stream)
	}

	group.GET("/nodes/:id/workers", node.New(deps.Jobs.DB()).Workers)
}
