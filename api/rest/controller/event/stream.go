package event

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tsylvester/paynless-framework-sub003/internal/event"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

const pingInterval = 15 * time.Second

type Controller struct {
	bus event.Bus
}

func New(bus event.Bus) *Controller {
	return &Controller{bus: bus}
}

// Stream relays bus events as server-sent events until the client goes
// away. Internal events are only relayed when include_internal is set.
func (ctrl *Controller) Stream(c echo.Context) error {
	ctx := c.Request().Context()

	filter, err := parseFilter(c)
	if err != nil {
		return echo.ErrBadRequest.SetInternal(err)
	}

	ch, err := ctrl.bus.Subscribe(ctx, filter)
	if err != nil {
		return echo.ErrInternalServerError.SetInternal(err)
	}

	w := newSSEWriter(c.Response())
	if err := w.open(); err != nil {
		return nil
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.comment("ping"); err != nil {
				return nil
			}
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			data, err := json.Marshal(e)
			if err != nil {
				log.Error("failed to marshal event for stream", "type", e.Type, "error", err)
				continue
			}
			if err := w.send(e.Type, data); err != nil {
				return nil
			}
		}
	}
}

// sseWriter frames server-sent events onto an echo response. Each event
// carries a per-connection sequence id.
type sseWriter struct {
	res *echo.Response
	seq uint64
}

func newSSEWriter(res *echo.Response) *sseWriter {
	return &sseWriter{res: res}
}

func (w *sseWriter) open() error {
	h := w.res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.res.WriteHeader(http.StatusOK)
	return w.comment("ping")
}

func (w *sseWriter) comment(text string) error {
	return w.write(": " + text + "\n\n")
}

func (w *sseWriter) send(t event.Type, data []byte) error {
	w.seq++
	return w.write(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", w.seq, t, data))
}

func (w *sseWriter) write(frame string) error {
	if _, err := w.res.Write([]byte(frame)); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}

func parseFilter(c echo.Context) (event.Filter, error) {
	filter := event.Filter{UserID: c.QueryParam("user_id")}

	if raw := c.QueryParam("job_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid job_id: %w", err)
		}
		filter.JobID = id
	}

	if raw := c.QueryParam("types"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				filter.Types = append(filter.Types, event.Type(s))
			}
		}
	}

	if raw := c.QueryParam("include_internal"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, fmt.Errorf("invalid include_internal: %w", err)
		}
		filter.IncludeInternal = include
	}

	return filter, nil
}
