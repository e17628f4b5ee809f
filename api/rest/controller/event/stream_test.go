package event

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
	"github.com/tsylvester/paynless-framework-sub003/internal/event"
)

func serve(t *testing.T, bus event.Bus) *httptest.Server {
	t.Helper()
	e := echo.New()
	e.GET("/events", New(bus).Stream)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv
}

func open(t *testing.T, ctx context.Context, url string) *bufio.Reader {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)
	_, err = r.ReadString('\n')
	require.NoError(t, err)
	return r
}

func TestStreamRelaysMatchingEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := event.New()
	r := open(t, ctx, serve(t, bus).URL+"/events?user_id=u1&types=contribution_generation_failed")

	bus.Publish(event.Event{Type: "contribution_generation_failed", UserID: "u2"})
	bus.Publish(event.Event{Type: "other_generation_failed", UserID: "u1", Internal: true})
	bus.Publish(event.Event{Type: "contribution_generation_failed", UserID: "u1"})

	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "id: 1\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: contribution_generation_failed\n", line)

	line, err = r.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	require.Contains(t, line, `"user_id":"u1"`)
}

func TestStreamIncludesInternalEventsOnRequest(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bus := event.New()
	r := open(t, ctx, serve(t, bus).URL+"/events?include_internal=true")

	bus.Publish(event.Event{Type: "other_generation_failed", UserID: "u1", Internal: true})

	_, err := r.ReadString('\n')
	require.NoError(t, err)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "event: other_generation_failed\n", line)
}

func TestStreamRejectsBadFilters(t *testing.T) {
	srv := serve(t, event.New())

	for _, query := range []string{"job_id=nope", "include_internal=maybe"} {
		resp, err := http.Get(srv.URL + "/events?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode, query)
	}
}
