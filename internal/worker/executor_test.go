package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/processor"
)

type handlerFunc func(ctx context.Context, claimed *job.Claimed, authToken string)

func (f handlerFunc) HandleJob(ctx context.Context, claimed *job.Claimed, authToken string, _ ...processor.Override) {
	f(ctx, claimed, authToken)
}

type recordingPropagator struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (p *recordingPropagator) AfterJob(_ context.Context, id uuid.UUID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return p.err
}

type recordingRenewer struct {
	mu      sync.Mutex
	renewed int
	owner   string
}

func (r *recordingRenewer) RenewClaim(_ context.Context, _ uuid.UUID, owner string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.renewed++
	r.owner = owner
	return nil
}

func (r *recordingRenewer) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.renewed
}

func TestLeaseRenewInterval(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{name: "default when ttl disabled", ttl: 0, want: defaultLeaseRenewInterval},
		{name: "half ttl", ttl: 20 * time.Second, want: 10 * time.Second},
		{name: "minimum bound", ttl: 1500 * time.Millisecond, want: minLeaseRenewInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := leaseRenewInterval(tt.ttl)
			if got != tt.want {
				t.Fatalf("leaseRenewInterval(%s)=%s, want %s", tt.ttl, got, tt.want)
			}
		})
	}
}

func TestExecutorHandlesThenPropagates(t *testing.T) {
	claimed := claimFor(t, models.JobTypeExecute)
	propagator := &recordingPropagator{}

	var order []string
	var token string
	handler := handlerFunc(func(_ context.Context, c *job.Claimed, authToken string) {
		order = append(order, "handle")
		token = authToken
		require.Equal(t, claimed.ID(), c.ID())
	})

	exec := NewJobExecutor(handler, propagator, nil, time.Minute, "service-token")
	exec(context.Background(), claimed)

	require.Equal(t, []string{"handle"}, order)
	require.Equal(t, "service-token", token)
	require.Equal(t, []uuid.UUID{claimed.ID()}, propagator.ids)
}

func TestExecutorIgnoresShutdown(t *testing.T) {
	claimed := claimFor(t, models.JobTypeExecute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var handlerErr error
	handler := handlerFunc(func(ctx context.Context, _ *job.Claimed, _ string) {
		handlerErr = ctx.Err()
	})

	NewJobExecutor(handler, nil, nil, time.Minute, "")(ctx, claimed)
	require.NoError(t, handlerErr)
}

func TestExecutorRenewsLeaseWhileHandling(t *testing.T) {
	claimed := claimFor(t, models.JobTypeExecute)
	renewer := &recordingRenewer{}

	handler := handlerFunc(func(context.Context, *job.Claimed, string) {
		require.Eventually(t, func() bool { return renewer.count() > 0 }, 5*time.Second, 50*time.Millisecond)
	})

	NewJobExecutor(handler, nil, renewer, 2*time.Second, "")(context.Background(), claimed)
	require.Equal(t, "node-test", renewer.owner)

	after := renewer.count()
	time.Sleep(1200 * time.Millisecond)
	require.Equal(t, after, renewer.count(), "renewal stops once the job is handled")
}

func TestExecutorLogsPropagationFailure(t *testing.T) {
	propagator := &recordingPropagator{err: errors.New("db gone")}
	handler := handlerFunc(func(context.Context, *job.Claimed, string) {})

	require.NotPanics(t, func() {
		NewJobExecutor(handler, propagator, nil, 0, "")(context.Background(), claimFor(t, models.JobTypeExecute))
	})
	require.Len(t, propagator.ids, 1)
}

func TestExecutorSkipsNilClaim(t *testing.T) {
	called := false
	handler := handlerFunc(func(context.Context, *job.Claimed, string) { called = true })
	NewJobExecutor(handler, nil, nil, 0, "")(context.Background(), nil)
	require.False(t, called)
}
