package worker

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/tsylvester/paynless-framework-sub003/internal/job"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
	"github.com/tsylvester/paynless-framework-sub003/internal/store"
)

const (
	defaultLeaseTTL = 5 * time.Minute
	candidateLimit  = 64
)

// postgres SQLSTATEs raised when two nodes race for the same row.
var pgContentionCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// Claimer leases claimable jobs to one node. Only rows without a live lease
// are considered, and the conditional update in the store decides races
// between nodes.
type Claimer struct {
	nodeID   string
	jobTypes []models.JobType
	store    *store.Store
	leaseTTL time.Duration
	now      func() time.Time
}

// NewClaimer returns a claimer for nodeID. An empty jobTypes claims every
// job type.
func NewClaimer(nodeID string, jobs *store.Store, leaseTTL time.Duration, jobTypes ...models.JobType) *Claimer {
	if jobs == nil {
		panic("worker claimer requires job store")
	}
	c := &Claimer{
		nodeID:   strings.TrimSpace(nodeID),
		jobTypes: jobTypes,
		store:    jobs,
		leaseTTL: leaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if c.nodeID == "" {
		c.nodeID = "unknown-node"
	}
	if c.leaseTTL <= 0 {
		c.leaseTTL = defaultLeaseTTL
	}
	return c
}

func (c *Claimer) NodeID() string { return c.nodeID }

// ClaimNext leases the oldest eligible job. It returns nil, nil when the
// queue has nothing for this node.
func (c *Claimer) ClaimNext(ctx context.Context) (*job.Claimed, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()
	candidates, err := c.store.SelectJobs(ctx, store.Filter{
		JobTypes:   c.jobTypes,
		Statuses:   models.ClaimableStatuses,
		UnleasedAt: &now,
		Limit:      candidateLimit,
	})
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		claimed, err := job.Acquire(ctx, c.store, candidate, c.nodeID, c.leaseTTL)
		switch {
		case err == nil:
			metrics.WorkerClaimsTotal.WithLabelValues(c.nodeID).Inc()
			return claimed, nil
		case errors.Is(err, job.ErrNotClaimed):
			metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
		case isContention(err):
			metrics.WorkerClaimContentionTotal.WithLabelValues(c.nodeID).Inc()
			return nil, err
		default:
			return nil, err
		}
	}
	return nil, nil
}

// ReclaimExpired returns every lapsed lease to pending.
func (c *Claimer) ReclaimExpired(ctx context.Context) error {
	n, err := c.store.ReclaimExpired(ctx, c.now())
	if err != nil {
		return err
	}
	if n > 0 {
		metrics.WorkerLeaseExpirationsTotal.WithLabelValues(c.nodeID).Add(float64(n))
	}
	return nil
}

// isContention reports whether err is a lock or serialization failure from
// either supported database.
func isContention(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := pgContentionCodes[pgErr.Code]
		return ok
	}
	return false
}

// ParseJobTypes reads a comma separated list of job types. Unknown and
// repeated entries are dropped.
func ParseJobTypes(raw string) []models.JobType {
	var out []models.JobType
	for _, entry := range strings.Split(raw, ",") {
		t := models.JobType(strings.ToUpper(strings.TrimSpace(entry)))
		if t.Valid() && !containsType(out, t) {
			out = append(out, t)
		}
	}
	return out
}

func containsType(types []models.JobType, t models.JobType) bool {
	for _, have := range types {
		if have == t {
			return true
		}
	}
	return false
}
