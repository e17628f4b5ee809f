package job

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/models"
)

// ErrNotClaimed is returned by Acquire when the row was not claimable or
// another worker won the conditional update.
var ErrNotClaimed = errors.New("job not claimed")

// ClaimAttempter performs the atomic pending|retrying -> processing
// transition for one job id.
type ClaimAttempter interface {
	TryClaim(ctx context.Context, id uuid.UUID, owner string, expiresAt time.Time) (bool, error)
}

// Claimed is proof that the holder won the claim for a job row. The zero
// value is not usable; Acquire is the only way to obtain one.
type Claimed struct {
	job       *models.Job
	owner     string
	expiresAt time.Time
}

// Acquire claims row for owner until now+ttl.
func Acquire(ctx context.Context, claimer ClaimAttempter, row *models.Job, owner string, ttl time.Duration) (*Claimed, error) {
	if row == nil {
		return nil, fmt.Errorf("acquire: %w", ErrNotClaimed)
	}
	if strings.TrimSpace(owner) == "" {
		return nil, errors.New("acquire: owner is required")
	}
	if row.Status.Terminal() {
		return nil, fmt.Errorf("acquire %s in status %s: %w", row.ID, row.Status, ErrNotClaimed)
	}

	expiresAt := time.Now().UTC().Add(ttl)
	ok, err := claimer.TryClaim(ctx, row.ID, owner, expiresAt)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", row.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s: %w", row.ID, ErrNotClaimed)
	}

	claimed := *row
	claimed.Status = models.JobStatusProcessing
	claimed.ClaimedBy = owner
	claimed.ClaimExpiresAt = &expiresAt

	return &Claimed{job: &claimed, owner: owner, expiresAt: expiresAt}, nil
}

// Job returns a copy of the claimed row as it looked when the claim was won.
func (c *Claimed) Job() models.Job {
	return *c.job
}

func (c *Claimed) ID() uuid.UUID { return c.job.ID }

func (c *Claimed) Owner() string { return c.owner }

func (c *Claimed) ExpiresAt() time.Time { return c.expiresAt }
