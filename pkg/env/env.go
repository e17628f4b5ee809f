package env

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

var variables = new(Environment)

// Process the environment variables set for the dialectic worker.
func Process() error {
	if err := envconfig.Process("dialectic", variables); err != nil {
		return errors.Wrap(err, "failed to process environment variables")
	}

	if err := variables.Validate(); err != nil {
		return errors.Wrap(err, "invalid environment")
	}

	if err := log.SetLevel(variables.LogLevel); err != nil {
		return errors.Wrap(err, "failed to set log level")
	}

	return nil
}

// Validate rejects settings that envconfig accepts but the node cannot run
// with.
func (e Environment) Validate() error {
	switch e.DatabaseType {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported database type %q", e.DatabaseType)
	}
	if e.WorkerPoolSize < 1 {
		return errors.Errorf("worker pool size must be positive, got %d", e.WorkerPoolSize)
	}
	if e.WorkerLeaseTTL <= e.WorkerPollInterval {
		return errors.Errorf("worker lease ttl %s must exceed poll interval %s", e.WorkerLeaseTTL, e.WorkerPollInterval)
	}
	if e.ContinuationLimit < 0 {
		return errors.Errorf("continuation limit must not be negative, got %d", e.ContinuationLimit)
	}
	return nil
}

// Variables returns the processed environment variables.
func Variables() Environment {
	return *variables
}

// Environment defines the environment variables used
// by the dialectic worker.
type Environment struct {
	LogLevel               string        `default:"info" split_words:"true"`
	Port                   int           `default:"8080" split_words:"true"`
	NodeID                 string        `default:"" split_words:"true"` // hostname
	DatabaseType           string        `default:"sqlite" split_words:"true"`
	DatabaseDSN            string        `default:"dialectic.db" split_words:"true"`
	WorkerPoolSize         int           `default:"4" split_words:"true"`
	WorkerPollInterval     time.Duration `default:"2s" split_words:"true"`
	WorkerLeaseTTL         time.Duration `default:"5m" split_words:"true"`
	WorkerJobTypes         string        `default:"" split_words:"true"` // comma separated, empty claims every type
	ReclaimSchedule        string        `default:"@every 30s" split_words:"true"`
	RecipePath             string        `default:"recipes.yaml" split_words:"true"`
	StoragePath            string        `default:"data" split_words:"true"`
	ModelEndpoint          string        `default:"http://localhost:11434/v1/generate" split_words:"true"`
	ModelTimeout           time.Duration `default:"5m" split_words:"true"`
	NotificationWebhookURL string        `default:"" split_words:"true"`
	ServiceToken           string        `default:"" split_words:"true"`
	ContinuationLimit      int           `default:"5" split_words:"true"`
}
