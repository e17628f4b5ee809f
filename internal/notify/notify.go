package notify

import (
	"context"
	"errors"
	"strconv"

	"github.com/google/uuid"
	"github.com/tsylvester/paynless-framework-sub003/internal/metrics"
	"github.com/tsylvester/paynless-framework-sub003/pkg/log"
)

// Type names a notification.
type Type string

const (
	TypeGenerationStarted  Type = "contribution_generation_started"
	TypeGenerationFailed   Type = "contribution_generation_failed"
	TypeGenerationRetrying Type = "contribution_generation_retrying"
	TypeOtherFailed        Type = "other_generation_failed"
	TypeExecuteStarted     Type = "execute_started"
	TypeExecuteCompleted   Type = "execute_completed"
	TypeRenderCompleted    Type = "render_completed"
	TypeJobFailed          Type = "job_failed"
)

// Failure codes carried in FailureData.Error.Code.
const (
	CodeValidation          = "VALIDATION_ERROR"
	CodeUnhandledException  = "UNHANDLED_EXCEPTION"
	CodeRetryLoopFailed     = "RETRY_LOOP_FAILED"
	CodePrerequisiteFailure = "PREREQUISITE_FAILED"
)

// Notification is one message to a user. Internal events are diagnostics
// that are never shown to end users.
type Notification struct {
	TargetUserID    string `json:"target_user_id"`
	Type            Type   `json:"type"`
	Data            any    `json:"data"`
	IsInternalEvent bool   `json:"is_internal_event"`
}

// Emitter sends notifications through some side channel.
type Emitter interface {
	Send(ctx context.Context, n Notification) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, n Notification) error

func (f EmitterFunc) Send(ctx context.Context, n Notification) error { return f(ctx, n) }

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// FailureData is the payload of both failure notifications.
type FailureData struct {
	JobID     uuid.UUID `json:"job_id"`
	SessionID string    `json:"sessionId"`
	StageSlug string    `json:"stageSlug,omitempty"`
	Error     ErrorInfo `json:"error"`
}

type StartedData struct {
	JobID     uuid.UUID `json:"job_id"`
	SessionID string    `json:"sessionId"`
}

type RetryingData struct {
	JobID       uuid.UUID `json:"job_id"`
	SessionID   string    `json:"sessionId"`
	Attempt     int       `json:"attempt"`
	MaxRetries  int       `json:"max_retries"`
	LastFailure string    `json:"last_failure,omitempty"`
}

// JobEventData is the payload of document-centric job events.
type JobEventData struct {
	JobID          uuid.UUID `json:"job_id"`
	SessionID      string    `json:"sessionId"`
	StageSlug      string    `json:"stageSlug"`
	IterationNum   int       `json:"iterationNumber"`
	ModelID        string    `json:"modelId"`
	DocumentKey    string    `json:"document_key,omitempty"`
	ContributionID string    `json:"contribution_id,omitempty"`
	Step           string    `json:"step_key,omitempty"`
}

// Deliver sends n and reports whether it was delivered. Failures are logged
// and counted, never returned: a dropped notification must not affect the
// caller's persisted state.
func Deliver(ctx context.Context, emitter Emitter, n Notification) bool {
	if emitter == nil {
		return false
	}
	if err := emitter.Send(ctx, n); err != nil {
		log.Error("failed to send notification",
			"type", n.Type,
			"target_user_id", n.TargetUserID,
			"internal", n.IsInternalEvent,
			"error", err)
		metrics.NotificationFailuresTotal.WithLabelValues(string(n.Type)).Inc()
		return false
	}
	metrics.NotificationsSentTotal.WithLabelValues(string(n.Type), strconv.FormatBool(n.IsInternalEvent)).Inc()
	return true
}

// Multi fans a notification out to every emitter. All emitters are tried;
// their errors are joined.
type Multi []Emitter

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every notification.
var Discard Emitter = EmitterFunc(func(context.Context, Notification) error { return nil })
