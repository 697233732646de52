package preempt

import (
	"context"
	"strings"

	"github.com/teranos/preempt/errors"
)

// FailureCode classifies a requeue failure for logs and the journal.
type FailureCode string

const (
	FailureTimeout    FailureCode = "timeout"
	FailureConnection FailureCode = "connection"
	FailureInvalidJob FailureCode = "invalid_job"
	FailureJobState   FailureCode = "job_state"
	FailurePermission FailureCode = "permission"
	FailureNotFound   FailureCode = "command_not_found"
	FailureUnknown    FailureCode = "unknown"
)

// Failure is the classification of a requeue error.
// Transient failures might succeed if an operator retries; the handler never does.
type Failure struct {
	Code      FailureCode
	Message   string
	Transient bool
}

// ClassifyFailure categorizes a requeue error based on its chain and message.
func ClassifyFailure(err error) Failure {
	if err == nil {
		return Failure{Code: FailureUnknown, Message: "unknown error"}
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	f := Failure{Message: msg}

	switch {
	case errors.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(lower, "timed out") || strings.Contains(lower, "timeout"):
		f.Code, f.Transient = FailureTimeout, true

	case strings.Contains(lower, "executable file not found") || strings.Contains(lower, "no such file"):
		f.Code, f.Transient = FailureNotFound, false

	case strings.Contains(lower, "unable to contact slurm controller") ||
		strings.Contains(lower, "connection") || strings.Contains(lower, "socket"):
		f.Code, f.Transient = FailureConnection, true

	case strings.Contains(lower, "invalid job id"):
		f.Code, f.Transient = FailureInvalidJob, false

	case strings.Contains(lower, "no longer pending nor running") ||
		strings.Contains(lower, "job is pending execution") ||
		strings.Contains(lower, "requested operation is presently disabled") ||
		strings.Contains(lower, "job has already finished"):
		f.Code, f.Transient = FailureJobState, false

	case strings.Contains(lower, "access/permission denied") || strings.Contains(lower, "permission denied"):
		f.Code, f.Transient = FailurePermission, false

	default:
		f.Code, f.Transient = FailureUnknown, true
	}

	return f
}

// IsTransient reports whether a requeue failure looks temporary.
func IsTransient(err error) bool {
	return err != nil && ClassifyFailure(err).Transient
}
