package services

import "audiocast/internal/core/ports"

// Validation outcomes reported to ports.MetricsRecorder.
const (
	ValidationValid    = "valid"
	ValidationInvalid  = "invalid"
	ValidationFailOpen = "fail_open"
	ValidationExempt   = "exempt"
)

// Assignment outcomes reported to ports.MetricsRecorder.
const (
	OutcomeCreated     = "created"
	OutcomeReactivated = "reactivated"
	OutcomeDeleted     = "deleted"
	OutcomeUpdated     = "updated"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
)

// NoopMetrics discards everything.
type NoopMetrics struct{}

var _ ports.MetricsRecorder = NoopMetrics{}

func (NoopMetrics) SessionCreated()                      {}
func (NoopMetrics) SessionDeleted()                      {}
func (NoopMetrics) SessionInvalidated(string)            {}
func (NoopMetrics) SessionValidated(string)              {}
func (NoopMetrics) AssignmentOutcome(string, string, int) {}

func metricsOrNoop(m ports.MetricsRecorder) ports.MetricsRecorder {
	if m == nil {
		return NoopMetrics{}
	}
	return m
}
