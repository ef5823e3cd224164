package orchestrator

import (
	"github.com/rahuls2764/Skill/pkg/errs"
	"github.com/rahuls2764/Skill/pkg/events"
	"github.com/rahuls2764/Skill/pkg/logger"
)

// Reporter receives user-facing failure notices.
type Reporter interface {
	Report(kind errs.Kind, message string)
}

// Report is the payload of a report event.
type Report struct {
	Kind      errs.Kind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// BusReporter logs reports and publishes them as events for UIs.
type BusReporter struct {
	Bus *events.Bus
	Log *logger.Logger
}

func (r BusReporter) Report(kind errs.Kind, message string) {
	if r.Log != nil {
		r.Log.Warn("Operation failed", "kind", kind, "message", message)
	}
	r.Bus.Publish(events.Event{
		Type: events.EventReport,
		Data: Report{Kind: kind, Message: message, Retryable: kind.Retryable()},
	})
}
