package notifications

import "context"

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one out-of-band operator notification.
type Alert struct {
	Severity Severity
	Title    string
	Body     string
}

// Sink delivers alerts somewhere a human will see them (mail, chat, log).
type Sink interface {
	Send(ctx context.Context, a Alert) error
}
