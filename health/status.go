// Package health reports the health of resilkit components in a form that
// can be served over HTTP without leaking endpoints or credentials.
package health

import (
	"regexp"
	"strings"
	"time"
)

// Health states
const (
	StateHealthy   = "healthy"
	StateDegraded  = "degraded"
	StateUnhealthy = "unhealthy"
)

// Pre-compiled patterns for message sanitization
var (
	urlRegex        = regexp.MustCompile(`(?i)(https?|wss?|nats)://[^\s]+`)
	ipAddrRegex     = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)
	portRegex       = regexp.MustCompile(`:\d{2,5}\b`)
	credentialRegex = regexp.MustCompile(`(?i)(password|token|secret|credential)[^a-zA-Z]*[:=][^,\s}&]+`)
)

// Status represents the health state of a component or system
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      string    `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics contains health-related counters
type Metrics struct {
	MessagesReceived  int64     `json:"messages_received,omitempty"`
	ReconnectAttempts int       `json:"reconnect_attempts,omitempty"`
	LastActivity      time.Time `json:"last_activity,omitempty"`
}

// IsHealthy returns true if the status is healthy
func (s Status) IsHealthy() bool { return s.Status == StateHealthy }

// IsDegraded returns true if the status is degraded
func (s Status) IsDegraded() bool { return s.Status == StateDegraded }

// IsUnhealthy returns true if the status is unhealthy
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// NewHealthy creates a healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status. The message is sanitized.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, Sanitize(message))
}

// NewUnhealthy creates an unhealthy status. The message is sanitized.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, Sanitize(message))
}

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Aggregate rolls sub-statuses up: any unhealthy makes the whole unhealthy,
// otherwise any degraded makes it degraded.
func Aggregate(component string, subStatuses ...Status) Status {
	var status Status
	switch {
	case anyState(subStatuses, StateUnhealthy):
		status = newStatus(component, StateUnhealthy, "one or more components are unhealthy")
	case anyState(subStatuses, StateDegraded):
		status = newStatus(component, StateDegraded, "one or more components are degraded")
	default:
		status = newStatus(component, StateHealthy, "all components are healthy")
	}

	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}

func anyState(statuses []Status, state string) bool {
	for _, s := range statuses {
		if s.Status == state {
			return true
		}
	}
	return false
}

// Sanitize strips endpoints, addresses and credentials from an error
// message. Feed URLs carry scoping query parameters and sometimes tokens.
func Sanitize(msg string) string {
	if msg == "" {
		return ""
	}

	sanitized := urlRegex.ReplaceAllString(msg, "[URL]")
	sanitized = ipAddrRegex.ReplaceAllString(sanitized, "[IP]")
	sanitized = portRegex.ReplaceAllString(sanitized, "[PORT]")

	lower := strings.ToLower(sanitized)
	if strings.Contains(lower, "password") || strings.Contains(lower, "token") ||
		strings.Contains(lower, "secret") || strings.Contains(lower, "credential") {
		sanitized = credentialRegex.ReplaceAllString(sanitized, "[REDACTED]")
	}

	return sanitized
}
