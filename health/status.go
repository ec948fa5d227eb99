package health

import (
	"time"
)

// State is the health of one component.
type State string

// States in increasing order of severity.
const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

func (s State) severity() int {
	switch s {
	case StateHealthy:
		return 0
	case StateDegraded:
		return 1
	default:
		return 2
	}
}

// Status is the health of a component, or of the whole service with its
// components as sub-statuses.
type Status struct {
	Component   string    `json:"component"`
	Healthy     bool      `json:"healthy"`
	Status      State     `json:"status"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
	SubStatuses []Status  `json:"sub_statuses,omitempty"`
	Metrics     *Metrics  `json:"metrics,omitempty"`
}

// Metrics are the probe statistics of a component.
type Metrics struct {
	Latency      time.Duration `json:"latency"`
	ErrorCount   int           `json:"error_count"`
	LastActivity time.Time     `json:"last_activity,omitempty"`
}

// NewStatus stamps a status of component in state.
func NewStatus(component string, state State, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return NewStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return NewStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return NewStatus(component, StateUnhealthy, message)
}

func (s Status) IsHealthy() bool   { return s.Status == StateHealthy }
func (s Status) IsDegraded() bool  { return s.Status == StateDegraded }
func (s Status) IsUnhealthy() bool { return s.Status == StateUnhealthy }

// WithMetrics returns a copy of the status with metrics attached.
func (s Status) WithMetrics(metrics *Metrics) Status {
	s.Metrics = metrics
	return s
}

// WithSubStatus returns a copy of the status with sub appended. The copy
// does not share its sub-status slice with s.
func (s Status) WithSubStatus(sub Status) Status {
	subs := make([]Status, len(s.SubStatuses), len(s.SubStatuses)+1)
	copy(subs, s.SubStatuses)
	s.SubStatuses = append(subs, sub)
	return s
}

// Aggregate takes the worst state of subs. No subs is healthy.
func Aggregate(component string, subs []Status) Status {
	worst := StateHealthy
	for _, sub := range subs {
		if sub.Status.severity() > worst.severity() {
			worst = sub.Status
		}
	}

	var message string
	switch worst {
	case StateHealthy:
		message = "all components are healthy"
	case StateDegraded:
		message = "one or more components are degraded"
	default:
		message = "one or more components are unhealthy"
	}

	status := NewStatus(component, worst, message)
	if len(subs) > 0 {
		status.SubStatuses = append([]Status(nil), subs...)
	}
	return status
}

// FromError builds the status of a probe outcome. A nil error is healthy;
// degraded marks failures of non-critical components. The error text is
// redacted before it is exposed.
func FromError(name string, err error, degraded bool) Status {
	switch {
	case err == nil:
		return NewHealthy(name, "ok")
	case degraded:
		return NewDegraded(name, redact(err.Error()))
	default:
		return NewUnhealthy(name, redact(err.Error()))
	}
}
