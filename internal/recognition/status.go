package recognition

import "encoding/json"

// PollState is the closed set of outcomes of one status poll.
type PollState int

const (
	StateUnrecognized PollState = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s PollState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unrecognized"
}

// PollOutcome is the result of CheckStatus. Result is set only when State
// is StateCompleted; Message carries the reason for Failed and Unrecognized.
type PollOutcome struct {
	State   PollState
	Raw     string
	Message string
	Result  json.RawMessage
}

func failed(msg string) PollOutcome {
	return PollOutcome{State: StateFailed, Message: msg}
}

// Dialect maps the status strings a service emits onto poll states.
// Matching is case-sensitive.
type Dialect map[string]PollState

var (
	// AsyncDialect is emitted by the asynchronous analysis endpoint.
	AsyncDialect = Dialect{
		"Running":   StateRunning,
		"Completed": StateCompleted,
		"error":     StateFailed,
	}
	// LegacyDialect is emitted by the older synchronous deployment.
	LegacyDialect = Dialect{
		"running":   StateRunning,
		"queued":    StateRunning,
		"completed": StateCompleted,
		"error":     StateFailed,
	}
)

// DialectByName returns the dialect for a config value, defaulting to AsyncDialect.
func DialectByName(name string) Dialect {
	if name == "legacy" {
		return LegacyDialect
	}
	return AsyncDialect
}

func (d Dialect) classify(status string) PollState {
	if s, ok := d[status]; ok {
		return s
	}
	return StateUnrecognized
}
