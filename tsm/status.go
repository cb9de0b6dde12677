package tsm

import "fmt"

// AppState enumerates the lifecycle states of a submitted application.
type AppState int

const (
	Unsubmitted AppState = iota
	Submitted
	Pending
	Running
	Succeeded
	Failed
	Cancelled
	Unknown
)

func (s AppState) String() string {
	switch s {
	case Unsubmitted:
		return "UNSUBMITTED"
	case Submitted:
		return "SUBMITTED"
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Cancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// terminalStates is the set AppStatus.IsTerminal checks against.
var terminalStates = map[AppState]bool{
	Succeeded: true,
	Failed:    true,
	Cancelled: true,
}

// RoleStatus is a backend's snapshot of one role within a running
// application.
type RoleStatus struct {
	Name        string
	NumReplicas int
	Msg         string
}

// AppStatus is a backend's snapshot of the overall state of a submitted
// application.
type AppStatus struct {
	State               AppState
	NumRestarts         int
	Msg                 string
	StructuredErrorMsg  string
	UIURL               string
	Roles               []RoleStatus
}

// IsTerminal reports whether the status represents a state the
// application cannot leave on its own (SUCCEEDED, FAILED, CANCELLED).
func (s AppStatus) IsTerminal() bool {
	return terminalStates[s.State]
}

// DescribeAppResponse is a backend-produced snapshot echoing enough of the
// submitted Application to be useful, plus its assigned id and state.
type DescribeAppResponse struct {
	AppID string
	State AppState
	Roles []RoleStatus

	// StructuredErrorMsg is the tail of a failed replica's stderr, set
	// when State is Failed and a backend captured one.
	StructuredErrorMsg string
}

// AppDryRunInfo wraps a backend-specific dry-run request together with a
// formatter function that renders it for display; String delegates to the
// formatter so each backend controls its own human-readable rendering.
type AppDryRunInfo struct {
	Request   interface{}
	Formatter func(interface{}) string
}

func (i AppDryRunInfo) String() string {
	if i.Formatter == nil {
		return fmt.Sprintf("%v", i.Request)
	}
	return i.Formatter(i.Request)
}
