package types

// ProcessState is the lifecycle state reported by a managed child process.
type ProcessState string

const (
	ProcessIdle        ProcessState = "idle"
	ProcessStarting    ProcessState = "starting"
	ProcessStarted     ProcessState = "started"
	ProcessStartFailed ProcessState = "start-failed"
	ProcessStopped     ProcessState = "stopped"
	ProcessStopFailed  ProcessState = "stop-failed"
)

func (s ProcessState) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is expected without a new start.
func (s ProcessState) IsTerminal() bool {
	switch s {
	case ProcessStartFailed, ProcessStopped, ProcessStopFailed:
		return true
	}
	return false
}
