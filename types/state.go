package types

// OrchestratorState tracks where a test session is in the server/runner lifecycle.
type OrchestratorState string

const (
	StateIdle              OrchestratorState = "idle"
	StateServerStarting    OrchestratorState = "server-starting"
	StateServerStarted     OrchestratorState = "server-started"
	StateServerStartFailed OrchestratorState = "server-start-failed"
	StateServerStopped     OrchestratorState = "server-stopped"
	StateServerStopFailed  OrchestratorState = "server-stop-failed"
	StateRunnerStarting    OrchestratorState = "runner-starting"
	StateRunnerStarted     OrchestratorState = "runner-started"
	StateRunnerStartFailed OrchestratorState = "runner-start-failed"
	StateRunnerStopped     OrchestratorState = "runner-stopped"
)

func (s OrchestratorState) String() string {
	return string(s)
}

// Request is the pending intent that decides the next transition.
type Request string

const (
	RequestNone                Request = "none"
	RequestServerStop          Request = "server-stop"
	RequestServerConfigChange  Request = "server-config-change"
	RequestRunnerQuery         Request = "runner-query"
	RequestRunTest             Request = "run-test"
	RequestRecordTest          Request = "record-test"
	RequestKillOldBeforeRun    Request = "kill-old-before-run"
	RequestKillOldBeforeRecord Request = "kill-old-before-record"
	RequestKillOldBeforeQuery  Request = "kill-old-before-query"
)

func (r Request) String() string {
	return string(r)
}

// KillOldVariant maps a start request to the request used while a stale
// server is being stopped. It returns RequestNone for other requests.
func (r Request) KillOldVariant() Request {
	switch r {
	case RequestRunTest:
		return RequestKillOldBeforeRun
	case RequestRecordTest:
		return RequestKillOldBeforeRecord
	case RequestRunnerQuery:
		return RequestKillOldBeforeQuery
	}
	return RequestNone
}

// RunnerState is the debugger-like state of an interactive runner session.
type RunnerState string

const (
	RunnerNone                            RunnerState = "none"
	RunnerStarting                        RunnerState = "starting"
	RunnerRunning                         RunnerState = "running"
	RunnerRunRequested                    RunnerState = "run-requested"
	RunnerInterrupted                     RunnerState = "interrupted"
	RunnerInterruptRequested              RunnerState = "interrupt-requested"
	RunnerCanceling                       RunnerState = "canceling"
	RunnerCanceled                        RunnerState = "canceled"
	RunnerCancelRequested                 RunnerState = "cancel-requested"
	RunnerCancelRequestedWhileInterrupted RunnerState = "cancel-requested-while-interrupted"
	RunnerFinished                        RunnerState = "finished"
)

func (s RunnerState) String() string {
	return string(s)
}

// IsCanceling reports whether the session is on its way out after a cancel.
func (s RunnerState) IsCanceling() bool {
	switch s {
	case RunnerCancelRequested, RunnerCancelRequestedWhileInterrupted, RunnerCanceling, RunnerCanceled:
		return true
	}
	return false
}
