package orchestrator

import (
	"time"

	"github.com/ethereum-optimism/infra/op-squish/types"
)

// Events receives notifications from the orchestrator. Calls are made from
// the event loop, or from the result parser while the loop waits for it, and
// must not block.
type Events interface {
	StateChanged(state types.OrchestratorState, request types.Request)
	RunnerStateChanged(state types.RunnerState)
	TestRunStarted(run RunInfo)
	TestRunFinished(summary RunSummary)
	// SessionFinished is sent whenever the orchestrator returns to idle.
	SessionFinished(request types.Request, err error)
	LogLine(source string, line string)
	ResultItemCreated(item *types.ResultItem, parent *types.ResultItem)
	StatusUpdated(summary string)
	CounterIncremented(resultType types.ResultType)
	Interrupted(loc types.Location)
	LocalsUpdated(update types.LocalsUpdate)
	AutIDRetrieved(id int)
	QueryFinished(output string)
	ObjectPicked(object string)
	RecordingFinished(snippet string)
}

// Host performs the user facing side effects of a session.
type Host interface {
	// Confirm asks a yes/no question. It is called on the event loop.
	Confirm(question string) bool
	CriticalMessage(message string)
	MinimizeWindows()
	RestoreWindows()
	OpenEditorAt(loc types.Location)
	SetLocationMarker(loc types.Location)
	ClearLocationMarker()
}

// RunInfo describes a test run that is about to start.
type RunInfo struct {
	Suite     string
	RunID     string
	RunDir    string
	TestCases []string
}

// RunSummary is delivered once every test case of a run finished.
type RunSummary struct {
	RunInfo
	Results      []types.TestCaseResult
	MergedReport string
	Canceled     bool
	Duration     time.Duration
	Err          error
}

// Status folds the case results into one run status.
func (s RunSummary) Status() types.TestStatus {
	if s.Err != nil {
		return types.TestStatusError
	}
	if s.Canceled {
		return types.TestStatusCanceled
	}
	status := types.TestStatusPass
	for _, r := range s.Results {
		switch r.Status {
		case types.TestStatusError:
			return types.TestStatusError
		case types.TestStatusFail, types.TestStatusCanceled:
			status = types.TestStatusFail
		}
	}
	return status
}

// NopEvents ignores every notification. Embed it to implement only part of Events.
type NopEvents struct{}

var _ Events = NopEvents{}

func (NopEvents) StateChanged(types.OrchestratorState, types.Request)    {}
func (NopEvents) RunnerStateChanged(types.RunnerState)                   {}
func (NopEvents) TestRunStarted(RunInfo)                                 {}
func (NopEvents) TestRunFinished(RunSummary)                             {}
func (NopEvents) SessionFinished(types.Request, error)                   {}
func (NopEvents) LogLine(string, string)                                 {}
func (NopEvents) ResultItemCreated(*types.ResultItem, *types.ResultItem) {}
func (NopEvents) StatusUpdated(string)                                   {}
func (NopEvents) CounterIncremented(types.ResultType)                    {}
func (NopEvents) Interrupted(types.Location)                             {}
func (NopEvents) LocalsUpdated(types.LocalsUpdate)                       {}
func (NopEvents) AutIDRetrieved(int)                                     {}
func (NopEvents) QueryFinished(string)                                   {}
func (NopEvents) ObjectPicked(string)                                    {}
func (NopEvents) RecordingFinished(string)                               {}

// NopHost declines every confirmation and ignores every side effect.
type NopHost struct{}

var _ Host = NopHost{}

func (NopHost) Confirm(string) bool              { return false }
func (NopHost) CriticalMessage(string)           {}
func (NopHost) MinimizeWindows()                 {}
func (NopHost) RestoreWindows()                  {}
func (NopHost) OpenEditorAt(types.Location)      {}
func (NopHost) SetLocationMarker(types.Location) {}
func (NopHost) ClearLocationMarker()             {}
