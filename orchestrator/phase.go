package orchestrator

import (
	"github.com/ethereum-optimism/infra/op-squish/suite"
	"github.com/ethereum-optimism/infra/op-squish/types"
)

// phase is the pending intent of the orchestrator. Every reachable
// (state, request) combination maps onto one of the phase types below.
type phase interface {
	request() types.Request
}

type idlePhase struct{}

// runPhase runs the queued test cases of one suite, one runner per case.
type runPhase struct {
	run *suiteRun
}

// recordPhase starts the AUT and records into a snippet file.
type recordPhase struct {
	suite       *suite.Suite
	testCase    string
	snippetFile string
}

// queryPhase runs a single query runner.
type queryPhase struct {
	args   []string
	output string
}

// configPhase applies server configuration changes one at a time.
type configPhase struct {
	changes [][]string
	next    int
}

// stopPhase waits for the server to stop before the session of prev ends.
type stopPhase struct {
	prev phase
	err  error
}

// killOldPhase waits for a stale server to stop before retry begins.
type killOldPhase struct {
	retry phase
}

func (idlePhase) request() types.Request    { return types.RequestNone }
func (runPhase) request() types.Request     { return types.RequestRunTest }
func (recordPhase) request() types.Request  { return types.RequestRecordTest }
func (*queryPhase) request() types.Request  { return types.RequestRunnerQuery }
func (*configPhase) request() types.Request { return types.RequestServerConfigChange }
func (stopPhase) request() types.Request    { return types.RequestServerStop }
func (p killOldPhase) request() types.Request {
	return p.retry.request().KillOldVariant()
}
