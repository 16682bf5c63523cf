// Package exitcodes defines the exit codes of op-squish.
package exitcodes

// A run that completes with failing, erroring or canceled test cases exits
// with TestFailure. Anything that prevents a verdict (a server that never
// starts, a bad configuration, a panic) exits with RuntimeErr.
const (
	Success     = 0
	TestFailure = 1
	RuntimeErr  = 2
)
