// Package orchestrator sequences the squishserver and squishrunner processes
// of a test session.
//
// A session starts from one request (run, record, query or server
// configuration change). The orchestrator starts a server, then the runner
// for the request, and stops the server again once the runner is done. At
// most one session is active. A server left over from an earlier session is
// only stopped after Host.Confirm agrees.
//
// Every transition happens on a single event loop. Process callbacks post
// closures to the loop and carry the id of the process handle that produced
// them, so events of a replaced process are dropped.
//
// While a test case runs its report is parsed as it is written. Once the run
// is over the case reports are merged into one results.xml in the run
// directory and old run directories are rotated out.
package orchestrator
