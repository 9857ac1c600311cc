// Package agent runs the bounded think/act loop of one user turn.
//
// An Orchestrator asks a Model for the next message, dispatches the tool
// calls it requests through a Toolbox, appends the results to the
// transcript and repeats until the model answers without tool calls. The
// loop is bounded by a step cap and a wall-clock timeout.
//
// Cancelling the caller's context stops the loop promptly. Tool calls that
// were already dispatched keep running to completion in the background, so
// a mutation is never abandoned half-way.
package agent
