// Package tools is the closed catalog of operations the agent may invoke.
//
// Each tool has a typed input decoded once at the boundary, an MCP schema the
// model sees, a destructive flag and an optional plan entitlement. Registry
// enforces, in order:
//
//   - the plan gate: a tool the session's plan does not include returns an
//     upgradeRequired output without running
//   - the approval gate: a destructive tool whose input lacks confirmed=true
//     returns an approvalRequired refusal and never reaches an engine
//   - the replay guard: an identical confirmed destructive call seen within
//     the replay window returns the earlier result instead of acting again
//
// Engine failures become {success:false, error:...} outputs. Only failures
// that invalidate the whole connection are also returned as a Go error.
package tools
