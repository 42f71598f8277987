// Package orchestrator composes the coordinator's components into the
// per-message pipeline.
//
// # Overview
//
// Every inbound message moves through a fixed sequence of phases:
//
//	received → loop_checked → routed → context_fetched → generated →
//	functions_executed → state_updated → delivered
//
// and ends in either delivered or error_delivered. A message for which no
// agent is available ends in no_agent after a fallback reply.
//
// # Serialization
//
// Messages are processed on per-conversation lanes: one worker per
// conversation key, started on demand and stopped when its queue drains.
// Different conversations run concurrently. Exec queues administrative
// actions (reset, forced summary) on the same lane, so they never
// interleave with a turn.
//
// # Failure handling
//
// Failures inside a phase are caught. The originating thread receives a
// short human-readable error reply and an ErrorEvent is emitted; nothing
// escapes to the caller of Dispatch or Process.
//
// # Workflow side effects
//
// Successful function calls drive workflow transitions through a fixed
// table keyed on function name (see NextState). Calls that do not fit the
// current stage are ignored.
package orchestrator
