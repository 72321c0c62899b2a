// Package session brokers per-workspace execution environments.
//
// The Registry maps workspace ids to Sessions and creates environments lazily
// on first use. Every Session carries an exclusive lock that totally orders the
// executions, evictions, and destruction applied to it; the registry's own
// mutex is held only for map operations, so distinct workspaces never wait on
// each other's provisioning or execution.
//
// The Broker turns an execute request into a normalized
// sandbox.ExecutionResult, routing to the unisolated fallback executor when the
// workspace has no environment. The Reaper evicts sessions that have been idle
// longer than the configured threshold, and the Supervisor ties the reaper and
// the final drain to the application lifecycle.
package session
