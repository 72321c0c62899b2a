// Package main is the entry point for the sandboxd execution broker.
//
// sandboxd keeps one isolated, stateful Python environment per workspace and
// executes code in it on request. Environments are created lazily, reused so
// interpreter state persists, reclaimed after a period of inactivity, and
// replaced by an unisolated fallback interpreter when isolation cannot be
// provisioned. The broker is served over HTTP (with an MCP endpoint at /mcp)
// or as an MCP server on stdio.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging, viper for configuration, and
// cobra for the command line.
package main
