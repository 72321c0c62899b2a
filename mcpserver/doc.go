// Package mcpserver provides the Model Context Protocol (MCP) server implementation.
//
// Tools:
//
//	execute_code     {workspace_id, code, timeout?} -> JSON text plus image parts
//	destroy_session  {workspace_id}                 -> {"status":"ok"}
//
// Resources:
//
//	sandbox://health  broker health as JSON
package mcpserver
