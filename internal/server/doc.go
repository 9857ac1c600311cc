// Package server exposes the mailbox tools over MCP.
//
// ServerContext caches one Session per mailbox connection: the provider
// built on the vault's authorized HTTP client, the scan, mutation and
// unsubscribe engines bound to it, and the tool registry that dispatches
// calls. Sessions idle longer than the session timeout are evicted, and a
// session whose call fails with a fatal provider error is dropped at once.
//
// RegisterTools bridges the registry onto an MCP server. The stdio
// transport serves one fixed connection; the streamable HTTP transport
// reads the connection from the X-Mailbox-Connection header.
//
// Health probes (/healthz, /readyz, /healthz/detailed) are served next to
// the MCP endpoint. Prometheus metrics are served on their own port.
package server
