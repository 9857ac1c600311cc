// Package cmd implements the command-line interface for mailagent.
//
// This package provides the following commands:
//   - serve: Start the MCP server exposing the mailbox tool catalog
//   - agent: Run agent turns against a mailbox with an OpenAI model
//   - cleanup: Run one scheduled job (archive, trash or unsubscribe scan)
//   - connect: Authorize a Google mailbox and store the connection
//   - generate-docs: Generate markdown documentation for all MCP tools
//   - version: Display version information
//
// Every command reads its flags with environment-variable fallbacks; an
// explicitly set flag always wins.
package cmd
