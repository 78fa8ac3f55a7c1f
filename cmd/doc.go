// Package cmd implements the command-line interface for inboxagent.
//
// This package provides the following commands:
//   - run: Poll the watched label and answer messages through the agent
//   - status: Print the idempotency record of a message
//   - version: Display version information
//
// The run command is the default command when no subcommand is specified.
package cmd
