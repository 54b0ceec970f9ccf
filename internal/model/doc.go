// Package model defines the domain types and value objects for the
// vbox-guest-additions CLI.
//
// This package contains pure data structures with no external dependencies.
// Nothing here is persisted: a run builds StepResults as the provisioning
// pipeline advances and discards them when the process exits.
//
// The package also defines exit codes (ExitCode), the failure taxonomy
// (ErrorKind, StepError) and a custom error type (CLIError) that carries
// exit codes for proper OS process exit handling.
package model
