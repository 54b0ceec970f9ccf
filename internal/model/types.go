package model

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// StepStatus represents the outcome of a single provisioning step.
// A run is a linear chain, so the transitions are simply:
//
//	pending → ok | skipped | failed
//
// and the first failed step terminates the chain.
type StepStatus string

const (
	// StatusOK indicates the step ran and its external command succeeded.
	StatusOK StepStatus = "ok"

	// StatusSkipped indicates the step's guard decided there was nothing
	// to do (e.g., every required package is already installed).
	StatusSkipped StepStatus = "skipped"

	// StatusFailed indicates the step failed. No later step runs.
	StatusFailed StepStatus = "failed"
)

// String returns the string representation of StepStatus.
func (s StepStatus) String() string {
	return string(s)
}

// IsValid checks whether the StepStatus value is one of the
// predefined valid states.
func (s StepStatus) IsValid() bool {
	switch s {
	case StatusOK, StatusSkipped, StatusFailed:
		return true
	default:
		return false
	}
}

// ParseStepStatus converts a string to a StepStatus.
// Returns an error if the string does not match any valid status.
func ParseStepStatus(s string) (StepStatus, error) {
	status := StepStatus(strings.ToLower(s))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid step status: %q (valid: ok, skipped, failed)", s)
	}
	return status, nil
}

// ErrorKind classifies why a step failed. Every kind is fatal; the kind
// only drives the wording of the diagnostic and the JSON error output.
type ErrorKind string

const (
	// KindPrivilege means the process is not running as root.
	KindPrivilege ErrorKind = "privilege"

	// KindPackage means a package manager query or install failed.
	KindPackage ErrorKind = "package"

	// KindNetwork means the ISO download failed.
	KindNetwork ErrorKind = "network"

	// KindMount means mount, copy or unmount of the ISO failed.
	KindMount ErrorKind = "mount"

	// KindInstallerMissing means the vendor installer was not found in
	// the extraction directory after the copy.
	KindInstallerMissing ErrorKind = "installer-missing"

	// KindCommand is a generic non-zero exit from any other shell-out.
	KindCommand ErrorKind = "command"

	// KindConfig means the configuration could not be loaded or is invalid.
	KindConfig ErrorKind = "config"
)

// String returns the string representation of ErrorKind.
func (k ErrorKind) String() string {
	return string(k)
}

// IsValid checks whether the ErrorKind value is one of the predefined kinds.
func (k ErrorKind) IsValid() bool {
	switch k {
	case KindPrivilege, KindPackage, KindNetwork, KindMount,
		KindInstallerMissing, KindCommand, KindConfig:
		return true
	default:
		return false
	}
}

// StepError is returned by the pipeline when a step fails. It names the
// step and the failure kind, and wraps the underlying cause.
type StepError struct {
	// Step is the name of the failed step (e.g., "mount-image").
	Step string

	// Kind classifies the failure.
	Kind ErrorKind

	// Err is the underlying error.
	Err error
}

// Error satisfies the error interface.
func (e *StepError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("step %s failed (%s)", e.Step, e.Kind)
	}
	return fmt.Sprintf("step %s failed (%s): %v", e.Step, e.Kind, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *StepError) Unwrap() error {
	return e.Err
}

// NewStepError creates a StepError for the given step and kind.
func NewStepError(step string, kind ErrorKind, err error) *StepError {
	return &StepError{Step: step, Kind: kind, Err: err}
}

// KindOf returns the ErrorKind carried by the first StepError in err's
// chain, or KindCommand when err carries none.
func KindOf(err error) ErrorKind {
	var stepErr *StepError
	if errors.As(err, &stepErr) {
		return stepErr.Kind
	}
	return KindCommand
}

// StepResult records one executed (or skipped) step for the run report.
type StepResult struct {
	// Name is the step identifier, e.g. "download-image".
	Name string `json:"name" yaml:"name"`

	// Status is the outcome of the step.
	Status StepStatus `json:"status" yaml:"status"`

	// Duration is how long the step took, including external commands.
	Duration time.Duration `json:"duration" yaml:"duration"`

	// Error is the failure message. Empty unless Status is StatusFailed.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunReport summarizes a provisioning run.
type RunReport struct {
	// Version is the Guest Additions version that was installed.
	Version string `json:"version" yaml:"version"`

	// Steps lists the steps in execution order. A failed run ends with
	// the failed step; steps after it are absent.
	Steps []StepResult `json:"steps" yaml:"steps"`

	// Rebooted is true when the user accepted the reboot prompt.
	Rebooted bool `json:"rebooted" yaml:"rebooted"`

	// DryRun is true when nothing was changed on the host.
	DryRun bool `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`

	// Commands lists, for a dry run, the commands that would have run.
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// Failed returns the failed step result, if any.
func (r *RunReport) Failed() (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Status == StatusFailed {
			return s, true
		}
	}
	return StepResult{}, false
}

// versionRegex accepts VirtualBox release identifiers such as "7.0.14"
// or "7.1.0_BETA1". The version is interpolated into a URL and file paths,
// so separators and whitespace are rejected.
var versionRegex = regexp.MustCompile(`^[0-9]+\.[0-9]+\.[0-9]+[A-Za-z0-9_.-]*$`)

// ValidateVersion checks if the given string is a plausible VirtualBox version.
func ValidateVersion(version string) error {
	if version == "" {
		return fmt.Errorf("version must not be empty")
	}
	if !versionRegex.MatchString(version) {
		return fmt.Errorf("invalid version %q: expected a release identifier such as 7.0.14", version)
	}
	return nil
}

// ExitCode defines the CLI exit codes. Every fatal step and every usage
// error maps to the same non-zero code.
type ExitCode int

const (
	// ExitSuccess indicates the command completed successfully, including
	// when the user declined the reboot.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates a usage error or a failed step.
	ExitGeneralError ExitCode = 1
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
