package model

import (
	"errors"
	"time"
)

// ErrScheduledWithoutRequest is returned when a record claims an outstanding
// delivery but carries no pending request path.
var ErrScheduledWithoutRequest = errors.New("update scheduled without a pending request path")

// UpdateRecord is the persisted update bookkeeping for one installed WebAPK.
type UpdateRecord struct {
	AppID       string `json:"appId"`
	PackageName string `json:"packageName"`

	// LastCheckTime is when a manifest re-fetch was last attempted.
	LastCheckTime time.Time `json:"lastCheckTime"`
	// LastCompletionTime is when the last update request completed, success or failure.
	LastCompletionTime time.Time `json:"lastCompletionTime"`

	LastRequestSucceeded      bool `json:"lastRequestSucceeded"`
	LastRequestedShellVersion int  `json:"lastRequestedShellVersion"`
	ShouldForceUpdate         bool `json:"shouldForceUpdate"`
	RelaxedUpdates            bool `json:"relaxedUpdates"`
	UpdateScheduled           bool `json:"updateScheduled"`

	// PendingUpdateRequestPath is empty when no request is awaiting delivery.
	PendingUpdateRequestPath string `json:"pendingUpdateRequestPath,omitempty"`
}

// Validate checks the record invariants that must hold before it is persisted.
func (r *UpdateRecord) Validate() error {
	if r.AppID == "" {
		return errors.New("app id is required")
	}
	if r.UpdateScheduled && r.PendingUpdateRequestPath == "" {
		return ErrScheduledWithoutRequest
	}
	return nil
}

// HasPendingRequest reports whether a serialized request is awaiting delivery.
func (r *UpdateRecord) HasPendingRequest() bool {
	return r.PendingUpdateRequestPath != ""
}

// Clone returns a copy of the record.
func (r *UpdateRecord) Clone() *UpdateRecord {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// InstallResult is the outcome reported by the external installer.
type InstallResult int

const (
	InstallResultSuccess InstallResult = iota
	InstallResultFailure
	// InstallResultProbablyFailure is reported when the installer gave up waiting
	// for confirmation. It is recorded as a failure.
	InstallResultProbablyFailure
)

func (r InstallResult) String() string {
	switch r {
	case InstallResultSuccess:
		return "SUCCESS"
	case InstallResultFailure:
		return "FAILURE"
	case InstallResultProbablyFailure:
		return "PROBABLY_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// Succeeded reports whether the result counts as a successful update.
func (r InstallResult) Succeeded() bool {
	return r == InstallResultSuccess
}

// ParseInstallResult converts the installer's textual result.
func ParseInstallResult(s string) (InstallResult, error) {
	switch s {
	case "SUCCESS":
		return InstallResultSuccess, nil
	case "FAILURE":
		return InstallResultFailure, nil
	case "PROBABLY_FAILURE":
		return InstallResultProbablyFailure, nil
	}
	return InstallResultFailure, errors.New("unknown install result " + s)
}
