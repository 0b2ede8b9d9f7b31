// Package transfer orchestrates cross-provider file moves: acquiring source
// bytes, driving the broker upload-session protocol, uploading to the target
// provider, and tracking every transfer's progress and terminal state in a
// shared registry.
package transfer

import "context"

// Status is the lifecycle state of one transfer.
type Status int

const (
	StatusStarting Status = iota
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCanceled
)

func (s Status) String() string {
	switch s {
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCanceled:
		return "canceled"
	default:
		return "starting"
	}
}

// Terminal reports whether the status is final. Terminal records persist in
// the registry until explicitly cleared so the user never loses sight of a
// finished or failed transfer.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Record tracks one file's transfer. At most one record exists per FileID;
// all mutation goes through Registry.Upsert.
type Record struct {
	FileID    string
	FileName  string
	SessionID string
	Status    Status

	// Per-phase percentages, each 0-100.
	DownloadProgress int
	UploadProgress   int

	// Error holds the user-facing failure message for StatusFailed.
	Error string

	cancel context.CancelFunc
}

// Percent is the composite 0-100 progress across both phases, each phase
// weighted equally. Exactly 100 once both phases report 100.
func (r *Record) Percent() int {
	return (r.DownloadProgress + r.UploadProgress) / 2
}

// Patch is a partial update merged into a Record by Upsert. Nil fields are
// left untouched.
type Patch struct {
	FileName         *string
	SessionID        *string
	Status           *Status
	DownloadProgress *int
	UploadProgress   *int
	Error            *string
	Cancel           context.CancelFunc
}

// Convenience pointer helpers for building patches.

func statusPatch(s Status) *Status { return &s }

func intPatch(v int) *int { return &v }

func stringPatch(v string) *string { return &v }
