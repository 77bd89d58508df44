// Package core provides the business logic for document import and curation.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support
// reference. Users can quote the code to support staff for faster diagnosis.
//
// # Import Errors (IMP001-IMP099)
//
//	IMP001 - Invalid document: The selected file cannot be imported
//	         Action: Choose a PDF file and try again
//	         Type: *InvalidInputError
//
//	IMP002 - Not ready: No completed import to work with
//	         Action: Upload a document and wait for processing to finish
//	         Type: ErrNotReady
//
//	IMP003 - Superseded: The import was replaced by a newer one
//	         Action: Continue with the latest import
//	         Type: ErrSuperseded
//
// # Job Errors (JOB001-JOB099)
//
//	JOB001 - Submission failed: The document could not be submitted
//	         Action: Check your connection and upload again
//	         Type: *SubmissionError
//
//	JOB002 - Status unavailable: Lost contact with the processing service
//	         Action: Start the import again
//	         Type: *TransportError
//
//	JOB003 - Extraction failed: The processing service could not read the document
//	         Action: Check the document and upload again
//	         Type: *JobFailedError
//
//	JOB004 - Results unavailable: Extracted records could not be loaded
//	         Action: Start the import again
//	         Type: *ResultFetchError
//
//	JOB005 - System busy: Too many documents are being submitted
//	         Action: Please wait a moment and try again
//	         Type: ErrTooManySubmissions
//
// # Save Errors (SAV001-SAV099)
//
//	SAV001 - Save failed: Records could not be saved
//	         Action: Your edits are kept. Try saving again
//	         Type: *PersistenceError
//
//	SAV002 - Save in progress: A save is already running
//	         Action: Wait for the current save to finish
//	         Type: ErrCommitInFlight
//
//	SAV003 - Nothing to save: There are no rows to save
//	         Action: Add rows before saving
//	         Type: ErrNothingToCommit
//
// # Session Errors (SES001-SES099)
//
//	SES001 - Session expired: Import session not found
//	         Action: Start a new import
//	         Type: ErrSessionNotFound
//
// # Pattern Errors
//
// Errors without a known type fall through to case-insensitive substring
// matching (DB004-DB007, UPL004-UPL005, RATE001). The first matching pattern
// wins. A persistence error is reported as SAV001 even when its cause would
// match a pattern, so the user learns their edits are kept.
//
// # Default Error (ERR000)
//
//	ERR000 - Unknown error: An unexpected error occurred
//	         Action: Please try again or contact support
package core

import (
	"errors"
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// typedMessages is checked before patterns. Order matters: wrapper types
// that may carry a pattern-matching cause come first.
var typedMessages = []struct {
	match func(error) bool
	msg   UserMessage
}{
	{
		match: func(err error) bool { var e *PersistenceError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "Records could not be saved",
			Action:  "Your edits are kept. Try saving again",
			Code:    "SAV001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrCommitInFlight) },
		msg: UserMessage{
			Message: "A save is already running",
			Action:  "Wait for the current save to finish",
			Code:    "SAV002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrNothingToCommit) },
		msg: UserMessage{
			Message: "There are no rows to save",
			Action:  "Add rows before saving",
			Code:    "SAV003",
		},
	},
	{
		match: func(err error) bool { var e *InvalidInputError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "The selected file cannot be imported",
			Action:  "Choose a PDF file and try again",
			Code:    "IMP001",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrNotReady) },
		msg: UserMessage{
			Message: "No completed import to work with",
			Action:  "Upload a document and wait for processing to finish",
			Code:    "IMP002",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrSuperseded) },
		msg: UserMessage{
			Message: "The import was replaced by a newer one",
			Action:  "Continue with the latest import",
			Code:    "IMP003",
		},
	},
	{
		match: func(err error) bool { var e *SubmissionError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "The document could not be submitted",
			Action:  "Check your connection and upload again",
			Code:    "JOB001",
		},
	},
	{
		match: func(err error) bool { var e *TransportError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "Lost contact with the processing service",
			Action:  "Start the import again",
			Code:    "JOB002",
		},
	},
	{
		match: func(err error) bool { var e *JobFailedError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "The processing service could not read the document",
			Action:  "Check the document and upload again",
			Code:    "JOB003",
		},
	},
	{
		match: func(err error) bool { var e *ResultFetchError; return errors.As(err, &e) },
		msg: UserMessage{
			Message: "Extracted records could not be loaded",
			Action:  "Start the import again",
			Code:    "JOB004",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrTooManySubmissions) },
		msg: UserMessage{
			Message: "Too many documents are being submitted",
			Action:  "Please wait a moment and try again",
			Code:    "JOB005",
		},
	},
	{
		match: func(err error) bool { return errors.Is(err, ErrSessionNotFound) },
		msg: UserMessage{
			Message: "Import session not found",
			Action:  "Start a new import",
			Code:    "SES001",
		},
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages
// for errors that carry no known type. More specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "connection refused",
		msg: UserMessage{
			Message: "Unable to connect to database",
			Action:  "Please try again in a few moments",
			Code:    "DB004",
		},
	},
	{
		pattern: "connection reset",
		msg: UserMessage{
			Message: "Database connection was interrupted",
			Action:  "Please try again",
			Code:    "DB005",
		},
	},
	{
		pattern: "deadlock",
		msg: UserMessage{
			Message: "Database was busy with conflicting operations",
			Action:  "Please try again",
			Code:    "DB007",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "timeout",
		msg: UserMessage{
			Message: "Operation timed out",
			Action:  "Please try again later",
			Code:    "DB006",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Known error types win over text patterns; ERR000 is the fallback.
//
// Example:
//
//	msg := MapError(&SubmissionError{Err: io.EOF})
//	// msg.Code == "JOB001"
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, tm := range typedMessages {
		if tm.match(err) {
			return tm.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
