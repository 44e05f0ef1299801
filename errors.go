package sharedimage

import (
	"errors"
	"fmt"
)

// Shared image errors. The Manager reports these conditions by logging and
// returning nil; the factory and service layers return them wrapped.
var (
	// ErrNotFound is returned when a mailbox has no registered backing.
	ErrNotFound = errors.New("sharedimage: mailbox not found")

	// ErrDuplicateMailbox is returned when a mailbox is registered twice.
	ErrDuplicateMailbox = errors.New("sharedimage: mailbox already registered")

	// ErrIncompatible is returned when a backing cannot serve a capability.
	ErrIncompatible = errors.New("sharedimage: capability not supported by backing")

	// ErrAllocationFailed is returned when a backing could not be created.
	ErrAllocationFailed = errors.New("sharedimage: backing allocation failed")

	// ErrNotEmpty is returned at teardown when shared images or tracked
	// memory remain.
	ErrNotEmpty = errors.New("sharedimage: shared images still alive")

	// ErrInvalidUsage is returned when a usage mask is not allowed for an
	// operation.
	ErrInvalidUsage = errors.New("sharedimage: invalid usage")

	// ErrNoFactory is returned when no backing factory supports a request.
	ErrNoFactory = errors.New("sharedimage: no backing factory supports request")

	// ErrInvalidDescriptor is returned for malformed image descriptors.
	ErrInvalidDescriptor = errors.New("sharedimage: invalid descriptor")
)

// MailboxError records a failed operation on a specific mailbox.
type MailboxError struct {
	Op      string
	Mailbox Mailbox
	Err     error
}

func (e *MailboxError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Mailbox, e.Err)
}

func (e *MailboxError) Unwrap() error { return e.Err }
