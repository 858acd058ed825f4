/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package queue

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSlotAvailable means the lookahead window was exhausted without a
	// free candidate. Retryable with a wider window or a later from.
	ErrNoSlotAvailable = errors.New("no slot available within lookahead window")

	// ErrQueueFull means a bulk assignment placed zero posts before the
	// window ran out. Retryable with a wider window.
	ErrQueueFull = errors.New("queue full within lookahead window")

	// ErrQuotaExceeded means a tier limit blocks the operation. Terminal:
	// only a plan change lifts it.
	ErrQuotaExceeded = errors.New("tier quota exceeded")
)

// ValidationError rejects malformed input before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
