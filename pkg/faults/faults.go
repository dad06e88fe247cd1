// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package faults defines the AgriPortal error taxonomy.
//
// Every failure that crosses a component boundary (live source, persisted
// store, generation function, batch sink) is reported as a *Error carrying
// two things:
//
//   - Kind: one of the sentinel errors below, matched with errors.Is
//   - Class: Transient, Permanent or NotFound, used by retry predicates
//
// Retry decisions are made from Class only. Nothing in AgriPortal inspects
// error message text.
//
// # Usage
//
//	if err != nil {
//	    return faults.Transient(faults.ErrStoreTransport, "select weather_data", err)
//	}
//
//	switch faults.ClassOf(err) {
//	case faults.ClassNotFound:
//	    // trigger generation
//	case faults.ClassTransient:
//	    // retry
//	}
package faults

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrInvalidRequest reports a malformed data request. The only
	// resolver error that reaches the caller.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrSourceTimeout reports a live source call that exceeded its timeout.
	ErrSourceTimeout = errors.New("live source timeout")

	// ErrSourceUnavailable reports a live source that could not be reached
	// or answered with a non-success status.
	ErrSourceUnavailable = errors.New("live source unavailable")

	// ErrSourceParse reports a live source response that could not be
	// decoded or carried non-finite values.
	ErrSourceParse = errors.New("live source parse error")

	// ErrStoreTransport reports a persisted store that could not be reached
	// or answered with a server-side failure.
	ErrStoreTransport = errors.New("store transport error")

	// ErrStoreNotFound reports a store read that matched no record.
	ErrStoreNotFound = errors.New("store record not found")

	// ErrGenerationTrigger reports a generation function that could not be invoked.
	ErrGenerationTrigger = errors.New("generation trigger error")

	// ErrBatchTransient reports a batch insert that may succeed if retried.
	ErrBatchTransient = errors.New("batch transient error")

	// ErrBatchValidation reports a batch insert rejected for its content.
	ErrBatchValidation = errors.New("batch validation error")

	// ErrSubscribeUnsupported is returned by stores without a change feed.
	ErrSubscribeUnsupported = errors.New("change subscription not supported")
)

// =============================================================================
// Classification
// =============================================================================

// Class is the structural retry tag of an error.
type Class int

const (
	// ClassPermanent errors will fail again if retried.
	ClassPermanent Class = iota

	// ClassTransient errors may succeed if retried.
	ClassTransient

	// ClassNotFound marks a successful lookup with no matching record.
	ClassNotFound
)

// String returns "permanent", "transient" or "not_found".
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassNotFound:
		return "not_found"
	default:
		return "permanent"
	}
}

// Error is the tagged error value used across AgriPortal.
type Error struct {
	// Kind is the taxonomy sentinel (ErrStoreTransport, ErrSourceParse, ...).
	Kind error

	// Class drives retry decisions.
	Class Class

	// Op names the failed operation, e.g. "select weather_data".
	Op string

	// Err is the underlying cause. May be nil.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return fmt.Sprint(e.Kind)
	}
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// New builds a tagged error.
func New(kind error, class Class, op string, cause error) error {
	return &Error{Kind: kind, Class: class, Op: op, Err: cause}
}

// Transient builds a ClassTransient error.
func Transient(kind error, op string, cause error) error {
	return New(kind, ClassTransient, op, cause)
}

// Permanent builds a ClassPermanent error.
func Permanent(kind error, op string, cause error) error {
	return New(kind, ClassPermanent, op, cause)
}

// NotFound builds a ClassNotFound error of kind ErrStoreNotFound.
func NotFound(op string) error {
	return New(ErrStoreNotFound, ClassNotFound, op, nil)
}

// Invalid builds an ErrInvalidRequest error with a formatted reason.
func Invalid(format string, args ...any) error {
	return New(ErrInvalidRequest, ClassPermanent, "", fmt.Errorf(format, args...))
}

// ClassOf returns the retry class of err.
//
// Tagged errors report their own class. Untagged errors are classified
// by type: context.DeadlineExceeded and network timeouts are transient,
// context.Canceled and everything else is permanent. A nil error is
// reported as permanent; callers test for nil first.
func ClassOf(err error) Class {
	if err == nil {
		return ClassPermanent
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	if errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	return ClassPermanent
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	return err != nil && ClassOf(err) == ClassTransient
}

// IsNotFound reports whether err is a lookup that matched nothing.
func IsNotFound(err error) bool {
	return err != nil && ClassOf(err) == ClassNotFound
}
