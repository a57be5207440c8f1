// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeeDigitalWorks/basins3/pkg/network"
)

// Kind classifies adapter failures.
type Kind int

const (
	KindUnavailable Kind = iota + 1 // transient; retried
	KindRejected                    // the network refused the transaction
	KindNotFound
	KindConflict
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindUnavailable:
		return "unavailable"
	case KindRejected:
		return "rejected"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is.
var (
	ErrUnavailable = &Error{Kind: KindUnavailable}
	ErrRejected    = &Error{Kind: KindRejected}
	ErrNotFound    = &Error{Kind: KindNotFound}
	ErrConflict    = &Error{Kind: KindConflict}
	ErrInvalid     = &Error{Kind: KindInvalid}
	ErrReadOnly    = errors.New("gateway has no signer")
)

// Error is returned by every Adapter method except for context errors, which
// are passed through unchanged.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("backend %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("backend %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the kind of err, or 0 when err is not an adapter error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// wrap classifies a network error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	kind := KindUnavailable
	switch {
	case errors.Is(err, network.ErrNotFound):
		kind = KindNotFound
	case errors.Is(err, network.ErrRejected):
		kind = KindRejected
	case errors.Is(err, network.ErrConflict):
		kind = KindConflict
	case errors.Is(err, network.ErrInvalidAddress):
		kind = KindInvalid
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func retryable(err error) bool {
	return KindOf(err) == KindUnavailable
}
