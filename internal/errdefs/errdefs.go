// Copyright (c) 2026 Cilo Authors
// SPDX-License-Identifier: MIT
// See LICENSES/MIT.txt for full license text

// Package errdefs defines the failure kinds shared across devstack
// components. Callers match on kinds with errors.Is.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	ErrEngineUnavailable      = errors.New("container engine unavailable")
	ErrImagePull              = errors.New("image pull failed")
	ErrNetworkCreate          = errors.New("network create failed")
	ErrContainerCreate        = errors.New("container create failed")
	ErrContainerNotFound      = errors.New("container not found")
	ErrExec                   = errors.New("exec failed")
	ErrHealthCheckTimeout     = errors.New("health check timed out")
	ErrCredentialIO           = errors.New("credential store I/O failed")
	ErrPortConflict           = errors.New("port conflict")
	ErrUnsupportedServiceType = errors.New("unsupported service type")
	ErrServiceNotDeclared     = errors.New("service not declared")
	ErrUnsupportedOperation   = errors.New("operation not supported by runtime")
	ErrInvalidConfig          = errors.New("invalid configuration")
)

// Error ties a failure kind to the operation and service it came from.
type Error struct {
	Kind    error
	Op      string
	Service string
	Err     error
}

// New returns an *Error. cause may be nil.
func New(kind error, op, service string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Service: service, Err: cause}
}

func (e *Error) Error() string {
	prefix := e.Op
	if e.Service != "" {
		prefix = fmt.Sprintf("%s %s", e.Op, e.Service)
	}
	switch {
	case e.Err != nil && e.Kind != nil:
		return fmt.Sprintf("%s: %v: %v", prefix, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	case e.Kind != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Kind)
	default:
		return prefix
	}
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// ServiceOf returns the service named by the first *Error in err's chain.
func ServiceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Service
	}
	return ""
}
