// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"errors"
	"fmt"
)

// Package-level errors for programmatic checks with errors.Is.
var (
	// ErrNilTree indicates Build was called with a nil parsed tree.
	ErrNilTree = errors.New("pipeline tree is nil")

	// ErrEmptyDocument indicates the parsed tree contains no pipeline content.
	ErrEmptyDocument = errors.New("pipeline document is empty")
)

// =============================================================================
// ERROR KIND
// =============================================================================

// ErrorKind classifies structural failures during pipeline construction.
type ErrorKind int

const (
	// KindDuplicateName indicates two sibling elements share a name
	// (two stages in a pipeline, two jobs in a stage).
	KindDuplicateName ErrorKind = iota

	// KindUnresolvedReference indicates a dependsOn entry names an element
	// that does not exist in the enclosing scope.
	KindUnresolvedReference

	// KindCycleDetected indicates the dependsOn graph contains a cycle.
	KindCycleDetected

	// KindMalformedNode indicates a tree node has the wrong shape for its
	// position (scalar where a mapping is required, negative timeout, ...).
	KindMalformedNode
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindDuplicateName:
		return "duplicate_name"
	case KindUnresolvedReference:
		return "unresolved_reference"
	case KindCycleDetected:
		return "cycle_detected"
	case KindMalformedNode:
		return "malformed_node"
	default:
		return "unknown"
	}
}

// =============================================================================
// MODEL ERROR
// =============================================================================

// ModelError describes a structural violation found while building a
// Pipeline. The build never returns a partially-constructed Pipeline
// alongside a ModelError.
//
// Thread Safety: Immutable after creation.
type ModelError struct {
	// Kind classifies the violation.
	Kind ErrorKind

	// Path locates the offending node in document terms,
	// e.g. "stages[1].jobs[0].dependsOn".
	Path string

	// Detail is a human-readable description naming the elements involved,
	// e.g. `stage "deploy" depends on undefined stage "qa"`.
	Detail string
}

// Error implements the error interface.
func (e *ModelError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	}
	return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Detail)
}

// newModelError builds a ModelError for the given kind, path, and detail.
func newModelError(kind ErrorKind, path, format string, args ...any) *ModelError {
	return &ModelError{
		Kind:   kind,
		Path:   path,
		Detail: fmt.Sprintf(format, args...),
	}
}

// AsModelError unwraps err into a *ModelError if it is one.
//
// Callers that need to branch on Kind use this instead of errors.As
// boilerplate:
//
//	if me, ok := model.AsModelError(err); ok && me.Kind == model.KindCycleDetected {
//	    ...
//	}
func AsModelError(err error) (*ModelError, bool) {
	var me *ModelError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}
