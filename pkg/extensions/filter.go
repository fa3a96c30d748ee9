// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrDocumentBlocked is returned when a submitted document is rejected
// by the filter. Enterprise implementations should wrap this error with
// the reason.
//
// Example:
//
//	if containsLiveCredential(doc) {
//	    return "", fmt.Errorf("document contains a live credential: %w", ErrDocumentBlocked)
//	}
var ErrDocumentBlocked = errors.New("document blocked by filter")

// FilterResult contains the outcome of a filter operation.
//
// This struct provides detailed information about what the filter did,
// useful for debugging, audit trails, and user feedback.
//
// Example:
//
//	result := FilterResult{
//	    Original:    "  - script: curl -H 'X-Key: sk_live_abc123'",
//	    Filtered:    "  - script: curl -H 'X-Key: [REDACTED]'",
//	    WasModified: true,
//	    Detections: []Detection{
//	        {Type: "api_key", Location: "line 12", Action: "redacted"},
//	    },
//	}
type FilterResult struct {
	// Original is the input content before filtering.
	Original string

	// Filtered is the content after filtering transformations.
	// If WasModified is false, this equals Original.
	Filtered string

	// WasModified indicates if any transformations were applied.
	WasModified bool

	// WasBlocked indicates if the content was completely rejected.
	// If true, Filtered should not be used.
	WasBlocked bool

	// BlockReason explains why the content was blocked (if WasBlocked).
	BlockReason string

	// Detections lists what the filter found in the content.
	// Useful for audit logging and debugging.
	Detections []Detection
}

// Detection describes a single item found by the filter.
//
// Example:
//
//	detection := Detection{
//	    Type:     "api_key",
//	    Location: "line 12, characters 30-58",
//	    Action:   "redacted",
//	    Original: "sk_live_abc123",  // Only in debug mode
//	}
type Detection struct {
	// Type categorizes what was detected.
	// Common types: "secret", "api_key", "credential", "pii",
	// "internal_hostname", "email"
	Type string

	// Location describes where in the content the item was found.
	// Format is implementation-specific (e.g., "line 12", "characters 30-58")
	Location string

	// Action describes what was done with the detected item.
	// Values: "redacted", "masked", "replaced", "blocked", "flagged"
	Action string

	// Original is the detected content (only populated in debug mode).
	// WARNING: This may contain sensitive data - handle carefully.
	Original string

	// Replacement is what the content was replaced with (if Action is "replaced").
	Replacement string
}

// ContentFilter screens pipeline documents and finding messages.
//
// Implementations must be safe for concurrent use by multiple goroutines.
//
// # Filter Pipeline
//
// Content flows through filters at two points:
//
//  1. FilterDocument: A submitted pipeline document, before parsing
//     - Block documents carrying live credentials off a shared server
//     - Redact inlined secret values before the document is evaluated
//     - Strip internal hostnames from documents submitted externally
//
//  2. FilterFinding: A finding message, before it leaves the server
//     - Redact secret names or values quoted by a rule message
//     - Mask internal identifiers in reports shared across teams
//
// # Open Source Behavior
//
// The default NopContentFilter passes all content through unchanged.
// This is appropriate for local single-user deployments where content
// screening isn't required.
//
// # Enterprise Implementation
//
// Enterprise versions implement organizational content policies and
// secret-scanning integrations.
//
// Example enterprise implementation:
//
//	type SecretRedactor struct {
//	    patterns []SecretPattern
//	}
//
//	func (f *SecretRedactor) FilterDocument(ctx context.Context, doc string) (*FilterResult, error) {
//	    result := &FilterResult{Original: doc, Filtered: doc}
//
//	    for _, pattern := range f.patterns {
//	        if matches := pattern.FindAll(doc); len(matches) > 0 {
//	            result.Filtered = pattern.Redact(result.Filtered)
//	            result.WasModified = true
//	            result.Detections = append(result.Detections, Detection{
//	                Type:   pattern.Name,
//	                Action: "redacted",
//	            })
//	        }
//	    }
//
//	    return result, nil
//	}
//
// # Blocking vs Transforming
//
// Filters can either:
//   - Transform: Modify content and allow it through (e.g., redact a key)
//   - Block: Reject the entire document (e.g., policy violation)
//
// To block, return a FilterResult with WasBlocked=true and BlockReason set.
// The caller should then return ErrDocumentBlocked to the user.
type ContentFilter interface {
	// FilterDocument processes a pipeline document before parsing.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - document: The raw pipeline document as submitted
	//
	// Returns:
	//   - *FilterResult: The filtered document and metadata
	//   - error: Non-nil only for filter failures (not for blocks)
	//
	// If WasBlocked is true, the caller should:
	//  1. Log the block via AuditLogger
	//  2. Return ErrDocumentBlocked to the user
	//  3. NOT parse or evaluate the document
	FilterDocument(ctx context.Context, document string) (*FilterResult, error)

	// FilterFinding processes a finding message before returning it.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - message: The finding message produced by a rule
	//
	// Returns:
	//   - *FilterResult: The filtered message and metadata
	//   - error: Non-nil only for filter failures (not for blocks)
	//
	// Common finding filtering:
	//   - Redact secret values a rule quoted from the document
	//   - Mask internal identifiers before reports leave the server
	FilterFinding(ctx context.Context, message string) (*FilterResult, error)
}

// NopContentFilter is the default content filter for open source.
//
// It passes all content through unchanged without any transformation
// or blocking. This is appropriate for local single-user deployments
// where content screening isn't required.
//
// Thread-safe: This implementation has no mutable state.
//
// Example:
//
//	filter := &NopContentFilter{}
//	result, err := filter.FilterDocument(ctx, "name: demo\nstages: []")
//	// result.Filtered == "name: demo\nstages: []" (unchanged)
//	// result.WasModified == false
//	// err == nil
type NopContentFilter struct{}

// FilterDocument returns the document unchanged.
//
// No transformations or blocking are applied.
func (f *NopContentFilter) FilterDocument(ctx context.Context, document string) (*FilterResult, error) {
	return &FilterResult{
		Original:    document,
		Filtered:    document,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// FilterFinding returns the message unchanged.
//
// No transformations or blocking are applied.
func (f *NopContentFilter) FilterFinding(ctx context.Context, message string) (*FilterResult, error) {
	return &FilterResult{
		Original:    message,
		Filtered:    message,
		WasModified: false,
		WasBlocked:  false,
		Detections:  nil,
	}, nil
}

// Compile-time interface compliance check.
// This ensures NopContentFilter implements ContentFilter.
var _ ContentFilter = (*NopContentFilter)(nil)
