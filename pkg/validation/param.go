// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for values that end up in
// store queries.
//
// Request parameters (state, district, crop and market names) are embedded
// in PostgREST filters and Flux queries. Validating them here prevents
// filter and Flux injection in every store adapter.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// paramPattern matches place, crop and market names.
// Allows: letters in any script, digits, spaces, and . , ' ( ) & / -
// Must start with a letter or digit. Max length: 80 characters.
var paramPattern = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} .,'()&/\-]{0,79}$`)

// tablePattern matches store table and measurement names.
var tablePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// ValidateParam validates a request parameter value.
//
// Example:
//
//	if err := validation.ValidateParam(district); err != nil {
//	    return fmt.Errorf("invalid district: %w", err)
//	}
//	// Safe to use in a Flux or PostgREST filter
func ValidateParam(value string) error {
	if value == "" {
		return fmt.Errorf("value cannot be empty")
	}
	if !paramPattern.MatchString(value) {
		return fmt.Errorf("invalid value %q (letters, digits, spaces and .,'()&/- only, max 80 chars)", value)
	}
	return nil
}

// SanitizeParam trims value, collapses inner whitespace and validates it.
func SanitizeParam(value string) (string, error) {
	normalized := strings.Join(strings.Fields(value), " ")
	if err := ValidateParam(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}

// ValidateTable validates a table or measurement name.
func ValidateTable(name string) error {
	if !tablePattern.MatchString(name) {
		return fmt.Errorf("invalid table name %q", name)
	}
	return nil
}
