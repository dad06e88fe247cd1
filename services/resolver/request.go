// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package resolver

import (
	"strings"

	"github.com/AleutianAI/AgriPortal/pkg/faults"
	"github.com/AleutianAI/AgriPortal/pkg/validation"
	"github.com/AleutianAI/AgriPortal/services/agri"
	"github.com/AleutianAI/AgriPortal/services/synthetic"
)

// Request identifies the data wanted: a kind plus filter parameters.
// It is immutable; accessors return copies.
type Request struct {
	kind   agri.Kind
	params map[string]string
}

// NewRequest builds a Request. Values are trimmed and inner whitespace is
// collapsed; blank values are dropped and reported by Validate if required.
func NewRequest(kind agri.Kind, params map[string]string) Request {
	p := make(map[string]string, len(params))
	for k, v := range params {
		v = strings.Join(strings.Fields(v), " ")
		if v == "" {
			continue
		}
		p[strings.TrimSpace(k)] = v
	}
	return Request{kind: kind, params: p}
}

// Kind returns the requested kind.
func (r Request) Kind() agri.Kind { return r.kind }

// Param returns one parameter value.
func (r Request) Param(name string) string { return r.params[name] }

// Params returns a copy of the parameters.
func (r Request) Params() map[string]string {
	out := make(map[string]string, len(r.params))
	for k, v := range r.params {
		out[k] = v
	}
	return out
}

// Signature is the normalized cache key: kind plus sorted, lower-cased
// key=value pairs.
func (r Request) Signature() string {
	return synthetic.Key(r.kind, r.params)
}

// Validate checks the request against its kind and returns the kind's Spec.
// Every failure matches faults.ErrInvalidRequest.
func (r Request) Validate() (agri.Spec, error) {
	spec, ok := agri.Lookup(r.kind)
	if !ok {
		return agri.Spec{}, faults.Invalid("unknown kind %q", r.kind)
	}
	for _, name := range spec.RequiredParams {
		if r.params[name] == "" {
			return agri.Spec{}, faults.Invalid("%s: missing required parameter %q", r.kind, name)
		}
	}
	for name, value := range r.params {
		if !spec.Allows(name) {
			return agri.Spec{}, faults.Invalid("%s: unknown parameter %q", r.kind, name)
		}
		if err := validation.ValidateParam(value); err != nil {
			return agri.Spec{}, faults.Invalid("%s: parameter %q: %v", r.kind, name, err)
		}
	}
	return spec, nil
}

// signatureFor builds the cache key a request with params would have.
func signatureFor(kind agri.Kind, params map[string]string) string {
	return NewRequest(kind, params).Signature()
}

// kindPrefix is the common prefix of every cache key of kind.
func kindPrefix(kind agri.Kind) string {
	return string(kind) + "|"
}
