// Package activation holds the mutable activation workflow state and the
// operations that mutate it. The store is the single source of truth for
// the portal UI; views are derived from snapshots, never from partial
// state.
package activation

import (
	apierrors "keyportal/internal/errors"
	"keyportal/internal/gateway"
	"keyportal/internal/keygen"
)

// State is one observable snapshot of the activation workflow. Callers
// only ever see before/after snapshots; operations are atomic from the
// UI's perspective.
type State struct {
	Key         string                    `json:"key"`
	Fingerprint string                    `json:"fingerprint"`
	Validation  *keygen.ValidationResult  `json:"validation"`
	License     *keygen.License           `json:"license"`
	Licenses    []gateway.LicenseSummary  `json:"licenses"`
	Machines    []keygen.Machine          `json:"machines"`
	Errors      []apierrors.APIError      `json:"errors"`
}

// clone copies the snapshot so subscribers cannot alias store-owned
// slices. Error Source pointers are shared on purpose: ClearError removes
// by identity.
func (s State) clone() State {
	out := s
	if s.Licenses != nil {
		out.Licenses = append([]gateway.LicenseSummary(nil), s.Licenses...)
	}
	if s.Machines != nil {
		out.Machines = append([]keygen.Machine(nil), s.Machines...)
	}
	if s.Errors != nil {
		out.Errors = append([]apierrors.APIError(nil), s.Errors...)
	}
	if s.Validation != nil {
		v := *s.Validation
		out.Validation = &v
	}
	if s.License != nil {
		l := *s.License
		out.License = &l
	}
	return out
}

// Identity is the authenticated principal produced by the external auth
// layer, available before any operation runs.
type Identity struct {
	Email string
	Name  string
}
