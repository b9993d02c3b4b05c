package keygen

import (
	"time"

	apierrors "keyportal/internal/errors"
)

// License is the read-only copy of an upstream license record.
// The upstream service remains the system of record.
type License struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Key         string     `json:"key"`
	Status      string     `json:"status"`
	Created     time.Time  `json:"created"`
	Expiry      *time.Time `json:"expiry"` // nil means the license never expires
	MaxMachines int        `json:"maxMachines"`
}

// Machine is one activated device instance under a license
type Machine struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Platform    string    `json:"platform"`
	Fingerprint string    `json:"fingerprint"`
	Created     time.Time `json:"created"`
	LicenseID   string    `json:"licenseId"`
}

// ValidationResult describes why a key is or is not usable in the current
// device scope. Replaced wholesale on each validation pass.
type ValidationResult struct {
	Valid bool   `json:"valid"`
	Code  string `json:"code"`
}

// Validation codes reported by the upstream validate-key action
const (
	CodeValid                   = "VALID"
	CodeFingerprintScopeRequired = "FINGERPRINT_SCOPE_REQUIRED"
	CodeFingerprintScopeMismatch = "FINGERPRINT_SCOPE_MISMATCH"
	CodeNoMachine               = "NO_MACHINE"
	CodeNoMachines              = "NO_MACHINES"
	CodeMachineLimitExceeded    = "MACHINE_LIMIT_EXCEEDED"
)

// -------- wire format (JSON:API)

type wireError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Code   string `json:"code,omitempty"`
	Source *struct {
		Pointer string `json:"pointer,omitempty"`
	} `json:"source,omitempty"`
}

func (e wireError) toAPIError() apierrors.APIError {
	out := apierrors.APIError{
		Title:  e.Title,
		Detail: e.Detail,
		Code:   e.Code,
	}
	if e.Source != nil && e.Source.Pointer != "" {
		out.Source = &apierrors.Source{Pointer: e.Source.Pointer}
	}
	return out
}

func toAPIErrors(errs []wireError) []apierrors.APIError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]apierrors.APIError, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.toAPIError())
	}
	return out
}

type licenseResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Name        string     `json:"name"`
		Key         string     `json:"key"`
		Status      string     `json:"status"`
		Created     time.Time  `json:"created"`
		Expiry      *time.Time `json:"expiry"`
		MaxMachines int        `json:"maxMachines"`
	} `json:"attributes"`
}

func (r licenseResource) toLicense() License {
	return License{
		ID:          r.ID,
		Name:        r.Attributes.Name,
		Key:         r.Attributes.Key,
		Status:      r.Attributes.Status,
		Created:     r.Attributes.Created,
		Expiry:      r.Attributes.Expiry,
		MaxMachines: r.Attributes.MaxMachines,
	}
}

type machineResource struct {
	ID         string `json:"id"`
	Attributes struct {
		Name        string    `json:"name"`
		Platform    string    `json:"platform"`
		Fingerprint string    `json:"fingerprint"`
		Created     time.Time `json:"created"`
	} `json:"attributes"`
	Relationships struct {
		License struct {
			Data struct {
				ID string `json:"id"`
			} `json:"data"`
		} `json:"license"`
	} `json:"relationships"`
}

func (r machineResource) toMachine() Machine {
	return Machine{
		ID:          r.ID,
		Name:        r.Attributes.Name,
		Platform:    r.Attributes.Platform,
		Fingerprint: r.Attributes.Fingerprint,
		Created:     r.Attributes.Created,
		LicenseID:   r.Relationships.License.Data.ID,
	}
}

type listLicensesResponse struct {
	Data   []licenseResource `json:"data"`
	Errors []wireError       `json:"errors"`
}

type listMachinesResponse struct {
	Data   []machineResource `json:"data"`
	Errors []wireError       `json:"errors"`
}

type validateKeyRequest struct {
	Meta validateKeyMeta `json:"meta"`
}

type validateKeyMeta struct {
	Scope fingerprintScope `json:"scope"`
	Key   string           `json:"key"`
}

type fingerprintScope struct {
	Fingerprint string `json:"fingerprint"`
}

type validateKeyResponse struct {
	Meta *struct {
		Valid bool   `json:"valid"`
		Code  string `json:"code"`
	} `json:"meta"`
	Data   *licenseResource `json:"data"`
	Errors []wireError      `json:"errors"`
}
