package activation

import (
	"fmt"
	"net/url"

	apierrors "keyportal/internal/errors"
	"keyportal/internal/keygen"
)

// Kind identifies which portal screen a state resolves to
type Kind string

const (
	// KindKeyEntry shows the license selection / key entry screen
	KindKeyEntry Kind = "key_entry"
	// KindError shows the error table
	KindError Kind = "error"
	// KindLicense shows license info, optionally with the device manager
	KindLicense Kind = "license"
)

// View is the derived UI state. It is computed exclusively by
// ResolveView; no other view selection logic exists.
type View struct {
	Kind              Kind `json:"kind"`
	ShowDeviceManager bool `json:"showDeviceManager"`
	OfferRenew        bool `json:"offerRenew"`
}

// ResolveView maps a store snapshot to a view. It is pure and total:
// every reachable snapshot, including all-empty and all-error
// combinations, resolves to exactly one view.
func ResolveView(s State) View {
	// Errors take display precedence over everything else. A seat-limit
	// error additionally surfaces the device manager so the user can free
	// a seat without dismissing the error first.
	if len(s.Errors) > 0 {
		return View{
			Kind:              KindError,
			ShowDeviceManager: apierrors.HasCode(s.Errors, apierrors.CodeMachineLimitExceeded),
		}
	}

	if s.License == nil && s.Validation == nil {
		return View{Kind: KindKeyEntry}
	}

	if s.Validation != nil && s.Validation.Valid {
		return View{Kind: KindLicense, ShowDeviceManager: true}
	}

	var code string
	if s.Validation != nil {
		code = s.Validation.Code
	}

	switch code {
	case keygen.CodeFingerprintScopeMismatch, keygen.CodeNoMachine, keygen.CodeNoMachines:
		return View{Kind: KindLicense, OfferRenew: true}
	case keygen.CodeFingerprintScopeRequired:
		// An active license awaiting its first activation is usable; no
		// renewal prompt.
		return View{Kind: KindLicense, ShowDeviceManager: true}
	default:
		// Unknown or absent code: show full detail and offer renewal.
		return View{Kind: KindLicense, ShowDeviceManager: true, OfferRenew: true}
	}
}

// RenewMailto builds the mailto URL for a license renewal request
func RenewMailto(requestEmail string, identity Identity, licenseKey string) string {
	subject := "License Renewal Request"
	body := fmt.Sprintf(
		"Dear License Team,\n\nI would like to request the renewal of my license.\n\nSSO User Email: %s\nLicense Key: %s\n\nThank you.\n\n%s",
		identity.Email, licenseKey, identity.Name)

	return fmt.Sprintf("mailto:%s?subject=%s&body=%s",
		requestEmail, url.QueryEscape(subject), url.QueryEscape(body))
}
