package activation

import (
	"context"
	"log/slog"

	apierrors "keyportal/internal/errors"
	"keyportal/internal/gateway"
	"keyportal/internal/keygen"
)

// Client is the remote surface the store's operations call. Every method
// reports failure as ApiError data; none of them return a Go error or
// panic, so operations stay total.
type Client interface {
	// QueryAndValidateLicenseKey resolves the device fingerprint for a key
	// owned by the user (relay phase one of validation).
	QueryAndValidateLicenseKey(ctx context.Context, key, email string) (string, []apierrors.APIError)
	// FetchLicenses lists the user's license name/key pairs via the relay.
	FetchLicenses(ctx context.Context, email string) ([]gateway.LicenseSummary, []apierrors.APIError)
	// ValidateLicenseKeyWithKey runs the upstream validate-key action.
	ValidateLicenseKeyWithKey(ctx context.Context, key, fingerprint string) (*keygen.ValidationResult, *keygen.License, []apierrors.APIError)
	// ListMachinesForLicense lists machines with the per-license credential.
	ListMachinesForLicense(ctx context.Context, licenseKey string) ([]keygen.Machine, []apierrors.APIError)
	// DeactivateMachineForLicense deletes one activation.
	DeactivateMachineForLicense(ctx context.Context, licenseKey, machineID string) []apierrors.APIError
}

// RelayService is the in-process gateway surface the portal client uses
// for credential-bearing aggregate calls.
type RelayService interface {
	ResolveFingerprintByUser(ctx context.Context, key, email string) (string, *apierrors.List)
	ListLicensesForUser(ctx context.Context, email string) ([]gateway.LicenseSummary, *apierrors.List)
}

// UpstreamClient is the key-scoped upstream surface the browser would
// call directly; validation and machine management never need the
// account token.
type UpstreamClient interface {
	ValidateKey(ctx context.Context, key, fingerprint string) (*keygen.ValidationResult, *keygen.License, []apierrors.APIError, error)
	ListMachinesForLicense(ctx context.Context, licenseKey string) ([]keygen.Machine, []apierrors.APIError, error)
	DeactivateMachine(ctx context.Context, licenseKey, machineID string) ([]apierrors.APIError, error)
}

// PortalClient implements Client over the gateway service and the
// upstream licensing client
type PortalClient struct {
	relay    RelayService
	upstream UpstreamClient
	logger   *slog.Logger
}

// NewPortalClient creates the store's remote client
func NewPortalClient(relay RelayService, upstream UpstreamClient, logger *slog.Logger) *PortalClient {
	return &PortalClient{
		relay:    relay,
		upstream: upstream,
		logger:   logger.With(slog.String("component", "portal_client")),
	}
}

// QueryAndValidateLicenseKey resolves the fingerprint through the relay
func (c *PortalClient) QueryAndValidateLicenseKey(ctx context.Context, key, email string) (string, []apierrors.APIError) {
	fingerprint, errList := c.relay.ResolveFingerprintByUser(ctx, key, email)
	if errList != nil {
		return "", errList.Errors
	}
	return fingerprint, nil
}

// FetchLicenses lists the user's licenses through the relay
func (c *PortalClient) FetchLicenses(ctx context.Context, email string) ([]gateway.LicenseSummary, []apierrors.APIError) {
	licenses, errList := c.relay.ListLicensesForUser(ctx, email)
	if errList != nil {
		return nil, errList.Errors
	}
	return licenses, nil
}

// ValidateLicenseKeyWithKey runs the upstream validate-key action,
// translating transport faults into Server Error data.
func (c *PortalClient) ValidateLicenseKeyWithKey(ctx context.Context, key, fingerprint string) (*keygen.ValidationResult, *keygen.License, []apierrors.APIError) {
	validation, license, apiErrs, err := c.upstream.ValidateKey(ctx, key, fingerprint)
	if err != nil {
		c.logger.ErrorContext(ctx, "validate-key failed",
			slog.String("error", err.Error()))
		return nil, nil, []apierrors.APIError{apierrors.ServerError(err.Error())}
	}
	if len(apiErrs) > 0 {
		return nil, nil, apiErrs
	}
	return validation, license, nil
}

// ListMachinesForLicense lists machines with the per-license credential
func (c *PortalClient) ListMachinesForLicense(ctx context.Context, licenseKey string) ([]keygen.Machine, []apierrors.APIError) {
	machines, apiErrs, err := c.upstream.ListMachinesForLicense(ctx, licenseKey)
	if err != nil {
		c.logger.ErrorContext(ctx, "machine listing failed",
			slog.String("error", err.Error()))
		return nil, []apierrors.APIError{apierrors.ServerError(err.Error())}
	}
	if len(apiErrs) > 0 {
		return nil, apiErrs
	}
	return machines, nil
}

// DeactivateMachineForLicense deletes one activation
func (c *PortalClient) DeactivateMachineForLicense(ctx context.Context, licenseKey, machineID string) []apierrors.APIError {
	apiErrs, err := c.upstream.DeactivateMachine(ctx, licenseKey, machineID)
	if err != nil {
		c.logger.ErrorContext(ctx, "machine deactivation failed",
			slog.String("machine_id", machineID),
			slog.String("error", err.Error()))
		return []apierrors.APIError{apierrors.ServerError(err.Error())}
	}
	return apiErrs
}
