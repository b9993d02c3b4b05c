// Package gateway implements the credential-bearing relay between the
// browser and the upstream licensing service. It aggregates multi-step,
// paginated upstream calls into single responses and normalizes every
// failure into an ApiError list; upstream credentials never reach the
// caller.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	apierrors "keyportal/internal/errors"
	"keyportal/internal/keygen"
)

// LicensingClient is the subset of the upstream client the gateway needs
type LicensingClient interface {
	ListLicensesByUser(ctx context.Context, email string, page, pageSize int) ([]keygen.License, []apierrors.APIError, error)
	ListMachinesByKey(ctx context.Context, key string) ([]keygen.Machine, []apierrors.APIError, error)
}

// LicenseSummary is the name/key projection returned to the browser
type LicenseSummary struct {
	Name string `json:"name"`
	Key  string `json:"key"`
}

// Service relays aggregated licensing calls. It is stateless across
// requests; every validation pass fetches fresh upstream state.
type Service struct {
	client   LicensingClient
	pageSize int
	logger   *slog.Logger
}

// NewService creates a gateway service over the given upstream client
func NewService(client LicensingClient, pageSize int, logger *slog.Logger) *Service {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Service{
		client:   client,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "gateway")),
	}
}

// ResolveFingerprintByUser walks the licenses owned by email looking for
// key, then resolves the fingerprint of the first machine activated under
// it. The walk is the ownership check: a key that exists but is not among
// the caller's licenses resolves to License not found, never to another
// user's fingerprint.
func (s *Service) ResolveFingerprintByUser(ctx context.Context, key, email string) (fingerprint string, errs *apierrors.List) {
	defer s.recoverToServerError(ctx, "resolve_fingerprint", &errs)

	license, errList := s.findOwnedLicense(ctx, key, email)
	if errList != nil {
		return "", errList
	}
	if license == nil {
		return "", apierrors.NewList(http.StatusOK, apierrors.LicenseNotFound())
	}

	machines, apiErrs, err := s.client.ListMachinesByKey(ctx, key)
	if err != nil {
		s.logger.ErrorContext(ctx, "machine lookup failed",
			slog.String("error", err.Error()))
		return "", apierrors.NewList(http.StatusOK, apierrors.LicenseCheckError())
	}
	if len(apiErrs) > 0 {
		return "", apierrors.NewList(http.StatusOK, apiErrs...)
	}
	if len(machines) == 0 {
		return "", apierrors.NewList(http.StatusOK, apierrors.MachineNotFound())
	}

	return machines[0].Fingerprint, nil
}

// ListLicensesForUser drains the user's license collection and projects
// name/key pairs. An exhausted collection with zero entries is reported as
// a No licenses error rather than an empty success.
func (s *Service) ListLicensesForUser(ctx context.Context, email string) (summaries []LicenseSummary, errs *apierrors.List) {
	defer s.recoverToServerError(ctx, "list_licenses", &errs)

	licenses, errList := s.drainLicenses(ctx, email)
	if errList != nil {
		return nil, errList
	}
	if len(licenses) == 0 {
		return nil, apierrors.NewList(http.StatusOK, apierrors.NoLicenses())
	}

	summaries = make([]LicenseSummary, 0, len(licenses))
	for _, l := range licenses {
		summaries = append(summaries, LicenseSummary{Name: l.Name, Key: l.Key})
	}
	return summaries, nil
}

// findOwnedLicense pages through email's licenses until key matches or the
// collection is exhausted. Returns (nil, nil) when the key is not owned.
func (s *Service) findOwnedLicense(ctx context.Context, key, email string) (*keygen.License, *apierrors.List) {
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			s.logger.ErrorContext(ctx, "license walk aborted",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			return nil, apierrors.NewList(http.StatusInternalServerError, apierrors.ServerError(err.Error()))
		}

		licenses, apiErrs, err := s.client.ListLicensesByUser(ctx, email, page, s.pageSize)
		if err != nil {
			s.logger.ErrorContext(ctx, "license listing failed",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			return nil, apierrors.NewList(http.StatusNotFound, apierrors.LicenseCheckError())
		}
		if len(apiErrs) > 0 {
			return nil, apierrors.NewList(http.StatusOK, apiErrs...)
		}
		// First empty page marks the end of the collection.
		if len(licenses) == 0 {
			return nil, nil
		}

		for _, l := range licenses {
			if l.Key == key {
				found := l
				return &found, nil
			}
		}
	}
}

// drainLicenses accumulates every page of email's licenses, stopping on
// the first empty page.
func (s *Service) drainLicenses(ctx context.Context, email string) ([]keygen.License, *apierrors.List) {
	var all []keygen.License
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			s.logger.ErrorContext(ctx, "license drain aborted",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			return nil, apierrors.NewList(http.StatusInternalServerError, apierrors.ServerError(err.Error()))
		}

		licenses, apiErrs, err := s.client.ListLicensesByUser(ctx, email, page, s.pageSize)
		if err != nil {
			s.logger.ErrorContext(ctx, "license listing failed",
				slog.Int("page", page),
				slog.String("error", err.Error()))
			return nil, apierrors.NewList(http.StatusNotFound, apierrors.LicenseCheckError())
		}
		if len(apiErrs) > 0 {
			return nil, apierrors.NewList(http.StatusOK, apiErrs...)
		}
		if len(licenses) == 0 {
			return all, nil
		}

		all = append(all, licenses...)
	}
}

// recoverToServerError converts a panic in a relay operation into a
// Server Error ApiError so no fault ever crosses the gateway boundary.
func (s *Service) recoverToServerError(ctx context.Context, operation string, errs **apierrors.List) {
	if r := recover(); r != nil {
		s.logger.ErrorContext(ctx, "relay operation panicked",
			slog.String("operation", operation),
			slog.Any("panic", r))
		*errs = apierrors.NewList(http.StatusInternalServerError,
			apierrors.ServerError(fmt.Sprintf("%v", r)))
	}
}
